package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgreeMajority(t *testing.T) {
	tally := Agree([]Vote{
		{PeerID: "a", Recommendation: "approve", Confidence: 0.8},
		{PeerID: "b", Recommendation: "approve", Confidence: 0.7},
		{PeerID: "c", Recommendation: "reject", Confidence: 0.9},
	})

	assert.Equal(t, "approve", tally.Leading)
	assert.InDelta(t, 2.0/3.0, tally.Agreement, 1e-9)
	assert.Equal(t, 3, tally.Counted)
}

func TestAgreeNormalizesCaseAndWhitespace(t *testing.T) {
	tally := Agree([]Vote{
		{PeerID: "a", Recommendation: "Approve  The Plan"},
		{PeerID: "b", Recommendation: "approve the plan"},
	})

	assert.Equal(t, 1.0, tally.Agreement)
	assert.Equal(t, "Approve  The Plan", tally.Leading, "original casing of first vote wins")
}

func TestAgreeTieBreaksByConfidence(t *testing.T) {
	tally := Agree([]Vote{
		{PeerID: "a", Recommendation: "approve", Confidence: 0.5},
		{PeerID: "b", Recommendation: "reject", Confidence: 0.9},
	})

	assert.Equal(t, "reject", tally.Leading)
	assert.Equal(t, 0.5, tally.Agreement)
}

func TestAgreeTieBreaksAlphabeticallyOnEqualConfidence(t *testing.T) {
	tally := Agree([]Vote{
		{PeerID: "a", Recommendation: "revise", Confidence: 0.5},
		{PeerID: "b", Recommendation: "approve", Confidence: 0.5},
	})

	assert.Equal(t, "approve", tally.Leading)
}

func TestAgreeSkipsEmptyRecommendations(t *testing.T) {
	tally := Agree([]Vote{
		{PeerID: "a", Recommendation: "approve"},
		{PeerID: "b", Recommendation: "   "},
	})

	assert.Equal(t, 1, tally.Counted)
	assert.Equal(t, 1.0, tally.Agreement)
}

func TestAgreeNoVotes(t *testing.T) {
	tally := Agree(nil)
	assert.Equal(t, 0, tally.Counted)
	assert.Equal(t, "", tally.Leading)
	assert.Zero(t, tally.Agreement)
}
