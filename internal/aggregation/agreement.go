// Package aggregation scores agreement across peer recommendations for the
// consensus protocol.
package aggregation

import (
	"sort"
	"strings"
)

// Vote is one peer's recommendation with its confidence.
type Vote struct {
	PeerID         string
	Recommendation string
	Confidence     float64
}

// Tally is the outcome of scoring a round of votes.
type Tally struct {
	// Leading is the most common recommendation, in its original casing.
	Leading string
	// Agreement is count(leading) / count(peers with a recommendation).
	Agreement float64
	// Counted is how many peers actually produced a recommendation.
	Counted int
	// Counts maps normalized recommendations to their vote counts.
	Counts map[string]int
}

// Agree tallies one round of votes. Peers without a recommendation are
// excluded from the denominator. Ties break by higher summed confidence, then
// alphabetically so the result is deterministic.
func Agree(votes []Vote) Tally {
	counts := make(map[string]int)
	original := make(map[string]string)
	confidence := make(map[string]float64)
	counted := 0

	for _, v := range votes {
		normalized := normalize(v.Recommendation)
		if normalized == "" {
			continue
		}
		counted++
		counts[normalized]++
		confidence[normalized] += v.Confidence
		if _, seen := original[normalized]; !seen {
			original[normalized] = strings.TrimSpace(v.Recommendation)
		}
	}

	if counted == 0 {
		return Tally{Counts: counts}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var leading string
	for _, k := range keys {
		if leading == "" {
			leading = k
			continue
		}
		switch {
		case counts[k] > counts[leading]:
			leading = k
		case counts[k] == counts[leading] && confidence[k] > confidence[leading]:
			leading = k
		}
	}

	return Tally{
		Leading:   original[leading],
		Agreement: float64(counts[leading]) / float64(counted),
		Counted:   counted,
		Counts:    counts,
	}
}

// normalize folds case and whitespace so trivially different phrasings of the
// same recommendation count together.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
