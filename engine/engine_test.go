package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgo-dev/flowgo/collab"
	"github.com/flowgo-dev/flowgo/effect"
	"github.com/flowgo-dev/flowgo/internal/coordination"
)

// recordingSink collects published events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Topic
	}
	return out
}

func TestExecutePutYieldsPatch(t *testing.T) {
	eng := New()
	ectx := effect.NewContext()

	res, err := eng.Execute(context.Background(), effect.Put{Key: "status", Value: "ready"}, ectx)
	require.NoError(t, err)
	require.True(t, res.IsPatch())

	v, ok := res.Patch().Get("status")
	require.True(t, ok)
	assert.Equal(t, "ready", v)

	// The caller's context is never mutated by the engine.
	_, ok = ectx.Get("status")
	assert.False(t, ok)
}

func TestExecuteGet(t *testing.T) {
	eng := New()
	ectx := effect.NewContext()
	ectx.Put("task", "triage")

	res, err := eng.Execute(context.Background(), effect.Get{Key: "task"}, ectx)
	require.NoError(t, err)
	require.False(t, res.IsPatch())
	assert.Equal(t, "triage", res.Value())

	// A missing key yields a nil value, not an error.
	res, err = eng.Execute(context.Background(), effect.Get{Key: "missing"}, ectx)
	require.NoError(t, err)
	assert.Nil(t, res.Value())
}

func TestExecuteIncrement(t *testing.T) {
	eng := New()
	ectx := effect.NewContext()
	ectx.Put("count", 2)

	res, err := eng.Execute(context.Background(), effect.Increment{Key: "count", Delta: 3}, ectx)
	require.NoError(t, err)
	v, _ := res.Patch().Get("count")
	assert.Equal(t, 5.0, v)

	// Missing keys count as zero.
	res, err = eng.Execute(context.Background(), effect.Increment{Key: "fresh", Delta: 1}, ectx)
	require.NoError(t, err)
	v, _ = res.Patch().Get("fresh")
	assert.Equal(t, 1.0, v)

	// Non-numeric values fail.
	ectx.Put("name", "flowgo")
	_, err = eng.Execute(context.Background(), effect.Increment{Key: "name", Delta: 1}, ectx)
	var execErr *effect.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestExecuteUnknownEffect(t *testing.T) {
	eng := New()

	_, err := eng.Execute(context.Background(), effect.Unknown{Tag: "teleport"}, nil)
	var unknownErr *effect.UnknownEffectError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "teleport", unknownErr.Tag)
}

func TestExecuteEmitPublishes(t *testing.T) {
	sink := &recordingSink{}
	eng := New(WithSink(sink))

	_, err := eng.Execute(context.Background(), effect.Emit{
		Topic:   "order.accepted",
		Payload: map[string]any{"id": 42},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, []string{"order.accepted"}, sink.topics())
}

func TestExecuteReason(t *testing.T) {
	eng := New()
	ectx := effect.NewContext()

	res, err := eng.Execute(context.Background(), effect.Reason{
		Question: "should we roll back?",
		Steps:    []string{"check error rate", "check blast radius"},
	}, ectx)
	require.NoError(t, err)

	reasoning, ok := res.Value().(*collab.Reasoning)
	require.True(t, ok)
	assert.Len(t, reasoning.Steps, 2)
	assert.NotEmpty(t, reasoning.Conclusion)
	assert.Greater(t, reasoning.Confidence, 0.0)
}

func TestExecuteCoordinateConsensus(t *testing.T) {
	// Every simulated peer recommends the same thing, so consensus is
	// reached in the first round.
	eng := New(WithModelClient(collab.NewSimModel("approve")))
	ectx := effect.NewContext()
	ectx.Put("task", "review deployment plan")

	res, err := eng.Execute(context.Background(), effect.Coordinate{
		Policy:    effect.PolicyConsensus,
		Threshold: 0.9,
		Peers: []effect.PeerSpec{
			{ID: "a", Role: "reviewer"},
			{ID: "b", Role: "reviewer"},
			{ID: "c", Role: "reviewer"},
		},
	}, ectx)
	require.NoError(t, err)

	outcome, ok := res.Value().(*coordination.Outcome)
	require.True(t, ok)
	assert.Equal(t, coordination.StatusAchieved, outcome.Status)
	assert.Equal(t, "approve", outcome.Resolution)
	assert.Equal(t, 1, outcome.Rounds)
	assert.Equal(t, 1.0, outcome.Score)
}

func TestExecuteLearningOps(t *testing.T) {
	learner := collab.NewMemoryLearner()
	eng := New(WithLearner(learner))
	ctx := context.Background()

	res, err := eng.Execute(ctx, effect.LearnOutcome{AgentID: "triage", Subject: "rollback", Outcome: "succeeded"}, nil)
	require.NoError(t, err)
	assert.Equal(t, collab.Ack{OK: true}, res.Value())

	_, err = eng.Execute(ctx, effect.StorePattern{AgentID: "triage", Pattern: "roll back on error spike", Score: 0.9}, nil)
	require.NoError(t, err)

	res, err = eng.Execute(ctx, effect.AggregateInsights{AgentIDs: []string{"triage"}, Subject: "rollback"}, nil)
	require.NoError(t, err)
	insights, ok := res.Value().([]collab.Insight)
	require.True(t, ok)
	assert.NotEmpty(t, insights)
}

func TestExecuteBroadcastStoresAndEmits(t *testing.T) {
	sink := &recordingSink{}
	eng := New(WithSink(sink))

	res, err := eng.Execute(context.Background(), effect.Broadcast{
		AgentID: "scout",
		Topic:   "latency",
		Insight: "p99 spikes correlate with cache misses",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, collab.Ack{OK: true}, res.Value())
	assert.Equal(t, []string{"reasoning.latency"}, sink.topics())
}

func TestExecuteNilEffect(t *testing.T) {
	eng := New()
	_, err := eng.Execute(context.Background(), nil, nil)
	var unknownErr *effect.UnknownEffectError
	require.ErrorAs(t, err, &unknownErr)
}

func TestExecuteErrorsBelongToTaxonomy(t *testing.T) {
	eng := New()

	// An empty question makes the simulated reasoner fail with a plain
	// error; the engine must normalize it.
	_, err := eng.Execute(context.Background(), effect.Reason{Question: ""}, nil)
	require.Error(t, err)
	var execErr *effect.ExecutionError
	assert.True(t, errors.As(err, &execErr), "expected taxonomy error, got %T", err)
}

func TestExecutionHandles(t *testing.T) {
	eng := New()
	assert.Empty(t, eng.Executions())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.ExecuteFor(context.Background(), "tester", effect.Delay{Duration: testDelay}, nil)
	}()

	require.Eventually(t, func() bool {
		return len(eng.Executions()) == 1
	}, testWait, testTick)

	handles := eng.Executions()
	require.Len(t, handles, 1)
	assert.Equal(t, "tester", handles[0].Requester)
	assert.Equal(t, effect.KindDelay, handles[0].Kind)

	<-done
	assert.Empty(t, eng.Executions())
}
