package agent

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgo-dev/flowgo/effect"
	"github.com/flowgo-dev/flowgo/engine"
)

const queryTimeout = 2 * time.Second

func query(t *testing.T, a *Agent) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	snap, err := a.Query(ctx)
	require.NoError(t, err)
	return snap
}

func startAgent(t *testing.T, cfg Config, opts ...Option) *Agent {
	t.Helper()
	a := New(cfg, engine.New(), opts...)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a
}

func TestAgentStartsInInitialState(t *testing.T) {
	a := startAgent(t, Config{Name: "worker", Initial: "idle"})
	assert.Equal(t, "idle", a.State())
}

func TestAgentTransition(t *testing.T) {
	a := startAgent(t, Config{
		Name:    "worker",
		Initial: "idle",
		Transitions: []Transition{
			{From: "idle", Trigger: "start", Next: "working", Handler: effect.Put{Key: "status", Value: "busy"}},
			{From: "working", Trigger: "finish", Next: "idle"},
		},
	})

	require.NoError(t, a.Send("start", nil))
	snap := query(t, a)
	assert.Equal(t, "working", snap.State)
	v, _ := snap.Context.Get("status")
	assert.Equal(t, "busy", v)

	require.NoError(t, a.Send("finish", nil))
	assert.Equal(t, "idle", query(t, a).State)
}

func TestAgentUnregisteredTriggerLeavesStateUntouched(t *testing.T) {
	a := startAgent(t, Config{
		Name:    "worker",
		Initial: "idle",
		Transitions: []Transition{
			{From: "working", Trigger: "finish", Next: "idle"},
		},
	})

	// "finish" only applies in state working; in idle it is dropped.
	require.NoError(t, a.Send("finish", nil))
	assert.Equal(t, "idle", query(t, a).State)
}

func TestAgentWildcardTransition(t *testing.T) {
	a := startAgent(t, Config{
		Name:    "worker",
		Initial: "idle",
		Transitions: []Transition{
			{From: "idle", Trigger: "start", Next: "working"},
			{From: "*", Trigger: "reset", Next: "idle"},
		},
	})

	require.NoError(t, a.Send("start", nil))
	require.NoError(t, a.Send("reset", nil))
	assert.Equal(t, "idle", query(t, a).State)
}

func TestAgentStateAdvancesWhenHandlerFails(t *testing.T) {
	a := startAgent(t, Config{
		Name:    "worker",
		Initial: "idle",
		Transitions: []Transition{
			{From: "idle", Trigger: "start", Next: "working", Handler: effect.Unknown{Tag: "boom"}},
		},
	})

	require.NoError(t, a.Send("start", nil))
	snap := query(t, a)
	assert.Equal(t, "working", snap.State, "handler failure must not block the transition")
	_, ok := snap.Context.Get("status")
	assert.False(t, ok)
}

func TestAgentHandlerSeesMessagePayload(t *testing.T) {
	a := startAgent(t, Config{
		Name:    "worker",
		Initial: "idle",
		Transitions: []Transition{
			{From: "idle", Trigger: "assign", Next: "assigned", Handler: effect.Seq(
				effect.Get{Key: "msg.task"},
				effect.Put{Key: "accepted", Value: true},
			)},
		},
	})

	require.NoError(t, a.Send("assign", map[string]any{"task": "review"}))
	snap := query(t, a)
	assert.Equal(t, "assigned", snap.State)
	// msg.* keys are scoped to the handler, not persisted.
	_, ok := snap.Context.Get("msg.task")
	assert.False(t, ok)
}

func TestAgentBehaviorMergesThroughMailbox(t *testing.T) {
	bus := engine.NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	a := startAgent(t, Config{
		Name:    "worker",
		Initial: "idle",
		Transitions: []Transition{
			{From: "idle", Trigger: "observe", Next: "observing"},
		},
		Behaviors: []Behavior{
			{Name: "tally", Trigger: "observe", States: []string{"observing"}, Handler: effect.Increment{Key: "observations", Delta: 1}},
		},
	}, WithSink(bus))

	require.NoError(t, a.Send("observe", nil))

	// The behavior result is visible only after the agent has processed the
	// merge message; the merged event is the synchronization point.
	require.True(t, awaitTopic(t, events, "agent.behavior.merged"), "behavior merge never happened")

	snap := query(t, a)
	v, ok := snap.Context.Get("observations")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestAgentBehaviorRunsWithoutTransition(t *testing.T) {
	bus := engine.NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	a := startAgent(t, Config{
		Name:    "worker",
		Initial: "idle",
		Behaviors: []Behavior{
			{Name: "tally", Trigger: "observe", Handler: effect.Increment{Key: "observations", Delta: 1}},
		},
	}, WithSink(bus))

	// No transition is declared for "observe"; the behavior alone handles it
	// and the state never moves.
	require.NoError(t, a.Send("observe", nil))
	require.True(t, awaitTopic(t, events, "agent.behavior.merged"))

	snap := query(t, a)
	assert.Equal(t, "idle", snap.State)
	v, ok := snap.Context.Get("observations")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestAgentBehaviorStateFilter(t *testing.T) {
	bus := engine.NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	a := startAgent(t, Config{
		Name:    "worker",
		Initial: "idle",
		Transitions: []Transition{
			{From: "idle", Trigger: "ping", Next: "idle"},
		},
		Behaviors: []Behavior{
			{Name: "tally", Trigger: "ping", States: []string{"working"}, Handler: effect.Increment{Key: "pings", Delta: 1}},
		},
	}, WithSink(bus))

	require.NoError(t, a.Send("ping", nil))

	// The transition lands in idle, which the behavior excludes.
	require.True(t, awaitTopic(t, events, "agent.transition"))
	snap := query(t, a)
	_, ok := snap.Context.Get("pings")
	assert.False(t, ok)
}

func TestAgentBehaviorPatchDroppedAfterStopIsLogged(t *testing.T) {
	rec := &logRecorder{}
	b := Behavior{Name: "tally", Trigger: "observe", Handler: effect.Increment{Key: "observations", Delta: 1}}
	a := New(Config{Name: "worker", Initial: "idle", Behaviors: []Behavior{b}},
		engine.New(), WithLogger(log.New(rec, "", 0)))
	require.NoError(t, a.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	// The behavior outlived the loop: its patch has nowhere to land.
	a.runBehavior(context.Background(), b, &Message{ID: "m1", Trigger: "observe"})
	assert.Contains(t, rec.String(), "patch dropped")
}

func TestAgentQueryReflectsMetadata(t *testing.T) {
	a := startAgent(t, Config{
		Name:         "scout",
		Type:         "analyst",
		Style:        "cautious",
		Capabilities: []string{"search"},
	})

	snap := query(t, a)
	assert.Equal(t, "scout", snap.Agent)
	assert.Equal(t, "scout", snap.Context.GetString("agent.name", ""))
	assert.Equal(t, "analyst", snap.Context.GetString("agent.type", ""))
}

func TestAgentSendAfterStop(t *testing.T) {
	a := New(Config{Name: "worker"}, engine.New())
	require.NoError(t, a.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	assert.Error(t, a.Send("anything", nil))
}

func TestAgentDoubleStart(t *testing.T) {
	a := startAgent(t, Config{Name: "worker"})
	assert.Error(t, a.Start(context.Background()))
}

func TestAgentSnapshotRestore(t *testing.T) {
	restored := effect.NewContext()
	restored.Put("observations", 7)

	a := startAgent(t, Config{Name: "worker", Initial: "idle"},
		WithSnapshot("observing", restored))

	snap := query(t, a)
	assert.Equal(t, "observing", snap.State)
	v, _ := snap.Context.Get("observations")
	assert.Equal(t, 7, v)
}

// logRecorder is a goroutine-safe log sink.
type logRecorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *logRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *logRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// awaitTopic drains events until topic shows up or the timeout lapses.
func awaitTopic(t *testing.T, events <-chan engine.Event, topic string) bool {
	t.Helper()
	deadline := time.After(queryTimeout)
	for {
		select {
		case e := <-events:
			if e.Topic == topic {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
