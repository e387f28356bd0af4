package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgo-dev/flowgo/engine"
)

func TestRuntimeRegisterAndList(t *testing.T) {
	rt := NewRuntime()
	eng := engine.New()

	require.NoError(t, rt.Register(New(Config{Name: "b"}, eng)))
	require.NoError(t, rt.Register(New(Config{Name: "a"}, eng)))

	assert.Equal(t, []string{"b", "a"}, rt.List(), "registration order is preserved")

	err := rt.Register(New(Config{Name: "a"}, eng))
	assert.Error(t, err, "duplicate names are rejected")
}

func TestRuntimeGetUnknown(t *testing.T) {
	rt := NewRuntime()
	_, err := rt.Get("ghost")
	assert.Error(t, err)
}

func TestRuntimeUnregister(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.Register(New(Config{Name: "a"}, engine.New())))
	require.NoError(t, rt.Unregister("a"))
	assert.Empty(t, rt.List())
	assert.Error(t, rt.Unregister("a"))
}

func TestRuntimeLifecycleAndRouting(t *testing.T) {
	rt := NewRuntime()
	eng := engine.New()

	worker := New(Config{
		Name:    "worker",
		Initial: "idle",
		Transitions: []Transition{
			{From: "idle", Trigger: "start", Next: "working"},
		},
	}, eng)
	require.NoError(t, rt.Register(worker))

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	assert.Error(t, rt.Start(ctx), "double start is rejected")

	require.NoError(t, rt.Send("worker", "start", nil))
	assert.Error(t, rt.Send("ghost", "start", nil))

	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	snap, err := worker.Query(qctx)
	require.NoError(t, err)
	assert.Equal(t, "working", snap.State)

	sctx, scancel := context.WithTimeout(ctx, 2*time.Second)
	defer scancel()
	require.NoError(t, rt.Stop(sctx))
	assert.Error(t, rt.Stop(sctx), "double stop is rejected")
}

func TestRuntimeBroadcast(t *testing.T) {
	rt := NewRuntime()
	eng := engine.New()

	for _, name := range []string{"a", "b"} {
		require.NoError(t, rt.Register(New(Config{
			Name:    name,
			Initial: "idle",
			Transitions: []Transition{
				{From: "idle", Trigger: "wake", Next: "awake"},
			},
		}, eng)))
	}

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	require.NoError(t, rt.Broadcast("wake", nil))

	for _, name := range rt.List() {
		a, err := rt.Get(name)
		require.NoError(t, err)
		qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		snap, err := a.Query(qctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, "awake", snap.State)
	}
}
