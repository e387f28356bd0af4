package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgo-dev/flowgo/effect"
)

// storeUnderTest runs the shared contract suite against one backend.
func storeUnderTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ectx := effect.NewContext()
	ectx.Put("status", "reviewing")
	ectx.Put("count", 3.0)

	require.NoError(t, s.Save(ctx, FromAgent("triage", "working", ectx)))

	snap, err := s.Load(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, "triage", snap.AgentID)
	assert.Equal(t, "working", snap.State)
	assert.False(t, snap.UpdatedAt.IsZero())

	restored := snap.RestoreContext()
	assert.Equal(t, "reviewing", restored.GetString("status", ""))

	// Overwrite is allowed.
	require.NoError(t, s.Save(ctx, FromAgent("triage", "idle", nil)))
	snap, err = s.Load(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, "idle", snap.State)

	require.NoError(t, s.Save(ctx, FromAgent("reviewer", "idle", nil)))
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"reviewer", "triage"}, ids)

	require.NoError(t, s.Delete(ctx, "reviewer"))
	assert.ErrorIs(t, s.Delete(ctx, "reviewer"), ErrNotFound)

	// IDs that could escape the namespace are rejected.
	assert.Error(t, s.Save(ctx, FromAgent("../evil", "x", nil)))
	assert.Error(t, s.Save(ctx, FromAgent("", "x", nil)))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	storeUnderTest(t, s)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Save(context.Background(), FromAgent("a", "x", nil)), ErrClosed)
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	storeUnderTest(t, s)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, FromAgent("triage", "working", nil)))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	snap, err := reopened.Load(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, "working", snap.State)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client)
	storeUnderTest(t, s)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client)

	require.NoError(t, s.Save(context.Background(), FromAgent("triage", "idle", nil)))
	assert.True(t, mr.Exists("flowgo:ctx:triage"))
}
