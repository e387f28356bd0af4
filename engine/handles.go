package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgo-dev/flowgo/effect"
)

// Handle is the bookkeeping record for one in-flight top-level execution.
// It exists from accept until completion or cancellation.
type Handle struct {
	ID        string
	Kind      effect.Kind
	Requester string
	StartedAt time.Time
}

type handleRegistry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{handles: make(map[string]Handle)}
}

func (r *handleRegistry) open(kind effect.Kind, requester string) Handle {
	h := Handle{
		ID:        uuid.New().String(),
		Kind:      kind,
		Requester: requester,
		StartedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()
	return h
}

func (r *handleRegistry) close(id string) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

func (r *handleRegistry) snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}
