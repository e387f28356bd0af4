package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps snapshots in process memory. It is the default backend
// and the one tests use.
type MemoryStore struct {
	mu     sync.RWMutex
	snaps  map[string]*Snapshot
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	if err := validateID(snap.AgentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cp := *snap
	s.snaps[snap.AgentID] = &cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, agentID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	snap, ok := s.snaps[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Delete(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.snaps[agentID]; !ok {
		return ErrNotFound
	}
	delete(s.snaps, agentID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.snaps = nil
	return nil
}
