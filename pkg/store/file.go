package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists snapshots as one JSON file per agent under a base
// directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(agentID string) string {
	return filepath.Join(s.baseDir, agentID+".json")
}

func (s *FileStore) Save(_ context.Context, snap *Snapshot) error {
	if err := validateID(snap.AgentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	// Write through a temp file so readers never see a partial snapshot.
	tmp := s.path(snap.AgentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path(snap.AgentID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: commit snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, agentID string) (*Snapshot, error) {
	if err := validateID(agentID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	data, err := os.ReadFile(s.path(agentID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Delete(_ context.Context, agentID string) error {
	if err := validateID(agentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	err := os.Remove(s.path(agentID))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
