// Package store persists agent snapshots: the agent's state-machine state
// and execution context, keyed by agent ID. Backends cover in-memory use,
// JSON files on disk and Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/flowgo-dev/flowgo/effect"
)

// Sentinel store errors.
var (
	ErrNotFound = errors.New("store: snapshot not found")
	ErrClosed   = errors.New("store: closed")
)

// Snapshot is one persisted agent checkpoint. Context holds the execution
// context as a plain map; restored contexts order their keys alphabetically.
type Snapshot struct {
	AgentID   string         `json:"agent_id"`
	State     string         `json:"state"`
	Context   map[string]any `json:"context"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FromAgent builds a snapshot from live agent state.
func FromAgent(agentID, state string, ectx *effect.Context) *Snapshot {
	snap := &Snapshot{AgentID: agentID, State: state, UpdatedAt: time.Now().UTC()}
	if ectx != nil {
		snap.Context = ectx.Map()
	}
	return snap
}

// RestoreContext rebuilds an execution context from the snapshot.
func (s *Snapshot) RestoreContext() *effect.Context {
	return effect.ContextFrom(s.Context)
}

// Store persists agent snapshots.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, agentID string) (*Snapshot, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, agentID string) error
	Close() error
}

// Agent IDs become file names and Redis key segments, so they are restricted
// to a path-safe alphabet.
var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("store: agent ID cannot be empty")
	}
	if len(id) > 256 {
		return fmt.Errorf("store: agent ID too long (max 256 characters)")
	}
	if !safeIDPattern.MatchString(id) {
		return fmt.Errorf("store: agent ID %q contains invalid characters", id)
	}
	return nil
}
