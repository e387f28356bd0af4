// Package coordination evaluates the multi-agent coordination protocols:
// sequential, parallel, consensus, debate and hierarchical fan-out across
// peer specs. The engine dispatches coordinate descriptors here.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgo-dev/flowgo/collab"
	"github.com/flowgo-dev/flowgo/effect"
)

// Default bounds applied when the descriptor leaves them unset.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultThreshold     = 0.7
	DefaultMaxIterations = 3
)

// Status is the terminal status of a coordination outcome. StatusFailed (no
// consensus within the iteration budget) is a status, not an error; callers
// must branch on it explicitly.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAchieved  Status = "achieved"
	StatusFailed    Status = "failed"
	StatusResolved  Status = "resolved"
)

// PeerResult is one peer's contribution to a round.
type PeerResult struct {
	PeerID         string
	Role           string
	Output         string
	Recommendation string
	Confidence     float64
}

// Outcome is the result of one coordination effect.
type Outcome struct {
	SessionID  string
	Policy     effect.Policy
	Status     Status
	Score      float64
	Rounds     int
	Results    []PeerResult
	Resolution string
}

// Session is the bookkeeping for one in-flight coordination effect. It is
// created when the effect is accepted and deleted when it completes.
type Session struct {
	ID           string
	Participants []string
	Rounds       [][]PeerResult
	Score        float64
	StartedAt    time.Time
}

// Coordinator runs coordination protocols against the collaborator services.
// Safe for concurrent use by many agents.
type Coordinator struct {
	models   collab.ModelClient
	reasoner collab.Reasoner
	logger   *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a coordinator over the given collaborators.
func New(models collab.ModelClient, reasoner collab.Reasoner, opts ...Option) *Coordinator {
	c := &Coordinator{
		models:   models,
		reasoner: reasoner,
		logger:   log.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns a live session by id, or effect.ErrSessionNotFound once the
// coordination effect that owned it has completed.
func (c *Coordinator) Session(id string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, effect.ErrSessionNotFound
	}
	return s, nil
}

// Run evaluates one coordinate descriptor against the caller's context.
func (c *Coordinator) Run(ctx context.Context, spec effect.Coordinate, ectx *effect.Context) (*Outcome, error) {
	if len(spec.Peers) == 0 {
		return nil, &effect.CoordinationError{Cause: errors.New("no peers")}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session := c.openSession(spec.Peers)
	defer c.closeSession(session.ID)

	if ectx == nil {
		ectx = effect.NewContext()
	}

	var (
		outcome *Outcome
		err     error
	)
	switch spec.Policy {
	case effect.PolicySequential:
		outcome, err = c.sequential(ctx, session, spec, ectx)
	case effect.PolicyParallel:
		outcome, err = c.parallel(ctx, session, spec, ectx)
	case effect.PolicyConsensus:
		outcome, err = c.consensus(ctx, session, spec, ectx)
	case effect.PolicyDebate:
		outcome, err = c.debate(ctx, session, spec, ectx)
	case effect.PolicyHierarchical:
		outcome, err = c.hierarchical(ctx, session, spec, ectx)
	default:
		return nil, &effect.CoordinationError{Cause: fmt.Errorf("unknown policy %q", spec.Policy)}
	}
	if err != nil {
		return nil, err
	}
	outcome.SessionID = session.ID
	outcome.Policy = spec.Policy
	return outcome, nil
}

func (c *Coordinator) openSession(peers []effect.PeerSpec) *Session {
	participants := make([]string, len(peers))
	for i, p := range peers {
		participants[i] = p.ID
	}
	s := &Session{
		ID:           uuid.New().String(),
		Participants: participants,
		StartedAt:    time.Now().UTC(),
	}
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
	return s
}

func (c *Coordinator) closeSession(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}
