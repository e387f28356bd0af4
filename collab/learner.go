package collab

import (
	"context"
	"sync"
	"time"
)

// MemoryLearner is an in-memory learning service safe for concurrent use by
// many agents and coordination rounds.
type MemoryLearner struct {
	mu       sync.RWMutex
	outcomes map[string][]Insight       // agent id -> recorded outcomes
	behavior map[string]map[string]any  // agent id -> behavior model
	patterns map[string][]storedPattern // agent id -> reasoning patterns
}

type storedPattern struct {
	pattern string
	score   float64
}

// NewMemoryLearner creates an empty in-memory learning service.
func NewMemoryLearner() *MemoryLearner {
	return &MemoryLearner{
		outcomes: make(map[string][]Insight),
		behavior: make(map[string]map[string]any),
		patterns: make(map[string][]storedPattern),
	}
}

// RecordOutcome stores how something an agent did turned out.
func (l *MemoryLearner) RecordOutcome(ctx context.Context, agentID, subject, outcome string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[agentID] = append(l.outcomes[agentID], Insight{
		AgentID:    agentID,
		Subject:    subject,
		Outcome:    outcome,
		RecordedAt: time.Now().UTC(),
	})
	return nil
}

// UpdateBehaviorModel merges an adjustment into an agent's behavior model.
func (l *MemoryLearner) UpdateBehaviorModel(ctx context.Context, agentID string, adjustment map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	model, ok := l.behavior[agentID]
	if !ok {
		model = make(map[string]any)
		l.behavior[agentID] = model
	}
	for k, v := range adjustment {
		model[k] = v
	}
	return nil
}

// StoreReasoningPattern stores a reasoning pattern with its quality score.
func (l *MemoryLearner) StoreReasoningPattern(ctx context.Context, agentID, pattern string, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patterns[agentID] = append(l.patterns[agentID], storedPattern{pattern: pattern, score: score})
	return nil
}

// Insights returns outcomes recorded by the given agents, optionally filtered
// by subject. An empty agent list queries all agents.
func (l *MemoryLearner) Insights(ctx context.Context, agentIDs []string, subject string) ([]Insight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := agentIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(l.outcomes))
		for id := range l.outcomes {
			ids = append(ids, id)
		}
	}

	var out []Insight
	for _, id := range ids {
		for _, insight := range l.outcomes[id] {
			if subject == "" || insight.Subject == subject {
				out = append(out, insight)
			}
		}
	}
	return out, nil
}

// BehaviorModel returns a copy of an agent's behavior model.
func (l *MemoryLearner) BehaviorModel(agentID string) map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]any, len(l.behavior[agentID]))
	for k, v := range l.behavior[agentID] {
		out[k] = v
	}
	return out
}
