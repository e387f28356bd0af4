// Package collab defines the external collaborator contracts the engine
// depends on: the reasoning service, the language-model service and the
// learning service. The engine treats all of them as blocking, internally
// thread-safe services with no visibility into their implementation.
//
// Default implementations live alongside the contracts: deterministic
// simulated services for local runs and tests, an OpenAI-backed model client,
// and a rate-limiting decorator.
package collab

import (
	"context"
	"time"

	"github.com/flowgo-dev/flowgo/effect"
)

// StepResult is the outcome of one reasoning step.
type StepResult struct {
	Step   string
	Output string
	Score  float64
}

// Reasoning is the reasoning service's answer to a question.
type Reasoning struct {
	Steps      []StepResult
	Conclusion string
	Confidence float64
}

// Reasoner works through a question step by step against a caller context.
// Implementations must be safe for concurrent use.
type Reasoner interface {
	ReasonAbout(ctx context.Context, question string, steps []string, ectx *effect.Context) (*Reasoning, error)
}

// CompletionRequest describes one language-model invocation.
type CompletionRequest struct {
	Provider    string
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is a language-model response with its provenance.
type Completion struct {
	Content  string
	Provider string
	Model    string
	Usage    Usage
}

// ModelClient invokes a language model. Implementations must be safe for
// concurrent use across many agents and coordination rounds.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Ack is the acknowledgement returned by learning operations.
type Ack struct {
	OK bool
}

// Insight is one stored observation retrievable across agents.
type Insight struct {
	AgentID    string
	Subject    string
	Outcome    string
	RecordedAt time.Time
}

// Learner records outcomes and behavior adjustments and answers cross-agent
// insight queries. Implementations must be safe for concurrent use.
type Learner interface {
	RecordOutcome(ctx context.Context, agentID, subject, outcome string) error
	UpdateBehaviorModel(ctx context.Context, agentID string, adjustment map[string]any) error
	StoreReasoningPattern(ctx context.Context, agentID, pattern string, score float64) error
	Insights(ctx context.Context, agentIDs []string, subject string) ([]Insight, error)
}
