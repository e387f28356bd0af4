package effect

import "time"

// Kind identifies an effect descriptor variant.
type Kind string

// Descriptor kinds. The set is closed: the engine dispatches with an
// exhaustive switch and anything outside it yields an unknown-effect error.
const (
	KindLog       Kind = "log"
	KindDelay     Kind = "delay"
	KindEmit      Kind = "emit"
	KindGet       Kind = "get"
	KindPut       Kind = "put"
	KindIncrement Kind = "increment"

	KindReason            Kind = "reason"
	KindCallModel         Kind = "call_model"
	KindCoordinate        Kind = "coordinate"
	KindBroadcast         Kind = "broadcast"
	KindAggregateInsights Kind = "aggregate_insights"
	KindEscalate          Kind = "escalate"

	KindSequence   Kind = "sequence"
	KindParallel   Kind = "parallel"
	KindRace       Kind = "race"
	KindRetry      Kind = "retry"
	KindCompensate Kind = "compensate"
	KindTimeout    Kind = "timeout"
	KindBreaker    Kind = "circuit_breaker"

	KindLearnOutcome   Kind = "learn"
	KindUpdateBehavior Kind = "update_behavior"
	KindStorePattern   Kind = "store_pattern"
)

// Effect is an immutable, arbitrarily nestable description of one unit of
// work. Implementations are the closed set of descriptor structs in this
// package.
type Effect interface {
	Kind() Kind
	isEffect()
}

// Policy selects a coordination protocol.
type Policy string

// Coordination policies.
const (
	PolicySequential   Policy = "sequential"
	PolicyParallel     Policy = "parallel"
	PolicyConsensus    Policy = "consensus"
	PolicyDebate       Policy = "debate"
	PolicyHierarchical Policy = "hierarchical"
)

// PeerSpec describes one participant of a coordination protocol.
type PeerSpec struct {
	ID           string   `yaml:"id"`
	Role         string   `yaml:"role"`
	Model        string   `yaml:"model"`
	Capabilities []string `yaml:"capabilities"`
	Style        string   `yaml:"style"`
}

// Primitives.

// Log writes a message at the given level through the engine's logger.
type Log struct {
	Level   string
	Message string
}

// Delay pauses for the given duration, honoring cancellation.
type Delay struct {
	Duration time.Duration
}

// Emit publishes an event to the engine's event sink.
type Emit struct {
	Topic   string
	Payload map[string]any
}

// Get reads a context key and yields it as an opaque value result.
// A missing key yields a nil value, not an error.
type Get struct {
	Key string
}

// Put yields a one-key context patch.
type Put struct {
	Key   string
	Value any
}

// Increment yields a patch with Key set to its current numeric value plus
// Delta. A missing key counts as zero; a non-numeric value fails.
type Increment struct {
	Key   string
	Delta float64
}

// Collaborator calls.

// Reason asks the reasoning collaborator to work through Steps on Question.
type Reason struct {
	Question string
	Steps    []string
}

// CallModel invokes the language-model collaborator.
type CallModel struct {
	Provider    string
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Coordinate fans out across Peers under the given Policy.
type Coordinate struct {
	Peers         []PeerSpec
	Policy        Policy
	Threshold     float64
	MaxIterations int
	Timeout       time.Duration
}

// Broadcast publishes a reasoning insight for other agents to pick up.
type Broadcast struct {
	AgentID string
	Topic   string
	Insight string
}

// AggregateInsights queries the learning collaborator for insights stored by
// the given agents about Subject.
type AggregateInsights struct {
	AgentIDs []string
	Subject  string
}

// Escalate hands a decision to a human operator via the event sink.
type Escalate struct {
	Reason   string
	Severity string
}

// Combinators.

// Sequence runs Effects left to right, threading the merged context forward.
// The first failure short-circuits.
type Sequence struct {
	Effects []Effect
}

// Parallel runs Effects concurrently against the same starting context, waits
// for all of them and merges their patches (last writer wins). Any failure
// fails the whole operation.
type Parallel struct {
	Effects []Effect
}

// Race runs Effects concurrently; the first success wins and the rest are
// cancelled. If nothing succeeds the race fails with a dedicated error.
// Timeout, when positive, bounds the whole race.
type Race struct {
	Effects []Effect
	Timeout time.Duration
}

// Retry re-runs Inner up to Attempts times, sleeping BaseDelay doubled after
// each failed attempt.
type Retry struct {
	Inner     Effect
	Attempts  int
	BaseDelay time.Duration
}

// Compensate runs Primary; on failure it runs Fallback against the original
// context and flags a successful fallback result as compensated.
type Compensate struct {
	Primary  Effect
	Fallback Effect
}

// Timeout bounds Inner to Duration.
type Timeout struct {
	Inner    Effect
	Duration time.Duration
}

// Breaker guards Inner with a shared per-Key circuit breaker.
type Breaker struct {
	Inner Effect
	Key   string
}

// Learning operations.

// LearnOutcome records how something the agent did turned out.
type LearnOutcome struct {
	AgentID string
	Subject string
	Outcome string
}

// UpdateBehavior adjusts an agent's behavior model.
type UpdateBehavior struct {
	AgentID    string
	Adjustment map[string]any
}

// StorePattern stores a reasoning pattern with a quality score.
type StorePattern struct {
	AgentID string
	Pattern string
	Score   float64
}

// Unknown preserves an unrecognized descriptor tag, typically from decoded
// YAML. Executing it yields an unknown-effect error rather than a crash.
type Unknown struct {
	Tag string
}

func (Log) Kind() Kind               { return KindLog }
func (Delay) Kind() Kind             { return KindDelay }
func (Emit) Kind() Kind              { return KindEmit }
func (Get) Kind() Kind               { return KindGet }
func (Put) Kind() Kind               { return KindPut }
func (Increment) Kind() Kind         { return KindIncrement }
func (Reason) Kind() Kind            { return KindReason }
func (CallModel) Kind() Kind         { return KindCallModel }
func (Coordinate) Kind() Kind        { return KindCoordinate }
func (Broadcast) Kind() Kind         { return KindBroadcast }
func (AggregateInsights) Kind() Kind { return KindAggregateInsights }
func (Escalate) Kind() Kind          { return KindEscalate }
func (Sequence) Kind() Kind          { return KindSequence }
func (Parallel) Kind() Kind          { return KindParallel }
func (Race) Kind() Kind              { return KindRace }
func (Retry) Kind() Kind             { return KindRetry }
func (Compensate) Kind() Kind        { return KindCompensate }
func (Timeout) Kind() Kind           { return KindTimeout }
func (Breaker) Kind() Kind           { return KindBreaker }
func (LearnOutcome) Kind() Kind      { return KindLearnOutcome }
func (UpdateBehavior) Kind() Kind    { return KindUpdateBehavior }
func (StorePattern) Kind() Kind      { return KindStorePattern }
func (u Unknown) Kind() Kind         { return Kind(u.Tag) }

func (Log) isEffect()               {}
func (Delay) isEffect()             {}
func (Emit) isEffect()              {}
func (Get) isEffect()               {}
func (Put) isEffect()               {}
func (Increment) isEffect()         {}
func (Reason) isEffect()            {}
func (CallModel) isEffect()         {}
func (Coordinate) isEffect()        {}
func (Broadcast) isEffect()         {}
func (AggregateInsights) isEffect() {}
func (Escalate) isEffect()          {}
func (Sequence) isEffect()          {}
func (Parallel) isEffect()          {}
func (Race) isEffect()              {}
func (Retry) isEffect()             {}
func (Compensate) isEffect()        {}
func (Timeout) isEffect()           {}
func (Breaker) isEffect()           {}
func (LearnOutcome) isEffect()      {}
func (UpdateBehavior) isEffect()    {}
func (StorePattern) isEffect()      {}
func (Unknown) isEffect()           {}

// Seq is shorthand for a Sequence of effects.
func Seq(effects ...Effect) Sequence {
	return Sequence{Effects: effects}
}

// Par is shorthand for a Parallel of effects.
func Par(effects ...Effect) Parallel {
	return Parallel{Effects: effects}
}
