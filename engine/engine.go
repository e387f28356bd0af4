package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgo-dev/flowgo/collab"
	"github.com/flowgo-dev/flowgo/effect"
	"github.com/flowgo-dev/flowgo/internal/coordination"
	"github.com/flowgo-dev/flowgo/internal/observability"
	obs "github.com/flowgo-dev/flowgo/pkg/observability"
)

// DefaultTimeout bounds every top-level Execute call unless overridden.
const DefaultTimeout = 30 * time.Second

// Coordination result types, re-exported so callers can inspect the value a
// coordinate effect yields without reaching into internal packages.
type (
	Outcome    = coordination.Outcome
	PeerResult = coordination.PeerResult
)

// DefaultRetryDelay is the base inter-attempt delay when a retry descriptor
// leaves it unset.
const DefaultRetryDelay = 50 * time.Millisecond

// Engine interprets effect descriptors against execution contexts.
type Engine struct {
	reasoner    collab.Reasoner
	models      collab.ModelClient
	learner     collab.Learner
	coordinator *coordination.Coordinator
	sink        Sink
	logger      *log.Logger
	timeout     time.Duration
	breakers    *breakerRegistry
	handles     *handleRegistry
}

// Option configures an Engine.
type Option func(*Engine)

// WithReasoner sets the reasoning collaborator.
func WithReasoner(r collab.Reasoner) Option {
	return func(e *Engine) { e.reasoner = r }
}

// WithModelClient sets the language-model collaborator.
func WithModelClient(m collab.ModelClient) Option {
	return func(e *Engine) { e.models = m }
}

// WithLearner sets the learning collaborator.
func WithLearner(l collab.Learner) Option {
	return func(e *Engine) { e.learner = l }
}

// WithSink sets the event sink.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine's logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTimeout bounds every top-level Execute call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithBreakerConfig tunes the shared circuit breakers.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(e *Engine) { e.breakers = newBreakerRegistry(cfg) }
}

// New creates an engine. Collaborators default to the deterministic
// simulated services so an engine with no options is fully functional.
func New(opts ...Option) *Engine {
	e := &Engine{
		reasoner: collab.NewSimReasoner(),
		models:   collab.NewSimModel(),
		learner:  collab.NewMemoryLearner(),
		sink:     NopSink{},
		logger:   log.Default(),
		timeout:  DefaultTimeout,
		breakers: newBreakerRegistry(BreakerConfig{}),
		handles:  newHandleRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.coordinator = coordination.New(e.models, e.reasoner, coordination.WithLogger(e.logger))
	return e
}

// Sink returns the engine's event sink so agents can publish lifecycle
// notifications through the same channel effects do.
func (e *Engine) Sink() Sink { return e.sink }

// Executions returns the handles of all in-flight top-level executions.
func (e *Engine) Executions() []Handle { return e.handles.snapshot() }

// Session resolves a live coordination session by id.
func (e *Engine) Session(id string) (*coordination.Session, error) {
	return e.coordinator.Session(id)
}

// Execute evaluates eff against ectx. It never mutates ectx: patch-shaped
// results are returned for the caller to merge. Every error is a value from
// the effect error taxonomy and the call is bounded by the engine timeout.
func (e *Engine) Execute(ctx context.Context, eff effect.Effect, ectx *effect.Context) (effect.Result, error) {
	return e.ExecuteFor(ctx, "", eff, ectx)
}

// ExecuteFor is Execute with the requester recorded on the execution handle.
func (e *Engine) ExecuteFor(ctx context.Context, requester string, eff effect.Effect, ectx *effect.Context) (res effect.Result, err error) {
	if eff == nil {
		return effect.Result{}, &effect.UnknownEffectError{Tag: ""}
	}
	if ectx == nil {
		ectx = effect.NewContext()
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	handle := e.handles.open(eff.Kind(), requester)
	defer e.handles.close(handle.ID)
	obs.ExecutionStarted()
	defer obs.ExecutionFinished()

	ctx, span := observability.StartSpan(ctx, "engine.execute",
		trace.WithAttributes(
			attribute.String("effect.kind", string(eff.Kind())),
			attribute.String("effect.requester", requester),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &effect.ExecutionError{Cause: fmt.Errorf("panic: %v", r)}
		}
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
		}
		obs.RecordEffectExecution(string(eff.Kind()), status, time.Since(start))
	}()

	res, err = e.eval(ctx, eff, ectx)
	if err != nil {
		err = effect.Failed(err)
	}
	return res, err
}

// eval dispatches one descriptor. The switch over the closed descriptor set
// is exhaustive; anything else is an unknown effect.
func (e *Engine) eval(ctx context.Context, eff effect.Effect, ectx *effect.Context) (effect.Result, error) {
	if err := ctx.Err(); err != nil {
		return effect.Result{}, ctxErr(err)
	}

	switch v := eff.(type) {
	case effect.Log:
		e.logger.Printf("[%s] %s", levelOf(v.Level), v.Message)
		return effect.PatchResult(nil), nil

	case effect.Delay:
		if err := sleep(ctx, v.Duration); err != nil {
			return effect.Result{}, err
		}
		return effect.PatchResult(nil), nil

	case effect.Emit:
		e.sink.Publish(Event{Topic: v.Topic, Payload: v.Payload})
		return effect.PatchResult(nil), nil

	case effect.Get:
		value, _ := ectx.Get(v.Key)
		return effect.ValueResult(value), nil

	case effect.Put:
		patch := effect.NewContext()
		patch.Put(v.Key, v.Value)
		return effect.PatchResult(patch), nil

	case effect.Increment:
		current, err := numericOf(ectx, v.Key)
		if err != nil {
			return effect.Result{}, &effect.ExecutionError{Cause: err}
		}
		patch := effect.NewContext()
		patch.Put(v.Key, current+v.Delta)
		return effect.PatchResult(patch), nil

	case effect.Reason:
		reasoning, err := e.reasoner.ReasonAbout(ctx, v.Question, v.Steps, ectx)
		if err != nil {
			return effect.Result{}, effect.Failed(err)
		}
		return effect.ValueResult(reasoning), nil

	case effect.CallModel:
		completion, err := e.models.Complete(ctx, collab.CompletionRequest{
			Provider:    v.Provider,
			Model:       v.Model,
			Prompt:      v.Prompt,
			Temperature: v.Temperature,
			MaxTokens:   v.MaxTokens,
		})
		if err != nil {
			return effect.Result{}, effect.Failed(err)
		}
		return effect.ValueResult(completion), nil

	case effect.Coordinate:
		outcome, err := e.coordinator.Run(ctx, v, ectx)
		if err != nil {
			return effect.Result{}, err
		}
		obs.RecordCoordinationOutcome(string(v.Policy), string(outcome.Status))
		return effect.ValueResult(outcome), nil

	case effect.Broadcast:
		if err := e.learner.StoreReasoningPattern(ctx, v.AgentID, v.Insight, 1.0); err != nil {
			return effect.Result{}, effect.Failed(err)
		}
		e.sink.Publish(Event{
			Topic:   "reasoning." + v.Topic,
			Payload: map[string]any{"agent": v.AgentID, "insight": v.Insight},
		})
		return effect.ValueResult(collab.Ack{OK: true}), nil

	case effect.AggregateInsights:
		insights, err := e.learner.Insights(ctx, v.AgentIDs, v.Subject)
		if err != nil {
			return effect.Result{}, effect.Failed(err)
		}
		return effect.ValueResult(insights), nil

	case effect.Escalate:
		e.sink.Publish(Event{
			Topic:   "escalation",
			Payload: map[string]any{"reason": v.Reason, "severity": v.Severity},
		})
		return effect.ValueResult(collab.Ack{OK: true}), nil

	case effect.Sequence:
		return e.sequence(ctx, v, ectx)

	case effect.Parallel:
		return e.parallel(ctx, v, ectx)

	case effect.Race:
		return e.race(ctx, v, ectx)

	case effect.Retry:
		return e.retry(ctx, v, ectx)

	case effect.Compensate:
		return e.compensate(ctx, v, ectx)

	case effect.Timeout:
		return e.timeoutEval(ctx, v, ectx)

	case effect.Breaker:
		return e.breakerEval(ctx, v, ectx)

	case effect.LearnOutcome:
		if err := e.learner.RecordOutcome(ctx, v.AgentID, v.Subject, v.Outcome); err != nil {
			return effect.Result{}, effect.Failed(err)
		}
		return effect.ValueResult(collab.Ack{OK: true}), nil

	case effect.UpdateBehavior:
		if err := e.learner.UpdateBehaviorModel(ctx, v.AgentID, v.Adjustment); err != nil {
			return effect.Result{}, effect.Failed(err)
		}
		return effect.ValueResult(collab.Ack{OK: true}), nil

	case effect.StorePattern:
		if err := e.learner.StoreReasoningPattern(ctx, v.AgentID, v.Pattern, v.Score); err != nil {
			return effect.Result{}, effect.Failed(err)
		}
		return effect.ValueResult(collab.Ack{OK: true}), nil

	case effect.Unknown:
		return effect.Result{}, &effect.UnknownEffectError{Tag: v.Tag}

	default:
		return effect.Result{}, &effect.UnknownEffectError{Tag: string(eff.Kind())}
	}
}

// sleep waits for d, honoring cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctxErr(ctx.Err())
	}
}

// ctxErr maps a context error onto the taxonomy: deadline expiry is a
// timeout, anything else is an execution failure.
func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return effect.ErrTimeoutExceeded
	}
	return &effect.ExecutionError{Cause: err}
}

func levelOf(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

func numericOf(ectx *effect.Context, key string) (float64, error) {
	value, ok := ectx.Get(key)
	if !ok || value == nil {
		return 0, nil
	}
	switch n := value.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("increment %q: value %T is not numeric", key, value)
	}
}
