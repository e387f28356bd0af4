package agent

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgo-dev/flowgo/effect"
	"github.com/flowgo-dev/flowgo/engine"
	obs "github.com/flowgo-dev/flowgo/pkg/observability"
)

// Executor evaluates effect descriptors on behalf of an agent. *engine.Engine
// satisfies it.
type Executor interface {
	ExecuteFor(ctx context.Context, requester string, eff effect.Effect, ectx *effect.Context) (effect.Result, error)
}

// Transition declares one edge of the state machine. A "*" From matches any
// state. The handler effect runs synchronously before the state advances;
// a failing handler is logged and swallowed, and the state advances anyway.
type Transition struct {
	From    string        `yaml:"from"`
	Trigger string        `yaml:"trigger"`
	Handler effect.Effect `yaml:"-"`
	Next    string        `yaml:"next"`
}

// Behavior declares background work started by a trigger. It runs in its own
// goroutine against a snapshot of the agent context; a patch it produces is
// posted back to the mailbox and merged when the agent processes it. An empty
// States list means the behavior is live in every state.
type Behavior struct {
	Name    string        `yaml:"name"`
	Trigger string        `yaml:"trigger"`
	States  []string      `yaml:"states"`
	Handler effect.Effect `yaml:"-"`
}

// Config declares an agent.
type Config struct {
	Name         string       `yaml:"name"`
	Type         string       `yaml:"type"`
	Capabilities []string     `yaml:"capabilities"`
	Style        string       `yaml:"style"`
	Peers        []string     `yaml:"peers"`
	Initial      string       `yaml:"initial"`
	Transitions  []Transition `yaml:"transitions"`
	Behaviors    []Behavior   `yaml:"behaviors"`
}

// Message is one mailbox entry: an external trigger, a behavior result being
// merged back, or a state query.
type Message struct {
	ID      string
	Trigger string
	Payload map[string]any
	From    string
	Sent    time.Time

	patch    *effect.Context
	behavior string
	reply    chan Snapshot
}

// Snapshot is the externally observable agent state at one point in time.
type Snapshot struct {
	Agent   string
	State   string
	Mailbox int
	Context *effect.Context
}

// Agent is a message-driven state machine over an ordered execution context.
type Agent struct {
	cfg    Config
	exec   Executor
	sink   engine.Sink
	logger *log.Logger
	box    *mailbox

	mu    sync.RWMutex
	state string
	ectx  *effect.Context

	startMu sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures an Agent.
type Option func(*Agent)

// WithSink sets the event sink the agent publishes lifecycle events to.
func WithSink(s engine.Sink) Option {
	return func(a *Agent) { a.sink = s }
}

// WithLogger sets the agent's logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithSnapshot restores a persisted state and context on top of the
// configured initial state.
func WithSnapshot(state string, ectx *effect.Context) Option {
	return func(a *Agent) {
		if state != "" {
			a.state = state
		}
		if ectx != nil {
			a.ectx.Merge(ectx)
		}
	}
}

// New creates an agent in its initial state. The context is seeded with the
// agent's own metadata so handler effects can read it.
func New(cfg Config, exec Executor, opts ...Option) *Agent {
	if cfg.Initial == "" {
		cfg.Initial = "idle"
	}
	ectx := effect.NewContext()
	ectx.Put("agent.name", cfg.Name)
	ectx.Put("agent.type", cfg.Type)
	if cfg.Style != "" {
		ectx.Put("agent.style", cfg.Style)
	}
	if len(cfg.Capabilities) > 0 {
		ectx.Put("agent.capabilities", cfg.Capabilities)
	}

	a := &Agent{
		cfg:    cfg,
		exec:   exec,
		sink:   engine.NopSink{},
		logger: log.Default(),
		box:    newMailbox(),
		state:  cfg.Initial,
		ectx:   ectx,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.cfg.Name }

// State returns the agent's current state.
func (a *Agent) State() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Start runs the agent loop until Stop is called or ctx is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	a.startMu.Lock()
	if a.started {
		a.startMu.Unlock()
		return fmt.Errorf("agent %s already started", a.cfg.Name)
	}
	a.started = true
	a.startMu.Unlock()

	a.sink.Publish(engine.Event{
		Topic:   "agent.started",
		Payload: map[string]any{"agent": a.cfg.Name, "state": a.State()},
	})
	go a.loop(ctx)
	return nil
}

// Stop shuts the agent down and waits for the loop to drain, bounded by ctx.
func (a *Agent) Stop(ctx context.Context) error {
	a.startMu.Lock()
	if !a.started {
		a.startMu.Unlock()
		return fmt.Errorf("agent %s not started", a.cfg.Name)
	}
	a.started = false
	a.startMu.Unlock()

	close(a.stop)
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts a trigger to the agent's mailbox. The mailbox is unbounded;
// Send never blocks and fails only after the agent stopped.
func (a *Agent) Send(trigger string, payload map[string]any) error {
	return a.post(&Message{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Payload: payload,
		Sent:    time.Now(),
	})
}

// SendFrom is Send with the sender recorded on the message.
func (a *Agent) SendFrom(from, trigger string, payload map[string]any) error {
	return a.post(&Message{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Payload: payload,
		From:    from,
		Sent:    time.Now(),
	})
}

// Query returns a snapshot of the agent's state and context. The query goes
// through the mailbox, so the snapshot reflects every message sent before it.
func (a *Agent) Query(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := a.post(&Message{ID: uuid.NewString(), Sent: time.Now(), reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Checkpoint reads the agent's state directly, without going through the
// mailbox. Use Query for ordering guarantees while the agent is running;
// Checkpoint works after the loop has stopped.
func (a *Agent) Checkpoint() Snapshot {
	return a.snapshot()
}

func (a *Agent) post(msg *Message) error {
	if !a.box.push(msg) {
		return fmt.Errorf("agent %s stopped", a.cfg.Name)
	}
	obs.SetMailboxDepth(a.cfg.Name, a.box.len())
	return nil
}

func (a *Agent) loop(ctx context.Context) {
	defer close(a.done)
	defer a.box.close()

	for {
		for msg := a.box.pop(); msg != nil; msg = a.box.pop() {
			obs.SetMailboxDepth(a.cfg.Name, a.box.len())
			a.handle(ctx, msg)
		}
		select {
		case <-a.box.wake:
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) handle(ctx context.Context, msg *Message) {
	switch {
	case msg.reply != nil:
		msg.reply <- a.snapshot()

	case msg.patch != nil:
		a.mu.Lock()
		a.ectx.Merge(msg.patch)
		a.mu.Unlock()
		obs.RecordAgentMessage(a.cfg.Name, "merged")
		a.sink.Publish(engine.Event{
			Topic:   "agent.behavior.merged",
			Payload: map[string]any{"agent": a.cfg.Name, "behavior": msg.behavior},
		})

	default:
		a.transition(ctx, msg)
	}
}

// transition resolves msg.Trigger against the declared transitions and
// behaviors. A matched transition runs its handler synchronously and advances
// the state even when the handler fails; behaviors matching the trigger and
// the resulting state launch concurrently. A trigger matching neither is
// logged and dropped, with no error to the sender.
func (a *Agent) transition(ctx context.Context, msg *Message) {
	from := a.State()
	state := from
	t, ok := a.match(from, msg.Trigger)
	if ok {
		if t.Handler != nil {
			scope := a.scopeFor(msg)
			res, err := a.exec.ExecuteFor(ctx, a.cfg.Name, t.Handler, scope)
			if err != nil {
				obs.RecordAgentMessage(a.cfg.Name, "handler_error")
				a.logger.Printf("agent %s: transition %s->%s handler failed: %v", a.cfg.Name, from, t.Next, err)
			} else if res.IsPatch() {
				a.mu.Lock()
				a.ectx.Merge(res.Patch())
				a.mu.Unlock()
			}
		}

		if t.Next != "" {
			state = t.Next
		}
		a.mu.Lock()
		a.state = state
		a.mu.Unlock()

		obs.RecordAgentMessage(a.cfg.Name, "handled")
		a.sink.Publish(engine.Event{
			Topic:   "agent.transition",
			Payload: map[string]any{"agent": a.cfg.Name, "from": from, "to": state, "trigger": msg.Trigger},
		})
	}

	launched := 0
	for _, b := range a.cfg.Behaviors {
		if b.Trigger == msg.Trigger && stateAllowed(b.States, state) {
			go a.runBehavior(ctx, b, msg)
			launched++
		}
	}
	if !ok && launched == 0 {
		obs.RecordAgentMessage(a.cfg.Name, "unhandled")
		a.logger.Printf("agent %s: no transition for trigger %q in state %q", a.cfg.Name, msg.Trigger, from)
	}
}

// runBehavior executes a behavior handler against a snapshot of the agent
// context. Its patch travels back through the mailbox, never directly into
// the agent context.
func (a *Agent) runBehavior(ctx context.Context, b Behavior, msg *Message) {
	res, err := a.exec.ExecuteFor(ctx, a.cfg.Name, b.Handler, a.scopeFor(msg))
	if err != nil {
		obs.RecordAgentMessage(a.cfg.Name, "behavior_error")
		a.logger.Printf("agent %s: behavior %s failed: %v", a.cfg.Name, b.Name, err)
		return
	}
	if !res.IsPatch() || res.Patch() == nil || res.Patch().Len() == 0 {
		return
	}
	merge := &Message{ID: uuid.NewString(), Sent: time.Now(), patch: res.Patch(), behavior: b.Name}
	if err := a.post(merge); err != nil {
		obs.RecordAgentMessage(a.cfg.Name, "behavior_dropped")
		a.logger.Printf("agent %s: behavior %s patch dropped: %v", a.cfg.Name, b.Name, err)
	}
}

func (a *Agent) match(state, trigger string) (Transition, bool) {
	for _, t := range a.cfg.Transitions {
		if t.Trigger != trigger {
			continue
		}
		if t.From == state || t.From == "*" {
			return t, true
		}
	}
	return Transition{}, false
}

// scopeFor builds the handler's view: the agent context plus the message's
// trigger and payload under msg.* keys.
func (a *Agent) scopeFor(msg *Message) *effect.Context {
	a.mu.RLock()
	scope := a.ectx.Clone()
	a.mu.RUnlock()

	scope.Put("msg.trigger", msg.Trigger)
	if msg.From != "" {
		scope.Put("msg.from", msg.From)
	}
	for _, key := range sortedKeys(msg.Payload) {
		scope.Put("msg."+key, msg.Payload[key])
	}
	return scope
}

func (a *Agent) snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Agent:   a.cfg.Name,
		State:   a.state,
		Mailbox: a.box.len(),
		Context: a.ectx.Clone(),
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stateAllowed(states []string, state string) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s == state || s == "*" {
			return true
		}
	}
	return false
}
