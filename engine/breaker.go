package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/flowgo-dev/flowgo/pkg/observability"
)

// ErrCircuitOpen is the cause carried by execution failures rejected by an
// open circuit breaker.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig tunes the shared per-key circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the failure rate over the window that opens the
	// breaker. Defaults to 0.5.
	FailureThreshold float64
	// WindowSize is how many recent outcomes the failure rate is computed
	// over. Defaults to 10.
	WindowSize int
	// MinSamples is the minimum number of outcomes before the breaker can
	// open. Defaults to 4.
	MinSamples int
	// Cooldown is how long an open breaker waits before letting a probe
	// through. Defaults to 30s.
	Cooldown time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 0.5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 4
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

// breaker is one per-key circuit breaker: closed counts outcomes over a
// sliding window and opens when the failure rate crosses the threshold; open
// rejects until the cooldown elapses, then half-open admits a single probe.
type breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	key      string
	state    breakerState
	window   []bool // recent outcomes, true = failure
	probing  bool   // half-open: a probe is in flight
	openedAt time.Time
	now      func() time.Time
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.setState(breakerHalfOpen)
			b.probing = true
			return true
		}
		return false
	}
	return true
}

func (b *breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probing = false
		if failed {
			b.openedAt = b.now()
			b.setState(breakerOpen)
		} else {
			b.window = b.window[:0]
			b.setState(breakerClosed)
		}
		return
	}

	b.window = append(b.window, failed)
	if len(b.window) > b.cfg.WindowSize {
		b.window = b.window[len(b.window)-b.cfg.WindowSize:]
	}
	if len(b.window) < b.cfg.MinSamples {
		return
	}

	failures := 0
	for _, f := range b.window {
		if f {
			failures++
		}
	}
	if float64(failures)/float64(len(b.window)) >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.setState(breakerOpen)
	}
}

// setState must be called with the lock held.
func (b *breaker) setState(s breakerState) {
	b.state = s
	observability.SetBreakerState(b.key, int(s))
}

type breakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*breaker
	now      func() time.Time
}

func newBreakerRegistry(cfg BreakerConfig) *breakerRegistry {
	return &breakerRegistry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*breaker),
		now:      time.Now,
	}
}

func (r *breakerRegistry) get(key string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = &breaker{cfg: r.cfg, key: key, now: r.now}
		r.breakers[key] = b
	}
	return b
}
