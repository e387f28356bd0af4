package engine

import (
	"sync"
	"time"
)

// Event is one occurrence published by an emit effect, an escalation or an
// agent lifecycle notification.
type Event struct {
	Topic   string
	Payload map[string]any
	Time    time.Time
}

// Sink receives published events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}

// Bus is an in-process fan-out sink. Subscribers receive events on buffered
// channels; events are dropped for subscribers that fall behind rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function removes
// the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
