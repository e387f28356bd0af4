package agent

import "sync"

// mailbox is an unbounded FIFO queue. Send never blocks and never drops;
// backpressure is observable only through Len.
type mailbox struct {
	mu     sync.Mutex
	queue  []*Message
	wake   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

// push enqueues msg. It reports false when the mailbox has been closed.
func (m *mailbox) push(msg *Message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// pop dequeues the oldest message, or returns nil when the queue is empty.
func (m *mailbox) pop() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}
