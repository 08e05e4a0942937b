// Package actor provides the unbounded mailbox each holdscribe actor
// (coordinator, capture sandbox, engine host) consumes from its own
// goroutine.
//
// Senders never block: Post appends under a mutex and nudges a one-slot
// signal channel. The owning goroutine selects on [Mailbox.Ready] and
// processes everything returned by [Mailbox.Drain] in FIFO order.
package actor

import "sync"

// Mailbox is an unbounded FIFO queue with a readiness signal.
// It is safe for concurrent use by any number of senders and one receiver.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

// NewMailbox creates an empty, open mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Post enqueues v. It reports false when the mailbox has been closed, in
// which case v is dropped.
func (m *Mailbox[T]) Post(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready returns a channel that receives a value whenever items may be
// waiting. A receive does not guarantee that Drain returns anything.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Drain removes and returns every queued item in arrival order.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Close rejects all future posts. Items already queued remain drainable.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
