// Package surface contains the user-facing front ends that drive the
// session coordinator: a WebSocket hub for browser or desktop clients and
// a line-based console.
//
// A surface sends START_SESSION, END_SESSION and TEST_MIC to a
// [Controller] and receives SESSION_STATE, PROGRESS, SESSION_RESULT,
// SESSION_ERROR and OPEN_MIC_SETTINGS through Deliver. Deliver is called
// from the coordinator goroutine, so every implementation here hands the
// message off without blocking.
package surface

import "github.com/MrWong99/holdscribe/internal/message"

// Controller accepts surface requests. *coordinator.Coordinator satisfies
// it.
type Controller interface {
	Handle(m message.Message)
}

// Deliverer receives coordinator notifications.
type Deliverer interface {
	Deliver(m message.Message)
}

// Fanout delivers every message to each of its members in order.
type Fanout []Deliverer

// Deliver implements [Deliverer].
func (f Fanout) Deliver(m message.Message) {
	for _, d := range f {
		d.Deliver(m.Clone())
	}
}
