package surface

import (
	"testing"

	"github.com/MrWong99/holdscribe/internal/message"
)

// addClient registers a client with no connection and no writer, so its
// queue only fills.
func addClient(h *Hub) *client {
	c := &client{send: make(chan message.Message, h.sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func TestDeliver_TerminalReachesFullQueue(t *testing.T) {
	t.Parallel()

	h := NewHub(WithSendBuffer(2))
	c := addClient(h)

	h.Deliver(message.Message{Type: message.Progress, SessionID: "s1", Percent: 10})
	h.Deliver(message.Message{Type: message.Progress, SessionID: "s1", Percent: 20})
	h.Deliver(message.Message{Type: message.SessionResult, SessionID: "s1", Text: "done"})

	if h.Clients() != 1 {
		t.Fatalf("clients = %d, want the slow client kept for its terminal notification", h.Clients())
	}
	first, last := <-c.send, <-c.send
	if first.Percent != 20 {
		t.Errorf("first queued = %+v, want the newer progress", first)
	}
	if last.Type != message.SessionResult || last.Text != "done" {
		t.Errorf("last queued = %+v, want SESSION_RESULT", last)
	}
}

func TestDeliver_NonTerminalOverflowDisconnects(t *testing.T) {
	t.Parallel()

	h := NewHub(WithSendBuffer(1))
	c := addClient(h)

	h.Deliver(message.Message{Type: message.Progress, Percent: 10})
	h.Deliver(message.Message{Type: message.Progress, Percent: 20})

	if h.Clients() != 0 {
		t.Fatalf("clients = %d, want the slow client dropped", h.Clients())
	}
	if m, ok := <-c.send; !ok || m.Percent != 10 {
		t.Errorf("queued = %+v (open %v), want the first progress", m, ok)
	}
	if _, ok := <-c.send; ok {
		t.Error("queue of a dropped client should be closed")
	}
}
