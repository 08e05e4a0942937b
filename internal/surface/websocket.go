package surface

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/holdscribe/internal/message"
)

const (
	// defaultSendBuffer is the number of notifications queued per client
	// before it is considered too slow and disconnected.
	defaultSendBuffer = 32

	// writeTimeout bounds a single frame write.
	writeTimeout = 5 * time.Second
)

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithSendBuffer sets the per-client notification queue length.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin connections from hosts matching
// the given patterns. See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// Hub serves the WebSocket surface. Each connected client receives every
// coordinator notification as a JSON text frame and may send requests in
// the same encoding. A newly connected client first receives the last
// SESSION_STATE so it can render the current state.
//
// Thread-safe for concurrent use.
type Hub struct {
	sendBuffer int
	origins    []string

	mu        sync.Mutex
	ctrl      Controller
	clients   map[*client]struct{}
	lastState message.Message
}

type client struct {
	conn *websocket.Conn
	send chan message.Message
}

// NewHub creates a hub. Requests received before [Hub.Bind] is called are
// dropped.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		sendBuffer: defaultSendBuffer,
		clients:    make(map[*client]struct{}),
		lastState:  message.Message{Type: message.SessionState, State: message.Idle},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Bind sets the controller that receives client requests.
func (h *Hub) Bind(ctrl Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctrl = ctrl
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Deliver queues m for every connected client. A client whose queue is full
// is disconnected rather than stalling the caller, except for a session's
// terminal notification: that replaces the oldest queued message so the
// client still learns how its session ended.
func (h *Hub) Deliver(m message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.Type == message.SessionState {
		h.lastState = m
	}
	for c := range h.clients {
		select {
		case c.send <- m:
			continue
		default:
		}
		if !m.Type.Terminal() {
			slog.Warn("websocket client too slow, disconnecting", "type", m.Type, "session_id", m.SessionID)
			h.dropLocked(c)
			continue
		}
		// Only Deliver and ServeHTTP enqueue, both under h.mu, so the slot
		// freed here stays free.
		select {
		case old := <-c.send:
			slog.Warn("websocket client too slow, discarding notification",
				"discarded", old.Type, "session_id", m.SessionID)
		default:
		}
		c.send <- m
	}
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan message.Message, h.sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	c.send <- h.lastState
	h.mu.Unlock()
	slog.Debug("websocket client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.write(ctx, c)
	h.read(ctx, c)

	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
	slog.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

// Register mounts the hub on mux at path.
func (h *Hub) Register(mux *http.ServeMux, path string) {
	mux.Handle("GET "+path, h)
}

func (h *Hub) read(ctx context.Context, c *client) {
	for {
		var m message.Message
		if err := wsjson.Read(ctx, c.conn, &m); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("websocket read failed", "err", err)
			}
			return
		}
		if !m.Type.FromSurface() {
			slog.Debug("ignoring websocket message", "type", m.Type)
			continue
		}
		h.mu.Lock()
		ctrl := h.ctrl
		h.mu.Unlock()
		if ctrl == nil {
			slog.Warn("websocket request before coordinator bound", "type", m.Type)
			continue
		}
		ctrl.Handle(message.Message{Type: m.Type})
	}
}

// write drains the client's queue until it is closed by dropLocked, then
// closes the connection.
func (h *Hub) write(ctx context.Context, c *client) {
	for m := range c.send {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, c.conn, m)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "err", err)
			c.conn.CloseNow()
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// dropLocked removes c and closes its queue. It is idempotent. h.mu must
// be held.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
