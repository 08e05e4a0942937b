package surface_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/holdscribe/internal/message"
	"github.com/MrWong99/holdscribe/internal/surface"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type controller struct {
	mu   sync.Mutex
	got  []message.Type
	seen chan struct{}
}

func newController() *controller { return &controller{seen: make(chan struct{}, 64)} }

func (c *controller) Handle(m message.Message) {
	c.mu.Lock()
	c.got = append(c.got, m.Type)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *controller) wait(t *testing.T, n int) []message.Type {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		c.mu.Lock()
		if len(c.got) >= n {
			got := append([]message.Type(nil), c.got...)
			c.mu.Unlock()
			return got
		}
		c.mu.Unlock()
		select {
		case <-c.seen:
		case <-timeout:
			t.Fatalf("timed out waiting for %d requests", n)
		}
	}
}

type recorder struct{ got []message.Message }

func (r *recorder) Deliver(m message.Message) { r.got = append(r.got, m) }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 3s")
		}
		time.Sleep(time.Millisecond)
	}
}

// ── fanout ───────────────────────────────────────────────────────────────────

func TestFanout_DeliversCopies(t *testing.T) {
	t.Parallel()
	a, b := &recorder{}, &recorder{}
	f := surface.Fanout{a, b}

	m := message.Message{Type: message.SessionResult, SessionID: "s", Text: "hello", Audio: []byte{1}}
	f.Deliver(m)

	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(a.got), len(b.got))
	}
	a.got[0].Audio[0] = 9
	if b.got[0].Audio[0] != 1 || m.Audio[0] != 1 {
		t.Error("fanout members share the payload")
	}
}

// ── websocket hub ────────────────────────────────────────────────────────────

func startHub(t *testing.T, hub *surface.Hub) string {
	t.Helper()
	mux := http.NewServeMux()
	hub.Register(mux, "/ws")
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) message.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var m message.Message
	if err := wsjson.Read(ctx, conn, &m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestHub_SendsCurrentStateOnConnect(t *testing.T) {
	t.Parallel()
	hub := surface.NewHub()
	hub.Deliver(message.Message{Type: message.SessionState, SessionID: "s-1", State: message.Transcribing})
	conn := dial(t, startHub(t, hub))

	m := read(t, conn)
	if m.Type != message.SessionState || m.State != message.Transcribing || m.SessionID != "s-1" {
		t.Errorf("first message = %+v, want Transcribing state", m)
	}
}

func TestHub_ForwardsRequests(t *testing.T) {
	t.Parallel()
	ctrl := newController()
	hub := surface.NewHub()
	hub.Bind(ctrl)
	conn := dial(t, startHub(t, hub))
	_ = read(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, m := range []message.Message{
		{Type: message.StartSession},
		{Type: message.Result, Text: "spoofed"},
		{Type: message.EndSession},
		{Type: message.TestMic},
	} {
		if err := wsjson.Write(ctx, conn, m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got := ctrl.wait(t, 3)
	want := []message.Type{message.StartSession, message.EndSession, message.TestMic}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestHub_BroadcastsNotifications(t *testing.T) {
	t.Parallel()
	hub := surface.NewHub()
	url := startHub(t, hub)
	a, b := dial(t, url), dial(t, url)
	_, _ = read(t, a), read(t, b)
	waitFor(t, func() bool { return hub.Clients() == 2 })

	hub.Deliver(message.Message{Type: message.SessionResult, SessionID: "s", Text: "hello world"})

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		if m := read(t, conn); m.Type != message.SessionResult || m.Text != "hello world" {
			t.Errorf("client %s got %+v", name, m)
		}
	}
}

func TestHub_DisconnectsSlowClient(t *testing.T) {
	t.Parallel()
	hub := surface.NewHub(surface.WithSendBuffer(1))
	conn := dial(t, startHub(t, hub))
	waitFor(t, func() bool { return hub.Clients() == 1 })

	// The client never reads, so the socket buffers and then its queue
	// fill up.
	big := strings.Repeat("x", 64<<10)
	waitFor(t, func() bool {
		hub.Deliver(message.Message{Type: message.Progress, SessionID: big, Percent: 50})
		return hub.Clients() == 0
	})
	_ = conn
}

func TestHub_ClientDisconnect(t *testing.T) {
	t.Parallel()
	hub := surface.NewHub()
	conn := dial(t, startHub(t, hub))
	_ = read(t, conn)
	waitFor(t, func() bool { return hub.Clients() == 1 })

	conn.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

// ── console ──────────────────────────────────────────────────────────────────

func startConsole(t *testing.T, ctrl surface.Controller) (*surface.Console, *io.PipeWriter, *syncBuffer, <-chan error) {
	t.Helper()
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	c := surface.NewConsole(pr, out)
	c.Bind(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = pw.Close()
	})
	return c, pw, out, done
}

func TestConsole_EnterToggles(t *testing.T) {
	t.Parallel()
	ctrl := newController()
	c, in, out, _ := startConsole(t, ctrl)

	_, _ = io.WriteString(in, "\n")
	ctrl.wait(t, 1)
	c.Deliver(message.Message{Type: message.SessionState, State: message.Capturing})
	waitFor(t, func() bool { return strings.Contains(out.String(), "recording, press Enter to stop") })

	_, _ = io.WriteString(in, "\n")
	got := ctrl.wait(t, 2)
	if got[0] != message.StartSession || got[1] != message.EndSession {
		t.Fatalf("requests = %v, want START then END", got)
	}

	c.Deliver(message.Message{Type: message.SessionResult, Text: "hello world"})
	c.Deliver(message.Message{Type: message.SessionState, State: message.Idle})
	waitFor(t, func() bool { return strings.Contains(out.String(), "> hello world") })

	_, _ = io.WriteString(in, "\n")
	if got := ctrl.wait(t, 3); got[2] != message.StartSession {
		t.Errorf("third request = %s, want START_SESSION", got[2])
	}
}

func TestConsole_TestMicAndErrors(t *testing.T) {
	t.Parallel()
	ctrl := newController()
	c, in, out, _ := startConsole(t, ctrl)

	_, _ = io.WriteString(in, "test\n")
	if got := ctrl.wait(t, 1); got[0] != message.TestMic {
		t.Fatalf("request = %s, want TEST_MIC", got[0])
	}

	c.Deliver(message.Message{Type: message.OpenMicSettings})
	c.Deliver(message.Message{Type: message.SessionError, Reason: message.DeviceDenied})
	waitFor(t, func() bool {
		s := out.String()
		return strings.Contains(s, "Microphone permission denied") && strings.Contains(s, "permissions")
	})

	_, _ = io.WriteString(in, "bogus\n")
	waitFor(t, func() bool { return strings.Contains(out.String(), `unknown command "bogus"`) })
}

func TestConsole_ReturnsOnEOF(t *testing.T) {
	t.Parallel()
	_, in, _, done := startConsole(t, newController())
	_ = in.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after EOF")
	}
}
