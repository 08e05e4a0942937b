package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSize is the number of entries a [Log] keeps in memory when no size
// is configured.
const DefaultSize = 100

// Sink persists entries. Save is called from the log's writer goroutine, one
// entry at a time.
type Sink interface {
	Save(ctx context.Context, e Entry) error
}

// LogOption configures a [Log].
type LogOption func(*Log)

// WithSink persists every recorded entry to s.
func WithSink(s Sink) LogOption {
	return func(l *Log) { l.sink = s }
}

// WithBacklog sets how many entries may wait for the sink before new ones
// are dropped. The default is 64.
func WithBacklog(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.backlog = n
		}
	}
}

// WithSaveTimeout bounds a single Save call. The default is 5 seconds.
func WithSaveTimeout(d time.Duration) LogOption {
	return func(l *Log) {
		if d > 0 {
			l.saveTimeout = d
		}
	}
}

// Log is a fixed-size ring of recent entries with an optional background
// writer. It is safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	ring  []Entry
	next  int
	count int

	sink        Sink
	backlog     int
	saveTimeout time.Duration
	queue       chan Entry
	closeOnce   sync.Once
	done        chan struct{}
}

// NewLog returns a log that keeps the size most recent entries. A size of
// zero or less selects [DefaultSize]. When a sink is configured the writer
// goroutine runs until [Log.Close].
func NewLog(size int, opts ...LogOption) *Log {
	if size <= 0 {
		size = DefaultSize
	}
	l := &Log{
		ring:        make([]Entry, size),
		backlog:     64,
		saveTimeout: 5 * time.Second,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.sink == nil {
		close(l.done)
		return l
	}
	l.queue = make(chan Entry, l.backlog)
	go l.write(l.queue)
	return l
}

// Record adds e to the ring and queues it for the sink. It never blocks: an
// entry that does not fit into the backlog is kept in memory only.
func (l *Log) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	l.count = min(l.count+1, len(l.ring))

	if l.queue == nil {
		return
	}
	select {
	case l.queue <- e:
	default:
		slog.Warn("history backlog full, entry not persisted", "session_id", e.SessionID)
	}
}

// Recent returns up to n entries, newest first. n <= 0 returns everything
// the ring holds.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// Len returns the number of entries held in memory.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Close stops accepting entries for the sink and waits until the backlog is
// written or ctx ends. Entries recorded after Close stay in memory only.
func (l *Log) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		if l.queue != nil {
			close(l.queue)
			l.queue = nil
		}
		l.mu.Unlock()
	})
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Log) write(queue <-chan Entry) {
	defer close(l.done)
	for e := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.saveTimeout)
		if err := l.sink.Save(ctx, e); err != nil {
			slog.Warn("failed to persist session history", "session_id", e.SessionID, "err", err)
		}
		cancel()
	}
}
