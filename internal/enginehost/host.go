// Package enginehost implements the engine host: an actor that owns the
// transcription engine and serialises every request through it.
//
// The engine is created and warmed up lazily on the first submission.
// Submissions that arrive while it loads queue behind the warm-up. A single
// worker goroutine transcribes one request at a time, and every request
// ends in exactly one RESULT or RESULT_FAILED event. [Host.Reset] drops the
// engine and fails everything it was holding with EngineReset; results that
// a dropped engine produces later are discarded.
package enginehost

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/holdscribe/internal/actor"
	"github.com/MrWong99/holdscribe/internal/message"
	"github.com/MrWong99/holdscribe/internal/observe"
	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/audio/codec"
	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

// DefaultSilenceThreshold is the RMS level below which a recording is
// treated as silence.
const DefaultSilenceThreshold = 50.0

// Factory creates the engine a host warms up. It is called once per
// warm-up attempt.
type Factory func() (stt.Provider, error)

// State is the engine state of a [Host].
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Config configures a [Host].
type Config struct {
	// Locale is used for submissions that carry none.
	Locale string

	// Prompt biases recognition towards the user's vocabulary.
	Prompt string

	// SilenceThreshold is the RMS level below which audio is rejected with
	// NoSpeechDetected before reaching the engine. Zero selects
	// [DefaultSilenceThreshold]; a negative value disables the check.
	SilenceThreshold float64

	// Metrics receives warm-up and transcription latencies. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdProgress
	cmdLoaded
	cmdDone
	cmdReset
	cmdClose
)

type job struct {
	requestID string
	audio     []byte
	locale    string
}

type command struct {
	kind commandKind
	gen  uint64

	job     job
	percent int
	engine  stt.Provider
	err     error
	result  message.Message
}

// Host owns one transcription engine. Create it with [New]; the actor
// goroutine starts immediately and exits after [Host.Close].
type Host struct {
	factory Factory
	emit    func(message.Message)
	cfg     Config
	conv    *audio.Converter
	inbox   *actor.Mailbox[command]
	done    chan struct{}
	closing sync.Once
	state   atomic.Int32

	// Owned by the actor goroutine.
	gen         uint64
	genCtx      context.Context
	genCancel   context.CancelFunc
	engine      stt.Provider
	queue       []job
	inFlight    *job
	outstanding int
	stopping    bool

	// Last PROGRESS sent, for deduplication.
	progressID  string
	progressPct int
}

// New creates a host and starts its actor goroutine. emit is invoked from
// that goroutine for every event the host produces.
func New(factory Factory, emit func(message.Message), cfg Config) *Host {
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	h := &Host{
		factory: factory,
		emit:    emit,
		cfg:     cfg,
		conv:    &audio.Converter{Target: audio.SpeechFormat},
		inbox:   actor.NewMailbox[command](),
		done:    make(chan struct{}),
	}
	h.genCtx, h.genCancel = context.WithCancel(context.Background())
	go h.run()
	return h
}

// Submit queues a SUBMIT request and returns immediately. Other message
// types are dropped. The audio is copied.
func (h *Host) Submit(m message.Message) {
	if m.Type != message.Submit || m.RequestID == "" {
		slog.Debug("engine host dropping message", "type", m.Type, "request_id", m.RequestID)
		return
	}
	h.inbox.Post(command{kind: cmdSubmit, job: job{
		requestID: m.RequestID,
		audio:     append([]byte(nil), m.Audio...),
		locale:    m.Locale,
	}})
}

// Reset unloads the engine and fails the in-flight request and every queued
// request with EngineReset.
func (h *Host) Reset() { h.inbox.Post(command{kind: cmdReset}) }

// Close resets the host and stops it once outstanding engine work has
// unwound. It does not wait; use [Host.Done] for that.
func (h *Host) Close() {
	h.closing.Do(func() { h.inbox.Post(command{kind: cmdClose}) })
}

// Done is closed once the actor goroutine has exited and every engine the
// host created has been closed.
func (h *Host) Done() <-chan struct{} { return h.done }

// State reports the engine state. It is safe to call from any goroutine.
func (h *Host) State() State { return State(h.state.Load()) }

func (h *Host) run() {
	defer close(h.done)
	for range h.inbox.Ready() {
		for _, cmd := range h.inbox.Drain() {
			h.handle(cmd)
		}
		if h.stopping && h.outstanding == 0 {
			h.inbox.Close()
			return
		}
	}
}

func (h *Host) handle(cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		h.submit(cmd.job)
	case cmdProgress:
		h.progress(cmd)
	case cmdLoaded:
		h.outstanding--
		h.loaded(cmd)
	case cmdDone:
		h.outstanding--
		h.finished(cmd)
	case cmdReset:
		h.reset()
	case cmdClose:
		h.reset()
		h.stopping = true
	}
}

func (h *Host) setState(s State) { h.state.Store(int32(s)) }

func (h *Host) submit(j job) {
	if h.stopping {
		h.send(message.TranscriptionFailure(j.requestID, message.EngineReset))
		return
	}
	h.queue = append(h.queue, j)
	switch h.State() {
	case StateUnloaded:
		h.warmUp()
	case StateReady:
		h.dispatch()
	}
}

func (h *Host) warmUp() {
	h.setState(StateLoading)
	h.progressID, h.progressPct = "", -1
	gen, ctx := h.gen, h.genCtx
	h.outstanding++

	go func() {
		start := time.Now()
		engine, err := h.factory()
		if err == nil {
			err = engine.Load(ctx, func(pct int) {
				h.inbox.Post(command{kind: cmdProgress, gen: gen, percent: pct})
			})
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		h.cfg.Metrics.RecordWarmup(ctx, status, time.Since(start))
		h.inbox.Post(command{kind: cmdLoaded, gen: gen, engine: engine, err: err})
	}()
}

func (h *Host) progress(cmd command) {
	if cmd.gen != h.gen || len(h.queue) == 0 {
		return
	}
	h.sendProgress(h.queue[0].requestID, min(max(cmd.percent, 0), 100))
}

// sendProgress emits PROGRESS unless it repeats the previous one.
func (h *Host) sendProgress(requestID string, pct int) {
	if requestID == h.progressID && pct == h.progressPct {
		return
	}
	h.progressID, h.progressPct = requestID, pct
	h.send(message.Progressed(requestID, pct))
}

func (h *Host) loaded(cmd command) {
	if cmd.gen != h.gen {
		// Warm-up of an engine that was reset while loading.
		closeEngine(cmd.engine)
		return
	}
	if cmd.err != nil {
		slog.Error("transcription engine failed to load", "err", cmd.err, "queued", len(h.queue))
		closeEngine(cmd.engine)
		h.setState(StateUnloaded)
		queued := h.queue
		h.queue = nil
		for _, j := range queued {
			h.send(message.TranscriptionFailure(j.requestID, message.EngineInitFailed))
		}
		return
	}

	h.engine = cmd.engine
	h.setState(StateReady)
	if len(h.queue) > 0 {
		h.sendProgress(h.queue[0].requestID, 100)
	}
	slog.Info("transcription engine ready")
	h.send(message.Message{Type: message.EngineReady})
	h.dispatch()
}

// dispatch starts the head of the queue if the engine is idle.
func (h *Host) dispatch() {
	if h.inFlight != nil || h.State() != StateReady || len(h.queue) == 0 {
		return
	}
	j := h.queue[0]
	h.queue = h.queue[1:]
	h.inFlight = &j
	h.outstanding++

	gen, ctx, engine := h.gen, h.genCtx, h.engine
	go func() {
		start := time.Now()
		result := h.transcribe(ctx, engine, j)
		h.cfg.Metrics.RecordTranscription(ctx, statusOf(result), time.Since(start))
		h.inbox.Post(command{kind: cmdDone, gen: gen, engine: engine, result: result})
	}()
}

// transcribe runs on the worker goroutine.
func (h *Host) transcribe(ctx context.Context, engine stt.Provider, j job) message.Message {
	clip, err := codec.Decode(j.audio)
	if err != nil {
		slog.Warn("recording could not be decoded", "request_id", j.requestID, "err", err)
		return message.TranscriptionFailure(j.requestID, message.DecodeFailed)
	}
	clip = h.conv.Convert(clip)
	if len(clip.Samples) == 0 {
		return message.TranscriptionFailure(j.requestID, message.NoSpeechDetected)
	}
	if h.cfg.SilenceThreshold > 0 && audio.RMS(clip.Samples) < h.cfg.SilenceThreshold {
		slog.Debug("recording below silence threshold", "request_id", j.requestID)
		return message.TranscriptionFailure(j.requestID, message.NoSpeechDetected)
	}

	locale := j.locale
	if locale == "" {
		locale = h.cfg.Locale
	}
	tr, err := engine.Transcribe(ctx, stt.Request{
		ID:       j.requestID,
		Samples:  clip.Samples,
		Language: stt.LanguageHint(locale),
		Prompt:   h.cfg.Prompt,
	})
	if err != nil {
		reason := ReasonFor(err)
		slog.Warn("transcription failed", "request_id", j.requestID, "reason", reason, "err", err)
		return message.TranscriptionFailure(j.requestID, reason)
	}
	if tr.Empty() {
		return message.TranscriptionFailure(j.requestID, message.NoSpeechDetected)
	}
	return message.Transcribed(j.requestID, tr.Text)
}

func (h *Host) finished(cmd command) {
	if cmd.gen != h.gen {
		// The engine was reset mid-request; its result is void and the
		// engine was left for this goroutine to close.
		slog.Debug("discarding result of reset engine", "request_id", cmd.result.RequestID)
		closeEngine(cmd.engine)
		return
	}
	h.inFlight = nil
	h.send(cmd.result)
	h.dispatch()
}

func (h *Host) reset() {
	failed := 0
	if h.inFlight != nil {
		h.send(message.TranscriptionFailure(h.inFlight.requestID, message.EngineReset))
		h.inFlight = nil
		failed++
	} else if h.engine != nil {
		// An in-flight request owns the engine until it reports back.
		closeEngine(h.engine)
	}
	for _, j := range h.queue {
		h.send(message.TranscriptionFailure(j.requestID, message.EngineReset))
		failed++
	}
	if failed > 0 || h.engine != nil {
		slog.Info("transcription engine reset", "failed_requests", failed)
	}

	h.queue = nil
	h.engine = nil
	h.setState(StateUnloaded)

	h.genCancel()
	h.gen++
	h.genCtx, h.genCancel = context.WithCancel(context.Background())
}

func (h *Host) send(m message.Message) {
	h.emit(m.Clone())
}

func closeEngine(engine stt.Provider) {
	if engine == nil {
		return
	}
	if err := engine.Close(); err != nil {
		slog.Warn("transcription engine close failed", "err", err)
	}
}

// ReasonFor maps an engine error to a failure reason.
func ReasonFor(err error) message.Reason {
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		return message.NoSpeechDetected
	case errors.Is(err, stt.ErrEngineInit), errors.Is(err, stt.ErrNotLoaded):
		return message.EngineInitFailed
	default:
		return message.DecodeFailed
	}
}

func statusOf(m message.Message) string {
	if m.Type == message.Result {
		return "ok"
	}
	return string(m.Reason)
}
