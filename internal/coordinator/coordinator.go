// Package coordinator implements the session coordinator: the single owner
// of the recording-session state machine.
//
// A session moves Idle → Capturing → AwaitingEngine → Transcribing and ends
// in exactly one SESSION_RESULT or SESSION_ERROR delivered to the surface,
// after which the coordinator is Idle again. The coordinator creates one
// capture sandbox per session and destroys it as soon as capture ends, so
// the microphone is never held while transcription runs. The engine host is
// created on first use and kept across sessions until [Coordinator.Reset].
//
// All state lives on the goroutine running [Coordinator.Run]. The exported
// methods only post messages to it.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/holdscribe/internal/actor"
	"github.com/MrWong99/holdscribe/internal/correlation"
	"github.com/MrWong99/holdscribe/internal/history"
	"github.com/MrWong99/holdscribe/internal/message"
	"github.com/MrWong99/holdscribe/internal/observe"
)

// Session triggers.
const (
	TriggerSurface = "surface"
	TriggerTestMic = "test_mic"
)

// ErrStopped is returned by [Coordinator.Snapshot] once Run has returned.
var ErrStopped = errors.New("coordinator: stopped")

// Surface receives the messages addressed to the requesting surface.
// Deliver is called from the coordinator goroutine and must not block.
type Surface interface {
	Deliver(m message.Message)
}

// CaptureHandle is the coordinator's view of a capture sandbox.
type CaptureHandle interface {
	Begin()
	End()
	Destroy()
}

// EngineHandle is the coordinator's view of an engine host.
type EngineHandle interface {
	Submit(m message.Message)
	Reset()
	Close()
}

// CaptureFactory creates the sandbox for sessionID. emit must be used for
// every event the sandbox produces.
type CaptureFactory func(sessionID string, emit func(message.Message)) CaptureHandle

// EngineFactory creates an engine host configured for s.
type EngineFactory func(s Settings, emit func(message.Message)) EngineHandle

// Settings is the user configuration the engine is built from.
type Settings struct {
	ModelSize string `json:"modelSize"`
	Locale    string `json:"locale"`
}

// Corrector rewrites recognised text before it is delivered.
type Corrector interface {
	Correct(text string) string
}

// Recorder receives every finished session. Record must not block.
type Recorder interface {
	Record(e history.Entry)
}

// Config holds the coordinator's settings and timeouts. Zero durations take
// the defaults listed on each field.
type Config struct {
	Settings Settings

	// MaxRecording ends a session that is still capturing. Default: 2m.
	MaxRecording time.Duration

	// CaptureTimeout bounds the wait for the sandbox's terminal event after
	// END_SESSION. Default: 5s.
	CaptureTimeout time.Duration

	// RequestTimeout bounds a transcription request, warm-up included.
	// Default: 60s.
	RequestTimeout time.Duration

	// SweepInterval is the period of the correlation table sweep. Default: 5s.
	SweepInterval time.Duration

	// HandshakeTimeout is how long CAPTURE_STARTED and ENGINE_READY may take
	// before a warning is logged. Default: 2s.
	HandshakeTimeout time.Duration

	// MicSettingsDebounce suppresses repeated OPEN_MIC_SETTINGS. Default: 2s.
	MicSettingsDebounce time.Duration

	// TestMicDuration is how long a TEST_MIC session records. Default: 3s.
	TestMicDuration time.Duration
}

func (c *Config) applyDefaults() {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.MaxRecording, 2*time.Minute)
	def(&c.CaptureTimeout, 5*time.Second)
	def(&c.RequestTimeout, 60*time.Second)
	def(&c.SweepInterval, 5*time.Second)
	def(&c.HandshakeTimeout, 2*time.Second)
	def(&c.MicSettingsDebounce, 2*time.Second)
	def(&c.TestMicDuration, 3*time.Second)
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithCorrector sets the text corrector applied to every result.
func WithCorrector(c Corrector) Option {
	return func(co *Coordinator) { co.corrector = c }
}

// WithRecorder sets the session history recorder.
func WithRecorder(r Recorder) Option {
	return func(co *Coordinator) { co.recorder = r }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	State       message.State `json:"state"`
	SessionID   string        `json:"sessionId,omitempty"`
	RequestID   string        `json:"requestId,omitempty"`
	Pending     int           `json:"pending"`
	EngineAlive bool          `json:"engineAlive"`
	EngineReady bool          `json:"engineReady"`
	Settings    Settings      `json:"settings"`
}

type eventKind int

const (
	evSurface eventKind = iota
	evCapture
	evEngine
	evRequestTimeout
	evCaptureTimeout
	evAutoEnd
	evCaptureHandshake
	evEngineHandshake
	evReset
	evSnapshot
)

type event struct {
	kind eventKind
	msg  message.Message

	// sessionID for capture and timer events, requestID for request
	// timeouts, engineGen for engine events.
	sessionID string
	requestID string
	engineGen int
	reason    string

	settings Settings
	reply    chan Snapshot
}

// session is the single active session. It is owned by the run goroutine.
type session struct {
	id        string
	trigger   string
	state     message.State
	startedAt time.Time
	capture   CaptureHandle
	requestID string
	locale    string
	modelSize string

	captureStarted time.Time
	handshaken     bool

	ctx    context.Context
	span   trace.Span
	timers []*time.Timer
}

// Coordinator drives recording sessions. Create it with [New] and start it
// with [Run].
type Coordinator struct {
	cfg        Config
	surface    Surface
	newCapture CaptureFactory
	newEngine  EngineFactory
	corrector  Corrector
	recorder   Recorder
	metrics    *observe.Metrics
	inbox      *actor.Mailbox[event]
	table      *correlation.Table

	// Owned by the run goroutine.
	settings      Settings
	sess          *session
	engine        EngineHandle
	engineGen     int
	engineReady   bool
	lastMicPrompt time.Time
}

// New creates a coordinator. Nothing happens until [Coordinator.Run] is
// called; messages posted before that are queued.
func New(surface Surface, newCapture CaptureFactory, newEngine EngineFactory, cfg Config, opts ...Option) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		cfg:        cfg,
		surface:    surface,
		newCapture: newCapture,
		newEngine:  newEngine,
		inbox:      actor.NewMailbox[event](),
		table:      correlation.NewTable(),
		settings:   cfg.Settings,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Begin starts a session. It is ignored while a session is active.
func (c *Coordinator) Begin() { c.Handle(message.Message{Type: message.StartSession}) }

// End ends the capture phase of the active session. It is a no-op while
// Idle.
func (c *Coordinator) End() { c.Handle(message.Message{Type: message.EndSession}) }

// TestMic starts a session that ends by itself after the configured test
// duration.
func (c *Coordinator) TestMic() { c.Handle(message.Message{Type: message.TestMic}) }

// Handle posts a message received from a surface. Types a surface may not
// send are dropped.
func (c *Coordinator) Handle(m message.Message) {
	if !m.Type.FromSurface() {
		slog.Debug("dropping message not accepted from surfaces", "type", m.Type)
		return
	}
	c.inbox.Post(event{kind: evSurface, msg: m.Clone()})
}

// Reset replaces the engine settings. The current engine is reset and
// closed; an in-flight transcription fails with EngineReset and the next
// session creates a fresh engine from s.
func (c *Coordinator) Reset(s Settings) {
	c.inbox.Post(event{kind: evReset, settings: s})
}

// Snapshot returns the current state. It blocks until the run goroutine
// answers or ctx ends.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !c.inbox.Post(event{kind: evSnapshot, reply: reply}) {
		return Snapshot{}, ErrStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run processes events until ctx is cancelled. On return the capture
// sandbox is destroyed, the engine is closed and an active session has
// been failed.
func (c *Coordinator) Run(ctx context.Context) error {
	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			c.sweep(time.Now())
		case <-c.inbox.Ready():
			for _, ev := range c.inbox.Drain() {
				c.handle(ev)
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.inbox.Close()
	if c.sess != nil {
		slog.Info("shutting down with active session", "session_id", c.sess.id, "state", c.sess.state)
		c.fail(message.EngineReset)
	}
	c.closeEngine()
}

func (c *Coordinator) handle(ev event) {
	switch ev.kind {
	case evSurface:
		c.onSurface(ev.msg)
	case evCapture:
		c.onCapture(ev.msg)
	case evEngine:
		c.onEngine(ev.msg, ev.engineGen)
	case evRequestTimeout:
		c.onRequestTimeout(ev.requestID)
	case evCaptureTimeout:
		c.onCaptureTimeout(ev.sessionID)
	case evAutoEnd:
		c.onAutoEnd(ev.sessionID, ev.reason)
	case evCaptureHandshake:
		if s := c.current(ev.sessionID); s != nil && !s.handshaken && s.state == message.Capturing {
			slog.Warn("capture sandbox has not confirmed start", "session_id", s.id, "waited", c.cfg.HandshakeTimeout)
		}
	case evEngineHandshake:
		if ev.engineGen == c.engineGen && c.engine != nil && !c.engineReady {
			slog.Warn("transcription engine still warming up", "waited", c.cfg.HandshakeTimeout)
		}
	case evReset:
		c.onReset(ev.settings)
	case evSnapshot:
		ev.reply <- c.snapshot()
	}
}

func (c *Coordinator) onSurface(m message.Message) {
	switch m.Type {
	case message.StartSession:
		c.begin(TriggerSurface)
	case message.TestMic:
		c.begin(TriggerTestMic)
	case message.EndSession:
		c.end()
	}
}

func (c *Coordinator) begin(trigger string) {
	if c.sess != nil {
		slog.Info("begin ignored: session already active", "session_id", c.sess.id, "state", c.sess.state)
		return
	}

	id := uuid.NewString()
	ctx, span := observe.StartSessionSpan(context.Background(), id, trigger)
	s := &session{
		id:        id,
		trigger:   trigger,
		state:     message.Capturing,
		startedAt: time.Now(),
		locale:    c.settings.Locale,
		modelSize: c.settings.ModelSize,
		ctx:       ctx,
		span:      span,
	}
	c.sess = s
	c.metrics.RecordSessionStarted(ctx, trigger)
	observe.Logger(ctx).Info("session started", "session_id", id, "trigger", trigger)

	s.capture = c.newCapture(id, func(m message.Message) {
		c.inbox.Post(event{kind: evCapture, msg: m.Clone()})
	})
	s.capture.Begin()
	c.notifyState()

	c.after(c.cfg.HandshakeTimeout, event{kind: evCaptureHandshake, sessionID: id})
	c.after(c.cfg.MaxRecording, event{kind: evAutoEnd, sessionID: id, reason: "max recording reached"})
	if trigger == TriggerTestMic {
		c.after(c.cfg.TestMicDuration, event{kind: evAutoEnd, sessionID: id, reason: "microphone test finished"})
	}
}

func (c *Coordinator) end() {
	s := c.sess
	if s == nil || s.state != message.Capturing {
		return
	}
	s.state = message.AwaitingEngine
	s.capture.End()
	c.after(c.cfg.CaptureTimeout, event{kind: evCaptureTimeout, sessionID: s.id})
	c.notifyState()
}

func (c *Coordinator) onAutoEnd(sessionID, reason string) {
	s := c.current(sessionID)
	if s == nil || s.state != message.Capturing {
		return
	}
	observe.Logger(s.ctx).Info("ending capture", "session_id", s.id, "why", reason)
	c.end()
}

func (c *Coordinator) onCapture(m message.Message) {
	s := c.current(m.SessionID)
	if s == nil {
		slog.Debug("dropping capture event for inactive session", "type", m.Type, "session_id", m.SessionID)
		return
	}

	switch m.Type {
	case message.CaptureStarted:
		s.handshaken = true
		s.captureStarted = time.Now()

	case message.CaptureFailed:
		if s.state != message.Capturing && s.state != message.AwaitingEngine {
			return
		}
		c.releaseCapture()
		if m.Reason == message.DeviceDenied {
			c.promptMicSettings()
		}
		c.fail(m.Reason)

	case message.CaptureReady:
		if s.state != message.Capturing && s.state != message.AwaitingEngine {
			return
		}
		c.releaseCapture()
		c.submit(m.Audio)
	}
}

// submit hands the captured audio to the engine and starts the request
// timeout. The request carries the settings of the engine it goes to, which
// differ from those at begin when a reset arrived during capture.
func (c *Coordinator) submit(audio []byte) {
	s := c.sess
	engine := c.ensureEngine()
	s.locale = c.settings.Locale
	s.modelSize = c.settings.ModelSize

	now := time.Now()
	s.requestID = uuid.NewString()
	s.state = message.Transcribing
	c.table.Put(correlation.Pending{
		RequestID:   s.requestID,
		SessionID:   s.id,
		SubmittedAt: now,
		Deadline:    now.Add(c.cfg.RequestTimeout),
	})
	c.metrics.PendingRequests.Add(s.ctx, 1)
	c.after(c.cfg.RequestTimeout, event{kind: evRequestTimeout, requestID: s.requestID})

	observe.Logger(s.ctx).Debug("submitting recording",
		"session_id", s.id, "request_id", s.requestID, "bytes", len(audio))
	engine.Submit(message.Submission(s.requestID, audio, s.locale))
	c.notifyState()
}

func (c *Coordinator) ensureEngine() EngineHandle {
	if c.engine != nil {
		return c.engine
	}
	c.engineGen++
	gen := c.engineGen
	c.engineReady = false
	c.engine = c.newEngine(c.settings, func(m message.Message) {
		c.inbox.Post(event{kind: evEngine, msg: m.Clone(), engineGen: gen})
	})
	slog.Info("transcription engine created", "model_size", c.settings.ModelSize, "locale", c.settings.Locale)
	c.after(c.cfg.HandshakeTimeout, event{kind: evEngineHandshake, engineGen: gen})
	return c.engine
}

func (c *Coordinator) onEngine(m message.Message, gen int) {
	switch m.Type {
	case message.EngineReady:
		if gen == c.engineGen {
			c.engineReady = true
		}

	case message.Progress:
		if s := c.sess; s != nil && s.requestID == m.RequestID && c.table.Contains(m.RequestID) {
			c.surface.Deliver(message.Message{
				Type:      message.Progress,
				SessionID: s.id,
				RequestID: m.RequestID,
				Percent:   m.Percent,
			})
		}

	case message.Result, message.ResultFailed:
		if !c.resolve(m.RequestID) {
			slog.Debug("dropping duplicate or late engine result", "request_id", m.RequestID, "type", m.Type)
			return
		}
		if m.Type == message.ResultFailed {
			c.fail(m.Reason)
			return
		}
		text := m.Text
		if c.corrector != nil {
			text = c.corrector.Correct(text)
		}
		c.complete(text)
	}
}

// resolve takes requestID from the table and reports whether it belongs to
// the active session.
func (c *Coordinator) resolve(requestID string) bool {
	p, ok := c.table.Take(requestID)
	if !ok {
		return false
	}
	c.metrics.PendingRequests.Add(context.Background(), -1)
	s := c.current(p.SessionID)
	return s != nil && s.requestID == requestID
}

func (c *Coordinator) onRequestTimeout(requestID string) {
	if !c.resolve(requestID) {
		return
	}
	observe.Logger(c.sess.ctx).Warn("transcription timed out", "session_id", c.sess.id, "request_id", requestID)
	c.abandonEngine()
	c.fail(message.Timeout)
}

func (c *Coordinator) sweep(now time.Time) {
	for _, p := range c.table.Sweep(now) {
		c.metrics.PendingRequests.Add(context.Background(), -1)
		s := c.current(p.SessionID)
		if s == nil || s.requestID != p.RequestID {
			continue
		}
		observe.Logger(s.ctx).Warn("transcription expired in sweep", "session_id", s.id, "request_id", p.RequestID)
		c.abandonEngine()
		c.fail(message.Timeout)
	}
}

func (c *Coordinator) onCaptureTimeout(sessionID string) {
	s := c.current(sessionID)
	if s == nil || s.state != message.AwaitingEngine {
		return
	}
	observe.Logger(s.ctx).Warn("capture did not finalize", "session_id", s.id, "waited", c.cfg.CaptureTimeout)
	c.releaseCapture()
	c.fail(message.Timeout)
}

func (c *Coordinator) onReset(s Settings) {
	changed := s != c.settings
	c.settings = s
	if c.engine == nil {
		return
	}
	slog.Info("resetting transcription engine", "settings_changed", changed, "model_size", s.ModelSize, "locale", s.Locale)
	c.closeEngine()
}

// abandonEngine drops an engine that let a request time out. Its worker
// may still be stuck in that request, so the next session gets a fresh one.
func (c *Coordinator) abandonEngine() {
	if c.engine == nil {
		return
	}
	slog.Warn("resetting unresponsive transcription engine", "model_size", c.settings.ModelSize, "locale", c.settings.Locale)
	c.closeEngine()
}

func (c *Coordinator) closeEngine() {
	if c.engine == nil {
		return
	}
	c.engine.Reset()
	c.engine.Close()
	c.engine = nil
	c.engineReady = false
}

func (c *Coordinator) complete(text string) {
	s := c.sess
	s.state = message.Completed
	c.surface.Deliver(message.Message{Type: message.SessionResult, SessionID: s.id, Text: text})
	c.finish(history.OutcomeCompleted, "", text)
}

func (c *Coordinator) fail(reason message.Reason) {
	s := c.sess
	s.state = message.Failed
	c.surface.Deliver(message.Message{Type: message.SessionError, SessionID: s.id, Reason: reason})
	c.finish(history.OutcomeFailed, reason, "")
}

// finish tears the session down after its terminal notification.
func (c *Coordinator) finish(outcome string, reason message.Reason, text string) {
	s := c.sess
	for _, t := range s.timers {
		t.Stop()
	}
	c.releaseCapture()
	if s.requestID != "" {
		if _, ok := c.table.Take(s.requestID); ok {
			c.metrics.PendingRequests.Add(s.ctx, -1)
		}
	}

	now := time.Now()
	c.metrics.RecordSessionOutcome(s.ctx, outcome, string(reason), now.Sub(s.startedAt))
	observe.Logger(s.ctx).Info("session finished",
		"session_id", s.id, "outcome", outcome, "reason", reason, "duration", now.Sub(s.startedAt))
	s.span.End()

	if c.recorder != nil {
		c.recorder.Record(history.Entry{
			SessionID: s.id,
			RequestID: s.requestID,
			Trigger:   s.trigger,
			Outcome:   outcome,
			Reason:    string(reason),
			Text:      text,
			Locale:    s.locale,
			ModelSize: s.modelSize,
			StartedAt: s.startedAt,
			EndedAt:   now,
		})
	}

	c.sess = nil
	c.notifyState()
}

// releaseCapture destroys the session's sandbox, releasing the device.
func (c *Coordinator) releaseCapture() {
	s := c.sess
	if s == nil || s.capture == nil {
		return
	}
	s.capture.Destroy()
	s.capture = nil
	if !s.captureStarted.IsZero() {
		c.metrics.RecordCapture(s.ctx, time.Since(s.captureStarted))
		s.captureStarted = time.Time{}
	}
}

func (c *Coordinator) promptMicSettings() {
	now := time.Now()
	if !c.lastMicPrompt.IsZero() && now.Sub(c.lastMicPrompt) < c.cfg.MicSettingsDebounce {
		return
	}
	c.lastMicPrompt = now
	c.surface.Deliver(message.Message{Type: message.OpenMicSettings, SessionID: c.sess.id})
}

func (c *Coordinator) notifyState() {
	m := message.Message{Type: message.SessionState, State: message.Idle}
	if c.sess != nil {
		m.SessionID = c.sess.id
		m.State = c.sess.state
	}
	c.surface.Deliver(m)
}

// current returns the active session if its id is sessionID.
func (c *Coordinator) current(sessionID string) *session {
	if c.sess == nil || c.sess.id != sessionID {
		return nil
	}
	return c.sess
}

// after posts ev once d has elapsed. Timers belong to the active session
// when there is one and are stopped when it finishes.
func (c *Coordinator) after(d time.Duration, ev event) {
	t := time.AfterFunc(d, func() { c.inbox.Post(ev) })
	if c.sess != nil {
		c.sess.timers = append(c.sess.timers, t)
	}
}

func (c *Coordinator) snapshot() Snapshot {
	snap := Snapshot{
		State:       message.Idle,
		Pending:     c.table.Len(),
		EngineAlive: c.engine != nil,
		EngineReady: c.engineReady,
		Settings:    c.settings,
	}
	if c.sess != nil {
		snap.State = c.sess.state
		snap.SessionID = c.sess.id
		snap.RequestID = c.sess.requestID
	}
	return snap
}
