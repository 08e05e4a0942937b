// Package app wires the holdscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the surfaces and drives the session coordinator,
// Reconfigure applies live config changes, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithConsoleIO, etc.). When an option is not provided, New creates real
// implementations from the config and registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/holdscribe/internal/capture"
	"github.com/MrWong99/holdscribe/internal/config"
	"github.com/MrWong99/holdscribe/internal/coordinator"
	"github.com/MrWong99/holdscribe/internal/enginehost"
	"github.com/MrWong99/holdscribe/internal/health"
	"github.com/MrWong99/holdscribe/internal/history"
	"github.com/MrWong99/holdscribe/internal/message"
	"github.com/MrWong99/holdscribe/internal/observe"
	"github.com/MrWong99/holdscribe/internal/resilience"
	"github.com/MrWong99/holdscribe/internal/surface"
	"github.com/MrWong99/holdscribe/internal/vocab"
	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

// pruneInterval is how often history rows older than the retention are
// deleted.
const pruneInterval = time.Hour

// App owns all subsystem lifetimes.
type App struct {
	reg     *config.Registry
	metrics *observe.Metrics
	level   *slog.LevelVar

	// mu guards cfg, which Reconfigure updates while the coordinator
	// goroutine reads it in newEngine.
	mu  sync.RWMutex
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	device   audio.Device
	vocab    *vocab.Live
	store    *history.Store
	history  *history.Log
	hub      *surface.Hub
	console  *surface.Console
	coord    *coordinator.Coordinator
	handler  http.Handler
	listener net.Listener

	consoleIn  io.Reader
	consoleOut io.Writer

	// closers are called in order during Shutdown.
	closers []func(ctx context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a capture device instead of creating one from the
// registry.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithConsoleIO sets the console surface's input and output. Defaults to
// stdin and stdout.
func WithConsoleIO(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.consoleIn, a.consoleOut = in, out }
}

// WithLogLevel lets Reconfigure adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves HTTP on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Transcription
// backends are not created here: the engine host builds them lazily from
// reg on the first session.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	// Reconfigure updates the live sections in place, so keep a private
	// copy.
	own := *cfg
	a := &App{
		cfg:        &own,
		reg:        reg,
		consoleIn:  os.Stdin,
		consoleOut: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Capture device ────────────────────────────────────────────────
	if a.device == nil {
		dev, err := reg.CreateDevice(cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("app: create capture device: %w", err)
		}
		a.device = dev
	}

	// ── 2. Vocabulary ────────────────────────────────────────────────────
	a.vocab = vocab.NewLive(newCorrector(cfg.Vocabulary))

	// ── 3. Session history ───────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 4. Surfaces + coordinator ────────────────────────────────────────
	a.hub = surface.NewHub()
	surfaces := surface.Fanout{a.hub}
	if cfg.Server.Console {
		a.console = surface.NewConsole(a.consoleIn, a.consoleOut)
		surfaces = append(surfaces, a.console)
	}
	a.coord = coordinator.New(surfaces, a.newCapture, a.newEngine, coordinatorConfig(cfg),
		coordinator.WithCorrector(a.vocab),
		coordinator.WithRecorder(a.history),
		coordinator.WithMetrics(a.metrics),
	)
	a.hub.Bind(a.coord)
	if a.console != nil {
		a.console.Bind(a.coord)
	}

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory sets up the in-memory session log, backed by PostgreSQL when
// a DSN is configured.
func (a *App) initHistory(ctx context.Context) error {
	var opts []history.LogOption
	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		store, err := history.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
		opts = append(opts, history.WithSink(store))
		slog.Info("session history persisted to postgres")
	}
	a.history = history.NewLog(a.cfg.History.Size, opts...)

	// The log flushes into the store, so it closes first.
	a.closers = append(a.closers, a.history.Close)
	if a.store != nil {
		a.closers = append(a.closers, func(context.Context) error {
			a.store.Close()
			return nil
		})
	}
	return nil
}

func (a *App) routes() http.Handler {
	var checkers []health.Checker
	checkers = append(checkers, health.CoordinatorCheck(a.coord))
	if a.store != nil {
		checkers = append(checkers, health.PingCheck("history", a.store))
	}

	api := http.NewServeMux()
	health.New(checkers, health.WithStatus(a.coord)).Register(api)
	history.NewHandler(a.history).Register(api)
	api.Handle("GET /metrics", promhttp.Handler())

	// The WebSocket endpoint bypasses the middleware: its request lives as
	// long as the connection.
	root := http.NewServeMux()
	a.hub.Register(root, "/ws")
	root.Handle("/", observe.Middleware(a.metrics)(api))
	return root
}

// coordinatorConfig maps the session section onto coordinator timeouts.
// Zero values keep the coordinator defaults.
func coordinatorConfig(cfg *config.Config) coordinator.Config {
	return coordinator.Config{
		Settings: coordinator.Settings{
			ModelSize: cfg.Engine.ModelSize,
			Locale:    cfg.Engine.Locale,
		},
		MaxRecording:        cfg.Session.MaxRecording,
		CaptureTimeout:      cfg.Session.CaptureTimeout,
		RequestTimeout:      cfg.Session.RequestTimeout,
		SweepInterval:       cfg.Session.SweepInterval,
		HandshakeTimeout:    cfg.Session.HandshakeTimeout,
		MicSettingsDebounce: cfg.Session.MicSettingsDebounce,
		TestMicDuration:     cfg.Session.TestMicDuration,
	}
}

func newCorrector(v config.VocabularyConfig) *vocab.Corrector {
	var opts []vocab.Option
	if v.PhoneticThreshold > 0 {
		opts = append(opts, vocab.WithPhoneticThreshold(v.PhoneticThreshold))
	}
	if v.FuzzyThreshold > 0 {
		opts = append(opts, vocab.WithFuzzyThreshold(v.FuzzyThreshold))
	}
	return vocab.New(v.Words, opts...)
}

// ─── Actor factories ─────────────────────────────────────────────────────────

// newCapture creates the sandbox for one session. The capture section is
// only read at startup, so no lock is needed.
func (a *App) newCapture(sessionID string, emit func(message.Message)) coordinator.CaptureHandle {
	c := a.cfg.Capture
	return capture.New(sessionID, a.device, emit, capture.Config{
		Format: audio.Format{SampleRate: c.SampleRate, Channels: c.Channels},
		Codec:  c.Codec,
	})
}

// newEngine creates an engine host for s from the current engine section.
func (a *App) newEngine(s coordinator.Settings, emit func(message.Message)) coordinator.EngineHandle {
	a.mu.RLock()
	engine := a.cfg.Engine
	usePrompt := a.cfg.Vocabulary.Prompt
	a.mu.RUnlock()

	engine.ModelSize = s.ModelSize
	engine.Locale = s.Locale
	var prompt string
	if usePrompt {
		prompt = a.vocab.Prompt()
	}
	slog.Info("creating engine host",
		"model", stt.ModelName(s.ModelSize, s.Locale),
		"provider", engine.Provider.Name,
		"fallbacks", len(engine.Fallbacks),
	)
	return enginehost.New(func() (stt.Provider, error) { return a.buildSTT(engine) }, emit, enginehost.Config{
		Locale:           s.Locale,
		Prompt:           prompt,
		SilenceThreshold: engine.SilenceThreshold,
		Metrics:          a.metrics,
	})
}

// buildSTT creates the configured backends behind per-backend circuit
// breakers. A fallback that cannot be created is skipped with a warning;
// the primary is required.
func (a *App) buildSTT(engine config.EngineConfig) (stt.Provider, error) {
	primary, err := a.reg.CreateSTT(engine.Provider, engine)
	if err != nil {
		return nil, fmt.Errorf("%w: create %q: %v", stt.ErrEngineInit, engine.Provider.Name, err)
	}
	fb := resilience.NewSTTFallback(primary, engine.Provider.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  engine.Breaker.MaxFailures,
			ResetTimeout: engine.Breaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("transcription backend breaker changed state", "backend", name, "from", from, "to", to)
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	for _, entry := range engine.Fallbacks {
		p, err := a.reg.CreateSTT(entry, engine)
		if err != nil {
			slog.Warn("skipping transcription fallback", "name", entry.Name, "err", err)
			continue
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, runs the coordinator and the console surface, and prunes
// old history rows. It blocks until ctx is cancelled or a component fails.
// The console returning on end of input does not stop the application.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	slog.Info("http server listening", "addr", ln.Addr().String())
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.coord.Run(gctx) })
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.console != nil {
		g.Go(func() error {
			if err := a.console.Run(gctx); err != nil {
				slog.Warn("console input failed", "err", err)
			}
			return nil
		})
	}
	if a.store != nil && a.cfg.History.Retention > 0 {
		g.Go(func() error {
			a.pruneLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		a.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) prune(ctx context.Context) {
	cutoff := time.Now().Add(-a.cfg.History.Retention)
	n, err := a.store.Prune(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("history prune failed", "err", err)
		}
		return
	}
	if n > 0 {
		slog.Info("pruned session history", "rows", n, "cutoff", cutoff)
	}
}

// ─── Reconfigure ─────────────────────────────────────────────────────────────

// Reconfigure applies a changed config. The log level and vocabulary take
// effect immediately; engine changes reset the coordinator so the next
// session builds a fresh engine. Sections that need a restart are logged.
// It is meant as the [config.Watcher] callback.
func (a *App) Reconfigure(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	a.mu.Lock()
	a.cfg.Engine = new.Engine
	a.cfg.Vocabulary = new.Vocabulary
	a.cfg.Server.LogLevel = new.Server.LogLevel
	a.mu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged {
		a.vocab.Replace(newCorrector(new.Vocabulary))
		slog.Info("vocabulary reloaded", "words", len(new.Vocabulary.Words))
	}
	if d.EngineChanged {
		slog.Info("engine settings changed, resetting engine",
			"model_size", new.Engine.ModelSize, "locale", new.Engine.Locale)
		a.coord.Reset(coordinator.Settings{ModelSize: new.Engine.ModelSize, Locale: new.Engine.Locale})
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems after Run has returned. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// SlogLevel converts a configured log level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ModelPath returns the model file for the engine section's size and
// locale inside its model directory.
func ModelPath(engine config.EngineConfig) string {
	return filepath.Join(engine.ModelDir, stt.ModelFile(engine.ModelSize, engine.Locale))
}
