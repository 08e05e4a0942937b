// Command holdscribe is the main entry point for the holdscribe dictation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/holdscribe/internal/app"
	"github.com/MrWong99/holdscribe/internal/config"
	"github.com/MrWong99/holdscribe/internal/observe"
	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/audio/portaudio"
	"github.com/MrWong99/holdscribe/pkg/provider/stt"
	oaistt "github.com/MrWong99/holdscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/holdscribe/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "holdscribe.yaml", "path to the YAML configuration file")
	watch := flag.Duration("watch", 5*time.Second, "config file polling interval; 0 disables live reload")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "holdscribe: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "holdscribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("holdscribe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"model", stt.ModelName(cfg.Engine.ModelSize, cfg.Engine.Locale),
		"provider", cfg.Engine.Provider.Name,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Model:          stt.ModelName(cfg.Engine.ModelSize, cfg.Engine.Locale),
		Locale:         cfg.Engine.Locale,
		Backend:        cfg.Engine.Provider.Name,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	application, err := app.New(ctx, cfg, reg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Live reload ───────────────────────────────────────────────────────────
	if *watch > 0 {
		watcher, err := config.NewWatcher(*configPath, application.Reconfigure, config.WithInterval(*watch))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer watcher.Stop()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					slog.Info("SIGHUP received, reloading config")
					watcher.Reload()
				}
			}
		}()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	code := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		code = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in transcription backends and
// capture devices into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// whisper.cpp linked in-process. The model file follows the configured
	// size and locale unless the entry pins one.
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, engine config.EngineConfig) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = app.ModelPath(engine)
		}
		return whisper.NewNative(modelPath)
	})

	// whisper.cpp server. The path is on the server's filesystem.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, engine config.EngineConfig) (stt.Provider, error) {
		var opts []whisper.Option
		switch {
		case entry.Model != "":
			opts = append(opts, whisper.WithModelPath(entry.Model))
		case !optBool(entry.Options, "keep_model"):
			opts = append(opts, whisper.WithModelPath(app.ModelPath(engine)))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry, _ config.EngineConfig) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, oaistt.WithMaxRetries(n))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterDevice("portaudio", func(cfg config.CaptureConfig) (audio.Device, error) {
		var opts []portaudio.Option
		if cfg.DeviceName != "" {
			opts = append(opts, portaudio.WithDeviceName(cfg.DeviceName))
		}
		if cfg.FrameMs > 0 {
			opts = append(opts, portaudio.WithFrameDuration(time.Duration(cfg.FrameMs)*time.Millisecond))
		}
		return portaudio.New(opts...), nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}

// optInt accepts the int that yaml.v3 decodes whole numbers into.
func optInt(opts map[string]any, key string) (int, bool) {
	n, ok := opts[key].(int)
	return n, ok
}
