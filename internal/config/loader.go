package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/holdscribe/pkg/audio/codec"
	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

// ValidProviderNames lists known backend names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"engine":  {"whisper", "whisper-native", "openai"},
	"capture": {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}

	// Engine
	if !stt.ValidSize(cfg.Engine.ModelSize) {
		errs = append(errs, fmt.Errorf("engine.model_size %q is invalid; valid values: tiny, base, small, medium, large", cfg.Engine.ModelSize))
	}
	if cfg.Engine.Locale == "" {
		errs = append(errs, errors.New("engine.locale is required"))
	}
	entries := append([]ProviderEntry{cfg.Engine.Provider}, cfg.Engine.Fallbacks...)
	for i, e := range entries {
		prefix := "engine.provider"
		if i > 0 {
			prefix = fmt.Sprintf("engine.fallbacks[%d]", i-1)
		}
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("engine", e.Name)
		switch e.Name {
		case "whisper":
			if e.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s: backend %q requires base_url", prefix, e.Name))
			}
		case "openai":
			if e.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s: backend %q requires api_key", prefix, e.Name))
			}
		}
	}
	if cfg.Engine.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("engine.breaker.max_failures %d must not be negative", cfg.Engine.Breaker.MaxFailures))
	}

	// Capture
	validateProviderName("capture", cfg.Capture.Backend)
	if cfg.Capture.SampleRate < 8000 || cfg.Capture.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d is out of range [8000, 48000]", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels != 1 && cfg.Capture.Channels != 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is invalid; valid values: 1, 2", cfg.Capture.Channels))
	}
	if !codec.Valid(cfg.Capture.Codec) {
		errs = append(errs, fmt.Errorf("capture.codec %q is invalid; valid values: opus, pcm", cfg.Capture.Codec))
	}
	if cfg.Capture.FrameMs < 5 || cfg.Capture.FrameMs > 120 {
		errs = append(errs, fmt.Errorf("capture.frame_ms %d is out of range [5, 120]", cfg.Capture.FrameMs))
	}

	// Session
	for name, d := range map[string]time.Duration{
		"max_recording":         cfg.Session.MaxRecording,
		"capture_timeout":       cfg.Session.CaptureTimeout,
		"request_timeout":       cfg.Session.RequestTimeout,
		"sweep_interval":        cfg.Session.SweepInterval,
		"handshake_timeout":     cfg.Session.HandshakeTimeout,
		"mic_settings_debounce": cfg.Session.MicSettingsDebounce,
		"test_mic_duration":     cfg.Session.TestMicDuration,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("session.%s %s must not be negative", name, d))
		}
	}

	// Vocabulary
	for name, v := range map[string]float64{
		"phonetic_threshold": cfg.Vocabulary.PhoneticThreshold,
		"fuzzy_threshold":    cfg.Vocabulary.FuzzyThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("vocabulary.%s %.2f is out of range [0, 1]", name, v))
		}
	}

	// History
	if cfg.History.Size < 0 {
		errs = append(errs, fmt.Errorf("history.size %d must not be negative", cfg.History.Size))
	}
	if cfg.History.Retention < 0 {
		errs = append(errs, fmt.Errorf("history.retention %s must not be negative", cfg.History.Retention))
	}
	if cfg.History.Retention > 0 && cfg.History.PostgresDSN == "" {
		slog.Warn("history.retention has no effect without history.postgres_dsn")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name, may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
