package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/holdscribe/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Vocabulary: config.VocabularyConfig{Words: []string{"Kubernetes"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mutate     func(*config.Config)
		engine     bool
		logLevel   bool
		vocabulary bool
		restart    []string
	}{
		{
			name:     "log level",
			mutate:   func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			logLevel: true,
		},
		{
			name:   "model size",
			mutate: func(c *config.Config) { c.Engine.ModelSize = "medium" },
			engine: true,
		},
		{
			name:   "locale",
			mutate: func(c *config.Config) { c.Engine.Locale = "multilingual" },
			engine: true,
		},
		{
			name: "fallback added",
			mutate: func(c *config.Config) {
				c.Engine.Fallbacks = append(c.Engine.Fallbacks, config.ProviderEntry{Name: "openai", APIKey: "k"})
			},
			engine: true,
		},
		{
			name:       "words without prompt",
			mutate:     func(c *config.Config) { c.Vocabulary.Words = []string{"Kubernetes", "Postgres"} },
			vocabulary: true,
		},
		{
			name: "words with prompt",
			mutate: func(c *config.Config) {
				c.Vocabulary.Words = []string{"Postgres"}
			},
			vocabulary: true,
			engine:     true,
		},
		{
			name:       "prompt toggled",
			mutate:     func(c *config.Config) { c.Vocabulary.Prompt = !c.Vocabulary.Prompt },
			vocabulary: true,
			engine:     true,
		},
		{
			name:    "capture needs restart",
			mutate:  func(c *config.Config) { c.Capture.Codec = "pcm" },
			restart: []string{"capture"},
		},
		{
			name: "server and session need restart",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":1"
				c.Session.MaxRecording = time.Minute
			},
			restart: []string{"server", "session"},
		},
		{
			name:    "trace sampling needs restart",
			mutate:  func(c *config.Config) { c.Server.TraceSampleRatio = 0.25 },
			restart: []string{"server"},
		},
		{
			name:    "history needs restart",
			mutate:  func(c *config.Config) { c.History.Size = 7 },
			restart: []string{"history"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := baseConfig()
			if tt.name == "words with prompt" {
				old.Vocabulary.Prompt = true
			}
			new := baseConfig()
			new.Vocabulary.Prompt = old.Vocabulary.Prompt
			tt.mutate(new)

			d := config.Diff(old, new)
			if d.EngineChanged != tt.engine {
				t.Errorf("EngineChanged = %v, want %v", d.EngineChanged, tt.engine)
			}
			if d.LogLevelChanged != tt.logLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.logLevel)
			}
			if d.VocabularyChanged != tt.vocabulary {
				t.Errorf("VocabularyChanged = %v, want %v", d.VocabularyChanged, tt.vocabulary)
			}
			if !slices.Equal(d.RestartRequired, tt.restart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.restart)
			}
		})
	}
}

func TestDiff_NewLogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogWarn
	if d := config.Diff(old, new); d.NewLogLevel != config.LogWarn {
		t.Errorf("NewLogLevel = %q, want warn", d.NewLogLevel)
	}
}
