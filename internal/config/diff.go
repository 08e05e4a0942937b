package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// EngineChanged is true when the engine must be rebuilt: the model
	// size, locale, backends, model directory or silence threshold changed.
	EngineChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VocabularyChanged is true when the corrector must be rebuilt.
	VocabularyChanged bool

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.EngineChanged && !d.LogLevelChanged && !d.VocabularyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.EngineChanged = !reflect.DeepEqual(old.Engine, new.Engine)

	wordsChanged := !slices.Equal(old.Vocabulary.Words, new.Vocabulary.Words)
	promptChanged := old.Vocabulary.Prompt != new.Vocabulary.Prompt
	d.VocabularyChanged = wordsChanged || promptChanged ||
		old.Vocabulary.PhoneticThreshold != new.Vocabulary.PhoneticThreshold ||
		old.Vocabulary.FuzzyThreshold != new.Vocabulary.FuzzyThreshold

	// The prompt is baked into the engine host.
	if promptChanged || (wordsChanged && new.Vocabulary.Prompt) {
		d.EngineChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		old.Server.Console != new.Server.Console ||
		old.Server.TraceSampleRatio != new.Server.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}

	return d
}
