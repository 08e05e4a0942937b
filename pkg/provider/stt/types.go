package stt

import (
	"strings"
	"time"
)

// Request is one finished recording to transcribe.
type Request struct {
	// ID is the correlation identifier of the request, for logging.
	ID string

	// Samples holds 16 kHz mono 16-bit PCM.
	Samples []int16

	// Language is the ISO-639-1 hint passed to the engine. Empty means
	// auto-detect.
	Language string

	// Prompt optionally biases recognition towards the given vocabulary.
	Prompt string
}

// SampleRate is the rate of [Request.Samples].
const SampleRate = 16000

// Duration returns the length of the recording.
func (r Request) Duration() time.Duration {
	return time.Duration(len(r.Samples)) * time.Second / SampleRate
}

// Transcript is the text produced for a [Request].
type Transcript struct {
	Text string

	// Language is the detected or requested language, when known.
	Language string
}

// Empty reports whether the transcript contains no words.
func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == ""
}

// Model sizes understood by [ModelName].
const (
	SizeTiny   = "tiny"
	SizeBase   = "base"
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// Locale values with special meaning.
const (
	// LocaleEnglish selects the English-only model variant.
	LocaleEnglish = "en"

	// LocaleMultilingual selects the multilingual model and lets the engine
	// detect the spoken language.
	LocaleMultilingual = "multilingual"
)

// ValidSize reports whether size is a known model size.
func ValidSize(size string) bool {
	switch size {
	case SizeTiny, SizeBase, SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// ModelName returns the model identifier for size and locale, e.g.
// "whisper-small.en" for English and "whisper-small" otherwise. The large
// model has no English-only variant.
func ModelName(size, locale string) string {
	name := "whisper-" + size
	if locale == LocaleEnglish && size != SizeLarge {
		name += ".en"
	}
	return name
}

// ModelFile returns the ggml file name whisper.cpp expects for size and
// locale, e.g. "ggml-small.en.bin".
func ModelFile(size, locale string) string {
	return "ggml-" + strings.TrimPrefix(ModelName(size, locale), "whisper-") + ".bin"
}

// LanguageHint converts a configured locale into the language hint sent to
// an engine. Multilingual means auto-detect and yields "". Region suffixes
// are dropped ("de-AT" → "de").
func LanguageHint(locale string) string {
	if locale == "" || locale == LocaleMultilingual {
		return ""
	}
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}
