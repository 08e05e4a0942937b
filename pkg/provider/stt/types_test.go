package stt_test

import (
	"testing"
	"time"

	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

func TestModelName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size, locale string
		wantName     string
		wantFile     string
	}{
		{"small", "en", "whisper-small.en", "ggml-small.en.bin"},
		{"small", "multilingual", "whisper-small", "ggml-small.bin"},
		{"base", "de", "whisper-base", "ggml-base.bin"},
		{"large", "en", "whisper-large", "ggml-large.bin"},
	}
	for _, tc := range tests {
		t.Run(tc.size+"/"+tc.locale, func(t *testing.T) {
			t.Parallel()
			if got := stt.ModelName(tc.size, tc.locale); got != tc.wantName {
				t.Errorf("ModelName = %q, want %q", got, tc.wantName)
			}
			if got := stt.ModelFile(tc.size, tc.locale); got != tc.wantFile {
				t.Errorf("ModelFile = %q, want %q", got, tc.wantFile)
			}
		})
	}
}

func TestLanguageHint(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":             "",
		"multilingual": "",
		"en":           "en",
		"de-AT":        "de",
		"FR":           "fr",
	}
	for locale, want := range tests {
		if got := stt.LanguageHint(locale); got != want {
			t.Errorf("LanguageHint(%q) = %q, want %q", locale, got, want)
		}
	}
}

func TestRequestDuration(t *testing.T) {
	t.Parallel()
	r := stt.Request{Samples: make([]int16, 24000)}
	if got := r.Duration(); got != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", got)
	}
}

func TestValidSize(t *testing.T) {
	t.Parallel()
	if !stt.ValidSize("small") || stt.ValidSize("huge") {
		t.Error("ValidSize misclassified")
	}
	if !(stt.Transcript{Text: "  "}).Empty() {
		t.Error("whitespace transcript should be empty")
	}
}
