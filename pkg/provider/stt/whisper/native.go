// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is opened by Load and kept until Close.
type NativeProvider struct {
	modelPath string

	mu    sync.Mutex
	model whisperlib.Model
}

// NewNative creates a NativeProvider for the ggml model file at modelPath.
// The file is not opened until Load.
func NewNative(modelPath string) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	return &NativeProvider{modelPath: modelPath}, nil
}

// Load opens the model file. Calling Load on a loaded provider is a no-op.
func (p *NativeProvider) Load(ctx context.Context, progress stt.ProgressFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		report(progress, 100)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	report(progress, 0)
	model, err := whisperlib.New(p.modelPath)
	if err != nil {
		return fmt.Errorf("%w: load model %q: %v", stt.ErrEngineInit, p.modelPath, err)
	}
	p.model = model
	report(progress, 100)
	slog.Info("whisper model loaded", "path", p.modelPath)
	return nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe runs whisper.cpp inference on a fresh context and returns the
// concatenated segment text.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return stt.Transcript{}, stt.ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}

	// Contexts are not thread-safe; the model is shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = autoLanguage
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}

	if err := wctx.Process(audio.Float32(req.Samples), nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("%w: %v", stt.ErrDecode, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	tr := stt.Transcript{Text: strings.Join(parts, " "), Language: req.Language}
	if tr.Empty() {
		return tr, stt.ErrNoSpeech
	}
	return tr, nil
}
