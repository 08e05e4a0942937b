package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several
// transcription backends. "No speech" is an answer about the audio, not a
// backend fault, so it neither trips a breaker nor triggers failover.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = isBackendFailure
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Load loads every backend. It succeeds if at least one backend loaded;
// progress is reported for the primary only.
func (f *STTFallback) Load(ctx context.Context, progress stt.ProgressFunc) error {
	var (
		errs   []error
		loaded int
		first  = true
	)
	f.group.Each(func(name string, p stt.Provider) {
		pf := progress
		if !first {
			pf = nil
		}
		first = false
		if err := p.Load(ctx, pf); err != nil {
			slog.Warn("stt backend failed to load", "backend", name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		loaded++
	})
	if loaded == 0 {
		return fmt.Errorf("%w: %w", stt.ErrEngineInit, errors.Join(errs...))
	}
	if progress != nil {
		progress(100)
	}
	return nil
}

// Transcribe uses the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// Close closes every backend.
func (f *STTFallback) Close() error {
	var errs []error
	f.group.Each(func(name string, p stt.Provider) {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	})
	return errors.Join(errs...)
}

func isBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, stt.ErrNoSpeech) && !errors.Is(err, context.Canceled)
}
