// Package stt defines the Provider interface for batch speech-to-text
// engines.
//
// A Provider transcribes one finished recording at a time. Loading the
// underlying model is expensive, so it is split out into [Provider.Load],
// which the engine host calls once, lazily, before the first transcription.
//
// Errors returned by Transcribe should wrap [ErrNoSpeech] or [ErrDecode]
// where they apply so that callers can classify failures. Errors returned
// by Load are treated as engine initialisation failures.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrNoSpeech is returned when the audio contained no recognisable
	// speech.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrDecode is returned when the engine could not process the audio.
	ErrDecode = errors.New("stt: could not decode audio")

	// ErrEngineInit is returned when the engine could not be loaded.
	ErrEngineInit = errors.New("stt: engine initialisation failed")

	// ErrNotLoaded is returned by Transcribe before a successful Load.
	ErrNotLoaded = errors.New("stt: engine not loaded")
)

// ProgressFunc receives load progress in percent (0–100). Implementations
// call it zero or more times with non-decreasing values.
type ProgressFunc func(percent int)

// Provider is a batch transcription engine.
//
// Implementations must be safe for sequential use from different
// goroutines; the engine host never calls Transcribe concurrently on the
// same Provider.
type Provider interface {
	// Load prepares the engine (downloads or opens the model). It is called
	// once before the first Transcribe and may report progress.
	Load(ctx context.Context, progress ProgressFunc) error

	// Transcribe converts req into text.
	Transcribe(ctx context.Context, req Request) (Transcript, error)

	// Close releases the engine. A closed Provider must not be reused.
	Close() error
}
