// Package audio defines the capture-side audio types shared by holdscribe:
// the PCM [Format], the microphone [Device] and [Stream] abstractions, the
// [Encoder] that turns captured frames into an opaque payload, and the PCM
// helpers used to normalise audio before it reaches a transcription engine.
//
// Device implementations live in adapter packages (audio/portaudio for a
// real microphone, audio/mock for tests). Codecs live in audio/opus and in
// this package ([PCMEncoder]); audio/codec selects between them.
//
// This package lives under pkg/ because external code is expected to
// implement [Device] for other capture backends.
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDeviceDenied is returned by [Device.Open] when the user or the
	// operating system refused access to the microphone.
	ErrDeviceDenied = errors.New("audio: device access denied")

	// ErrDeviceUnavailable is returned by [Device.Open] when no usable input
	// device exists, and by [Stream.Read] when the device disappears mid-capture.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrStreamClosed is returned by [Stream.Read] after [Stream.Close].
	ErrStreamClosed = errors.New("audio: stream closed")

	// ErrUnknownCodec is returned when a payload header names no known codec.
	ErrUnknownCodec = errors.New("audio: unknown codec")
)

// Format describes the sample rate and channel count of 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the format transcription engines consume: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// SamplesFor returns the number of interleaved samples covering d.
func (f Format) SamplesFor(d time.Duration) int {
	return int(int64(f.SampleRate)*d.Milliseconds()/1000) * f.Channels
}

// Clip is a decoded block of interleaved 16-bit PCM audio.
type Clip struct {
	Format  Format
	Samples []int16
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if !c.Format.Valid() {
		return 0
	}
	frames := len(c.Samples) / c.Format.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.Format.SampleRate)
}

// Device acquires an exclusive input stream from a microphone.
//
// Open blocks until the device is granted or refused. Errors must wrap
// [ErrDeviceDenied] or [ErrDeviceUnavailable] so callers can classify them.
type Device interface {
	Open(ctx context.Context, f Format) (Stream, error)
}

// Stream is a live microphone stream. A stream owns the device until Close
// returns; Close must be idempotent and must release the device before it
// returns.
type Stream interface {
	// Read blocks for the next frame of interleaved samples. It returns
	// [ErrStreamClosed] once the stream has been closed.
	Read() ([]int16, error)

	Close() error
}

// Encoder accumulates captured PCM and produces a self-describing payload.
// Encoders are not safe for concurrent use.
type Encoder interface {
	Write(samples []int16) error

	// Finish flushes buffered audio and returns the complete payload. The
	// encoder must not be used afterwards.
	Finish() ([]byte, error)
}
