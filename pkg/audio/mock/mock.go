// Package mock provides in-memory test doubles for [audio.Device] and
// [audio.Stream].
//
// The mocks are safe for concurrent use. They record calls so tests can
// assert on open/close counts, and expose fields that control behaviour.
//
// Typical usage:
//
//	dev := &mock.Device{Frames: mock.Tone(100, 320, 1000)}
//	stream, err := dev.Open(ctx, audio.SpeechFormat)
//	frame, err := stream.Read()
//	_ = stream.Close()
//	dev.Stream().Closed() // true
package mock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/holdscribe/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// Frames are returned in order by Read on each opened stream. Once they
	// are exhausted Read blocks until the stream is closed or ReadErr fires.
	Frames [][]int16

	// FrameInterval, when positive, paces Read like a real device.
	FrameInterval time.Duration

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenDelay delays Open, simulating a permission prompt.
	OpenDelay time.Duration

	// ReadErr, if non-nil, is returned by Read after all Frames have been
	// delivered instead of blocking.
	ReadErr error

	// OpenCalls records the format of every Open call.
	OpenCalls []audio.Format

	streams []*Stream
}

var _ audio.Device = (*Device)(nil)

// Open records the call and returns a new Stream or OpenErr.
func (d *Device) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	d.mu.Lock()
	delay := d.OpenDelay
	d.OpenCalls = append(d.OpenCalls, f)
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &Stream{
		frames:   d.Frames,
		interval: d.FrameInterval,
		readErr:  d.ReadErr,
		done:     make(chan struct{}),
	}
	d.streams = append(d.streams, s)
	return s, nil
}

// Stream returns the most recently opened stream, or nil.
func (d *Device) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// Streams returns every stream opened so far.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// OpenCount returns the number of Open calls.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu       sync.Mutex
	frames   [][]int16
	next     int
	interval time.Duration
	readErr  error
	reads    int
	closes   int
	done     chan struct{}
}

var _ audio.Stream = (*Stream)(nil)

// Read returns the next configured frame.
func (s *Stream) Read() ([]int16, error) {
	if s.interval > 0 {
		select {
		case <-time.After(s.interval):
		case <-s.done:
			return nil, audio.ErrStreamClosed
		}
	}

	s.mu.Lock()
	if s.closes > 0 {
		s.mu.Unlock()
		return nil, audio.ErrStreamClosed
	}
	if s.next < len(s.frames) {
		f := append([]int16(nil), s.frames[s.next]...)
		s.next++
		s.reads++
		s.mu.Unlock()
		return f, nil
	}
	readErr := s.readErr
	s.mu.Unlock()

	if readErr != nil {
		return nil, readErr
	}
	<-s.done
	return nil, audio.ErrStreamClosed
}

// Close releases the stream. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		close(s.done)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

// CloseCount returns the number of Close calls.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Reads returns the number of frames delivered.
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Tone returns n frames of size samples holding a 440 Hz sine wave at the
// given amplitude, sampled at 16 kHz.
func Tone(n, size int, amplitude float64) [][]int16 {
	frames := make([][]int16, n)
	for i := range n {
		f := make([]int16, size)
		for j := range size {
			t := float64(i*size+j) / 16000
			f[j] = int16(amplitude * math.Sin(2*math.Pi*440*t))
		}
		frames[i] = f
	}
	return frames
}

// Silence returns n frames of size zero samples.
func Silence(n, size int) [][]int16 {
	frames := make([][]int16, n)
	for i := range n {
		frames[i] = make([]int16, size)
	}
	return frames
}
