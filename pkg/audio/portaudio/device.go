// Package portaudio implements [audio.Device] on top of the PortAudio C
// library. PortAudio (libportaudio and its headers) must be installed at
// build time.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/holdscribe/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// Device opens PortAudio input streams. The zero value is not usable; call
// [New].
type Device struct {
	name    string
	frameMs int
}

// Option is a functional option for [New].
type Option func(*Device)

// WithDeviceName selects an input device by its PortAudio name. When unset
// the system default input device is used.
func WithDeviceName(name string) Option {
	return func(d *Device) { d.name = name }
}

// WithFrameDuration sets the duration of each frame returned by Read.
// Defaults to 20 ms.
func WithFrameDuration(d time.Duration) Option {
	return func(dev *Device) { dev.frameMs = int(d.Milliseconds()) }
}

// New creates a Device.
func New(opts ...Option) *Device {
	d := &Device{frameMs: 20}
	for _, o := range opts {
		o(d)
	}
	if d.frameMs <= 0 {
		d.frameMs = 20
	}
	return d
}

// Open initialises PortAudio, opens the configured input device in format f
// and starts the stream. PortAudio is initialised per stream and terminated
// on Close so that the microphone indicator turns off between sessions.
func (d *Device) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, classify("initialize", err)
	}

	info, err := d.inputDevice()
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}

	frames := f.SampleRate * d.frameMs / 1000
	buf := make([]int16, frames*f.Channels)
	params := pa.LowLatencyParameters(info, nil)
	params.Input.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = frames

	st, err := pa.OpenStream(params, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, classify("open stream", err)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		_ = pa.Terminate()
		return nil, classify("start stream", err)
	}
	slog.Debug("portaudio stream started", "device", info.Name, "format", f.String())
	return &stream{st: st, buf: buf}, nil
}

func (d *Device) inputDevice() (*pa.DeviceInfo, error) {
	if d.name == "" {
		info, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, classify("default input device", err)
		}
		return info, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, classify("list devices", err)
	}
	for _, info := range devices {
		if info.Name == d.name && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device named %q", audio.ErrDeviceUnavailable, d.name)
}

// stream serialises Read and Close: Close waits for an in-progress Read (at
// most one frame) before stopping the device, so the C stream is never
// closed underneath a blocked read.
type stream struct {
	readMu sync.Mutex
	st     *pa.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

func (s *stream) Read() ([]int16, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.isClosed() {
		return nil, audio.ErrStreamClosed
	}
	if err := s.st.Read(); err != nil {
		// Overflow only means frames were dropped; the device is still live.
		if errors.Is(err, pa.InputOverflowed) {
			slog.Debug("portaudio input overflowed")
		} else {
			return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
	}
	return append([]int16(nil), s.buf...), nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.readMu.Lock()
	defer s.readMu.Unlock()
	return errors.Join(s.st.Stop(), s.st.Close(), pa.Terminate())
}

func (s *stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// classify maps PortAudio errors onto the audio package sentinels. Hosts
// report a refused microphone permission as an unanticipated host error.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, pa.UnanticipatedHostError):
		return fmt.Errorf("%w: portaudio %s: %v", audio.ErrDeviceDenied, op, err)
	default:
		return fmt.Errorf("%w: portaudio %s: %v", audio.ErrDeviceUnavailable, op, err)
	}
}
