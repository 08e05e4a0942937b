// Package capture implements the capture sandbox: an actor that owns the
// microphone and the audio encoder for exactly one recording session.
//
// The sandbox talks to the outside world only through messages. Begin and
// End are posted to its mailbox; outcomes are reported through the emit
// callback supplied at construction. Each sandbox reports exactly one
// terminal event (CAPTURE_READY or CAPTURE_FAILED) and always releases the
// device before reporting captured audio.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/holdscribe/internal/actor"
	"github.com/MrWong99/holdscribe/internal/message"
	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/audio/codec"
)

// EncoderFunc creates the encoder a sandbox feeds captured frames into.
type EncoderFunc func(f audio.Format) (audio.Encoder, error)

// Config configures a [Sandbox].
type Config struct {
	// Format is the format requested from the device. Defaults to
	// [audio.SpeechFormat].
	Format audio.Format

	// Codec names the payload codec (see package codec). Ignored when
	// NewEncoder is set.
	Codec string

	// NewEncoder overrides codec selection.
	NewEncoder EncoderFunc
}

type phase int

const (
	phaseIdle phase = iota
	phaseActive
	phaseFinalizing
	phaseDone
)

type commandKind int

const (
	cmdBegin commandKind = iota
	cmdEnd
	cmdDestroy
	cmdPumpDone
)

type command struct {
	kind commandKind

	// cmdPumpDone only.
	payload   []byte
	readErr   error
	finishErr error
	frames    int
}

// Sandbox owns one microphone stream. Create it with [New]; the actor
// goroutine starts immediately and exits after [Sandbox.Destroy].
type Sandbox struct {
	sessionID  string
	device     audio.Device
	format     audio.Format
	newEncoder EncoderFunc
	emit       func(message.Message)
	inbox      *actor.Mailbox[command]

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	destroy sync.Once

	// Owned by the actor goroutine.
	phase      phase
	stream     audio.Stream
	terminated bool
}

// New creates a sandbox for sessionID and starts its actor goroutine. emit
// is invoked from that goroutine for every event the sandbox produces.
func New(sessionID string, device audio.Device, emit func(message.Message), cfg Config) *Sandbox {
	if !cfg.Format.Valid() {
		cfg.Format = audio.SpeechFormat
	}
	newEncoder := cfg.NewEncoder
	if newEncoder == nil {
		name := cfg.Codec
		newEncoder = func(f audio.Format) (audio.Encoder, error) {
			return codec.NewEncoder(name, f)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sandbox{
		sessionID:  sessionID,
		device:     device,
		format:     cfg.Format,
		newEncoder: newEncoder,
		emit:       emit,
		inbox:      actor.NewMailbox[command](),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Begin asks the sandbox to acquire the device and start capturing.
func (s *Sandbox) Begin() { s.inbox.Post(command{kind: cmdBegin}) }

// End asks the sandbox to stop capturing, release the device and report
// the captured audio. Calls after the first are no-ops.
func (s *Sandbox) End() { s.inbox.Post(command{kind: cmdEnd}) }

// Destroy releases the device and stops the sandbox without reporting any
// further events. It is safe to call more than once and from any goroutine.
func (s *Sandbox) Destroy() {
	s.destroy.Do(func() {
		s.cancel()
		s.inbox.Post(command{kind: cmdDestroy})
	})
}

// Done is closed once the actor goroutine has exited and the device has
// been released.
func (s *Sandbox) Done() <-chan struct{} { return s.done }

func (s *Sandbox) run() {
	defer close(s.done)
	defer s.releaseDevice()

	for range s.inbox.Ready() {
		for _, cmd := range s.inbox.Drain() {
			if !s.handle(cmd) {
				s.inbox.Close()
				return
			}
		}
	}
}

// handle processes one command and reports whether the actor should keep
// running.
func (s *Sandbox) handle(cmd command) bool {
	switch cmd.kind {
	case cmdBegin:
		s.begin()
	case cmdEnd:
		s.end()
	case cmdPumpDone:
		s.pumpDone(cmd)
	case cmdDestroy:
		slog.Debug("capture sandbox destroyed", "session_id", s.sessionID)
		return false
	}
	return true
}

func (s *Sandbox) begin() {
	if s.phase != phaseIdle {
		slog.Debug("capture begin ignored", "session_id", s.sessionID, "phase", s.phase)
		return
	}

	stream, err := s.device.Open(s.ctx, s.format)
	if err != nil {
		s.phase = phaseDone
		if s.ctx.Err() != nil {
			return
		}
		reason := reasonFor(err)
		slog.Warn("capture device refused", "session_id", s.sessionID, "reason", reason, "err", err)
		s.terminal(message.CaptureFailure(s.sessionID, reason))
		return
	}
	s.stream = stream
	if s.ctx.Err() != nil {
		s.phase = phaseDone
		return
	}

	enc, err := s.newEncoder(s.format)
	if err != nil {
		slog.Error("capture encoder unavailable", "session_id", s.sessionID, "err", err)
		s.phase = phaseDone
		s.releaseDevice()
		s.terminal(message.CaptureFailure(s.sessionID, message.DeviceUnavailable))
		return
	}

	s.phase = phaseActive
	s.send(message.Started(s.sessionID))
	go s.pump(stream, enc)
}

func (s *Sandbox) end() {
	if s.phase != phaseActive {
		return
	}
	s.phase = phaseFinalizing
	// Closing the stream releases the device and unblocks the pump, which
	// then flushes the encoder and posts cmdPumpDone.
	s.releaseDevice()
}

func (s *Sandbox) pumpDone(cmd command) {
	switch s.phase {
	case phaseActive:
		// The stream ended without End: the device went away.
		s.phase = phaseDone
		s.releaseDevice()
		reason := message.DeviceUnavailable
		if cmd.readErr != nil {
			reason = reasonFor(cmd.readErr)
		}
		slog.Warn("capture stream lost", "session_id", s.sessionID, "reason", reason, "err", cmd.readErr)
		s.terminal(message.CaptureFailure(s.sessionID, reason))

	case phaseFinalizing:
		s.phase = phaseDone
		if cmd.finishErr != nil {
			slog.Error("capture encoder flush failed", "session_id", s.sessionID, "err", cmd.finishErr)
			s.terminal(message.CaptureFailure(s.sessionID, message.DeviceUnavailable))
			return
		}
		slog.Debug("capture finalized", "session_id", s.sessionID, "frames", cmd.frames, "bytes", len(cmd.payload))
		s.terminal(message.Ready(s.sessionID, cmd.payload))
	}
}

// pump reads frames until the stream is closed or fails, then flushes the
// encoder. It runs on its own goroutine and owns enc.
func (s *Sandbox) pump(stream audio.Stream, enc audio.Encoder) {
	var (
		readErr error
		frames  int
	)
	for {
		frame, err := stream.Read()
		if err != nil {
			if !errors.Is(err, audio.ErrStreamClosed) {
				readErr = err
			}
			break
		}
		if err := enc.Write(frame); err != nil {
			readErr = err
			break
		}
		frames++
	}
	payload, finishErr := enc.Finish()
	s.inbox.Post(command{
		kind:      cmdPumpDone,
		payload:   payload,
		readErr:   readErr,
		finishErr: finishErr,
		frames:    frames,
	})
}

func (s *Sandbox) releaseDevice() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		slog.Warn("capture device close failed", "session_id", s.sessionID, "err", err)
	}
	s.stream = nil
}

// terminal emits m unless a terminal event was already emitted.
func (s *Sandbox) terminal(m message.Message) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.send(m)
}

func (s *Sandbox) send(m message.Message) {
	if s.ctx.Err() != nil {
		return
	}
	s.emit(m.Clone())
}

// reasonFor maps a device error to a capture failure reason.
func reasonFor(err error) message.Reason {
	if errors.Is(err, audio.ErrDeviceDenied) {
		return message.DeviceDenied
	}
	return message.DeviceUnavailable
}
