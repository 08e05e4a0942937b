// Package opus implements the compressed capture codec used between the
// capture sandbox and the engine host.
//
// A payload is an audio payload header (tag [audio.TagOpus]) followed by a
// big-endian uint16 frame size in samples per channel, then a sequence of
// Opus packets, each prefixed with its big-endian uint16 length. The last
// frame is padded with silence to a full frame.
package opus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/holdscribe/pkg/audio"
)

const (
	// FrameDuration is the length of one encoded frame in milliseconds.
	FrameDuration = 20

	// maxPacketBytes bounds a single encoded packet; 4000 bytes is the
	// libopus recommendation for one frame.
	maxPacketBytes = 4000
)

// ErrCorrupt is returned by [Decode] when the payload framing is damaged.
var ErrCorrupt = errors.New("opus: corrupt payload")

// Encoder is an [audio.Encoder] producing Opus payloads.
type Encoder struct {
	enc       *gopus.Encoder
	format    audio.Format
	frameSize int // samples per channel
	pending   []int16
	out       []byte
	finished  bool
}

var _ audio.Encoder = (*Encoder)(nil)

// NewEncoder creates an encoder for f. Opus accepts 8, 12, 16, 24 and 48 kHz
// with one or two channels.
func NewEncoder(f audio.Format) (*Encoder, error) {
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder for %s: %w", f, err)
	}
	frameSize := f.SampleRate * FrameDuration / 1000
	out := audio.AppendHeader(nil, audio.TagOpus, f)
	out = binary.BigEndian.AppendUint16(out, uint16(frameSize))
	return &Encoder{
		enc:       enc,
		format:    f,
		frameSize: frameSize,
		out:       out,
	}, nil
}

// Write buffers samples and encodes every complete frame.
func (e *Encoder) Write(samples []int16) error {
	if e.finished {
		return errors.New("opus: write after finish")
	}
	e.pending = append(e.pending, samples...)
	step := e.frameSize * e.format.Channels
	for len(e.pending) >= step {
		if err := e.encodeFrame(e.pending[:step]); err != nil {
			return err
		}
		e.pending = e.pending[step:]
	}
	return nil
}

// Finish pads and encodes the final partial frame, then returns the payload.
func (e *Encoder) Finish() ([]byte, error) {
	if e.finished {
		return e.out, nil
	}
	e.finished = true
	if len(e.pending) > 0 {
		frame := make([]int16, e.frameSize*e.format.Channels)
		copy(frame, e.pending)
		e.pending = nil
		if err := e.encodeFrame(frame); err != nil {
			return nil, err
		}
	}
	return e.out, nil
}

func (e *Encoder) encodeFrame(pcm []int16) error {
	packet, err := e.enc.Encode(pcm, e.frameSize, maxPacketBytes)
	if err != nil {
		return fmt.Errorf("opus: encode frame: %w", err)
	}
	e.out = binary.BigEndian.AppendUint16(e.out, uint16(len(packet)))
	e.out = append(e.out, packet...)
	return nil
}

// Decode decodes a payload produced by [Encoder] back into PCM.
func Decode(payload []byte) (audio.Clip, error) {
	tag, f, body, err := audio.ParseHeader(payload)
	if err != nil {
		return audio.Clip{}, err
	}
	if tag != audio.TagOpus {
		return audio.Clip{}, fmt.Errorf("%w: %q", audio.ErrUnknownCodec, tag)
	}
	if len(body) < 2 {
		return audio.Clip{}, fmt.Errorf("%w: missing frame size", ErrCorrupt)
	}
	frameSize := int(binary.BigEndian.Uint16(body))
	body = body[2:]

	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("opus: create decoder for %s: %w", f, err)
	}

	clip := audio.Clip{Format: f}
	for len(body) > 0 {
		if len(body) < 2 {
			return audio.Clip{}, fmt.Errorf("%w: truncated packet length", ErrCorrupt)
		}
		n := int(binary.BigEndian.Uint16(body))
		body = body[2:]
		if n > len(body) {
			return audio.Clip{}, fmt.Errorf("%w: packet of %d bytes exceeds remaining %d", ErrCorrupt, n, len(body))
		}
		pcm, err := dec.Decode(body[:n], frameSize, false)
		if err != nil {
			return audio.Clip{}, fmt.Errorf("opus: decode packet: %w", err)
		}
		clip.Samples = append(clip.Samples, pcm...)
		body = body[n:]
	}
	return clip, nil
}
