package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of the header that prefixes every payload
// produced by an [Encoder]: a 4-byte codec tag, the sample rate as a
// big-endian uint32 and the channel count as a big-endian uint16.
const HeaderSize = 10

// Codec tags written at the start of a payload.
const (
	TagPCM  = "HSPC"
	TagOpus = "HSOP"
)

// ErrShortPayload is returned when a payload is too small to hold a header.
var ErrShortPayload = errors.New("audio: payload shorter than header")

// AppendHeader appends a payload header for tag and f to dst.
func AppendHeader(dst []byte, tag string, f Format) []byte {
	dst = append(dst, tag[:4]...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(f.SampleRate))
	dst = binary.BigEndian.AppendUint16(dst, uint16(f.Channels))
	return dst
}

// ParseHeader splits a payload into its codec tag, format and body.
func ParseHeader(payload []byte) (tag string, f Format, body []byte, err error) {
	if len(payload) < HeaderSize {
		return "", Format{}, nil, ErrShortPayload
	}
	tag = string(payload[:4])
	f = Format{
		SampleRate: int(binary.BigEndian.Uint32(payload[4:8])),
		Channels:   int(binary.BigEndian.Uint16(payload[8:10])),
	}
	if !f.Valid() {
		return "", Format{}, nil, fmt.Errorf("audio: invalid format in header: %s", f)
	}
	return tag, f, payload[HeaderSize:], nil
}

// PCMEncoder is an [Encoder] that stores raw little-endian PCM behind a
// payload header. It is used when lossless capture matters more than size.
type PCMEncoder struct {
	buf      []byte
	finished bool
}

var _ Encoder = (*PCMEncoder)(nil)

// NewPCMEncoder returns an encoder for audio in format f.
func NewPCMEncoder(f Format) (*PCMEncoder, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("audio: invalid pcm format %s", f)
	}
	return &PCMEncoder{buf: AppendHeader(make([]byte, 0, HeaderSize+4096), TagPCM, f)}, nil
}

// Write appends samples to the payload.
func (e *PCMEncoder) Write(samples []int16) error {
	if e.finished {
		return errors.New("audio: write after finish")
	}
	for _, s := range samples {
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(s))
	}
	return nil
}

// Finish returns the payload.
func (e *PCMEncoder) Finish() ([]byte, error) {
	e.finished = true
	return e.buf, nil
}

// DecodePCM decodes a payload produced by [PCMEncoder].
func DecodePCM(payload []byte) (Clip, error) {
	tag, f, body, err := ParseHeader(payload)
	if err != nil {
		return Clip{}, err
	}
	if tag != TagPCM {
		return Clip{}, fmt.Errorf("%w: %q", ErrUnknownCodec, tag)
	}
	if len(body)%2 != 0 {
		return Clip{}, fmt.Errorf("audio: pcm body has odd length %d", len(body))
	}
	return Clip{Format: f, Samples: BytesToSamples(body)}, nil
}
