// Package codec selects a capture codec by name and decodes any payload by
// its header tag.
package codec

import (
	"fmt"

	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/audio/opus"
)

// Codec names accepted in configuration.
const (
	Opus = "opus"
	PCM  = "pcm"
)

// NewEncoder returns an encoder for the named codec. An empty name selects
// Opus.
func NewEncoder(name string, f audio.Format) (audio.Encoder, error) {
	switch name {
	case "", Opus:
		return opus.NewEncoder(f)
	case PCM:
		return audio.NewPCMEncoder(f)
	default:
		return nil, fmt.Errorf("%w: %q", audio.ErrUnknownCodec, name)
	}
}

// Decode decodes a payload produced by any encoder returned by [NewEncoder].
func Decode(payload []byte) (audio.Clip, error) {
	tag, _, _, err := audio.ParseHeader(payload)
	if err != nil {
		return audio.Clip{}, err
	}
	switch tag {
	case audio.TagOpus:
		return opus.Decode(payload)
	case audio.TagPCM:
		return audio.DecodePCM(payload)
	default:
		return audio.Clip{}, fmt.Errorf("%w: %q", audio.ErrUnknownCodec, tag)
	}
}

// Valid reports whether name is a known codec.
func Valid(name string) bool {
	return name == "" || name == Opus || name == PCM
}
