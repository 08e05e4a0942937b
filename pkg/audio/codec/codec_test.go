package codec_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/audio/codec"
)

func TestNewEncoder_DecodeDispatch(t *testing.T) {
	t.Parallel()

	for _, name := range []string{codec.Opus, codec.PCM, ""} {
		t.Run("codec="+name, func(t *testing.T) {
			t.Parallel()
			enc, err := codec.NewEncoder(name, audio.SpeechFormat)
			if err != nil {
				t.Fatalf("NewEncoder(%q): %v", name, err)
			}
			if err := enc.Write(make([]int16, 640)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			payload, err := enc.Finish()
			if err != nil {
				t.Fatalf("Finish: %v", err)
			}
			clip, err := codec.Decode(payload)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(clip.Samples) != 640 {
				t.Errorf("decoded %d samples, want 640", len(clip.Samples))
			}
		})
	}
}

func TestNewEncoder_Unknown(t *testing.T) {
	t.Parallel()
	_, err := codec.NewEncoder("flac", audio.SpeechFormat)
	if !errors.Is(err, audio.ErrUnknownCodec) {
		t.Errorf("err = %v, want ErrUnknownCodec", err)
	}
	if codec.Valid("flac") {
		t.Error("Valid(flac) = true")
	}
}

func TestDecode_Garbage(t *testing.T) {
	t.Parallel()
	if _, err := codec.Decode([]byte("not audio at all")); err == nil {
		t.Error("expected error")
	}
	if _, err := codec.Decode(nil); !errors.Is(err, audio.ErrShortPayload) {
		t.Errorf("err = %v, want ErrShortPayload", err)
	}
}
