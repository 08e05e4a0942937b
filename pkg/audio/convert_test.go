package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/holdscribe/pkg/audio"
)

func TestDownmix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"mono passthrough", []int16{1, 2, 3}, 1, []int16{1, 2, 3}},
		{"stereo average", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"no overflow at full scale", []int16{32767, 32767}, 2, []int16{32767}},
		{"partial frame dropped", []int16{10, 20, 30}, 2, []int16{15}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Downmix(tc.in, tc.channels)
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestResample_Length(t *testing.T) {
	t.Parallel()

	in := make([]int16, 4800) // 100 ms at 48 kHz
	got := audio.Resample(in, 1, 48000, 16000)
	if len(got) != 1600 {
		t.Errorf("len = %d, want 1600", len(got))
	}

	stereo := make([]int16, 9600)
	got = audio.Resample(stereo, 2, 48000, 16000)
	if len(got) != 3200 {
		t.Errorf("stereo len = %d, want 3200", len(got))
	}
}

func TestResample_SameRateReturnsInput(t *testing.T) {
	t.Parallel()
	in := []int16{1, 2, 3}
	got := audio.Resample(in, 1, 16000, 16000)
	if &got[0] != &in[0] {
		t.Error("expected input slice to be returned unchanged")
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()
	// Upsampling 0,100 by 2x puts 50 between them.
	got := audio.Resample([]int16{0, 100}, 1, 8000, 16000)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[1] != 50 {
		t.Errorf("got[1] = %d, want 50", got[1])
	}
}

func TestConverter_ToSpeechFormat(t *testing.T) {
	t.Parallel()

	cv := audio.Converter{Target: audio.SpeechFormat}
	in := audio.Clip{
		Format:  audio.Format{SampleRate: 48000, Channels: 2},
		Samples: make([]int16, 9600),
	}
	got := cv.Convert(in)
	if got.Format != audio.SpeechFormat {
		t.Errorf("format = %v, want %v", got.Format, audio.SpeechFormat)
	}
	if len(got.Samples) != 1600 {
		t.Errorf("samples = %d, want 1600", len(got.Samples))
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(make([]int16, 100)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
	square := []int16{1000, -1000, 1000, -1000}
	if got := audio.RMS(square); math.Abs(got-1000) > 1e-9 {
		t.Errorf("RMS(square) = %v, want 1000", got)
	}
}

func TestSampleBytesRoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestClipDuration(t *testing.T) {
	t.Parallel()
	c := audio.Clip{Format: audio.SpeechFormat, Samples: make([]int16, 32000)}
	if got := c.Duration().Seconds(); got != 2 {
		t.Errorf("Duration = %vs, want 2s", got)
	}
}
