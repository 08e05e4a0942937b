package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// Converter normalises clips to a target format, logging once on the first
// mismatch it sees. One Converter may be shared; the warning state is
// guarded by a sync.Once.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
}

// Convert returns c converted to the target format. Channels are mixed down
// before resampling so that multi-channel audio is only resampled once.
// A clip already in the target format is returned unchanged.
func (cv *Converter) Convert(c Clip) Clip {
	if c.Format == cv.Target || !c.Format.Valid() {
		return c
	}
	cv.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch, converting",
			"from", c.Format.String(),
			"to", cv.Target.String(),
		)
	})

	samples := c.Samples
	channels := c.Format.Channels
	if cv.Target.Channels == 1 && channels > 1 {
		samples = Downmix(samples, channels)
		channels = 1
	}
	if c.Format.SampleRate != cv.Target.SampleRate {
		samples = Resample(samples, channels, c.Format.SampleRate, cv.Target.SampleRate)
	}
	return Clip{
		Format:  Format{SampleRate: cv.Target.SampleRate, Channels: channels},
		Samples: samples,
	}
}

// Downmix averages interleaved channels into a single mono channel. Any
// trailing partial frame is dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts interleaved PCM from srcRate to dstRate with linear
// interpolation. Invalid rates return the input unchanged.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(samples[idx*channels+ch])
			s1 := float64(samples[next*channels+ch])
			out[i*channels+ch] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return out
}

// RMS returns the root-mean-square energy of samples in 16-bit units.
// Silence is close to zero; full-scale noise approaches 32767.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Float32 converts samples to float32 normalised to [-1.0, 1.0).
func Float32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}
