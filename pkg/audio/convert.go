package audio

import (
	"log/slog"
	"math"
	"sync"
)

// FormatConverter resamples [Frame] values to a target rate. It logs a warning
// on the first rate mismatch.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	TargetRate     int
	warnedMismatch sync.Once
}

// Convert returns frame resampled to the target rate. If the source rate
// already matches, the frame is returned unchanged (zero allocation).
func (c *FormatConverter) Convert(frame Frame) Frame {
	if frame.SampleRate == c.TargetRate || frame.SampleRate <= 0 || c.TargetRate <= 0 {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio sample rate mismatch: resampling",
			"from_hz", frame.SampleRate,
			"to_hz", c.TargetRate,
		)
	})

	return Frame{
		Samples:    ResampleMono(frame.Samples, frame.SampleRate, c.TargetRate),
		SampleRate: c.TargetRate,
		Timestamp:  frame.Timestamp,
	}
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples. An empty slice has
// level 0.
func RMS(samples []float32) float64 {
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

// Clamp limits every sample in place to [-1, 1].
func Clamp(samples []float32) {
	for i, s := range samples {
		if s > 1 {
			samples[i] = 1
		} else if s < -1 {
			samples[i] = -1
		}
	}
}
