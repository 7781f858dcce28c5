package audio

import "time"

// Frame is one fixed-size block of microphone audio as delivered by an
// [InputStream]. Samples are mono and normalised to [-1.0, 1.0].
type Frame struct {
	// Samples holds the block's mono samples. The slice is owned by the
	// receiver once the frame is delivered.
	Samples []float32

	// SampleRate in Hz (16000 for the live wire format).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Buffer is a decoded mono clip ready to be scheduled on an [Output].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer in seconds. A buffer
// with a non-positive sample rate has zero duration.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}
