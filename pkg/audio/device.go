// Package audio defines the types and device interfaces for hudlink's local
// audio I/O.
//
// The two device abstractions mirror what a realtime voice link needs from
// the host:
//
//   - [CaptureDevice] opens an exclusive microphone [InputStream] that
//     delivers fixed-size [Frame] blocks on a hardware-driven cadence.
//   - [OutputDevice] opens an [Output]: a device clock plus the ability to
//     schedule a [Buffer] to start at an exact clock time.
//
// Implementations live in sub-packages (audio/portaudio for real hardware,
// audio/virtual for cgo-free file and silence devices, audio/mock for tests).
package audio

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a stream or output that has already
// been closed.
var ErrClosed = errors.New("audio: device closed")

// InputStream is an open microphone stream.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Frames returns the channel on which captured blocks arrive. Frames are
	// produced on a fixed cadence regardless of how quickly the consumer reads;
	// a slow consumer causes frames to be dropped, never the device to stall.
	// The channel is closed when the stream is closed.
	Frames() <-chan Frame

	// SampleRate returns the native rate of the delivered frames in Hz.
	SampleRate() int

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// CaptureDevice acquires microphone input.
type CaptureDevice interface {
	// Open acquires the microphone and starts delivering frames of blockSize
	// samples. Returns an error when the device is missing, busy, or
	// permission is denied.
	Open(ctx context.Context, blockSize int) (InputStream, error)
}

// Voice is a handle to one scheduled buffer on an [Output].
type Voice interface {
	// Stop silences the voice immediately. A stopped voice never reports
	// natural completion. Stop is idempotent.
	Stop()
}

// Output is an open playback device with a monotonic clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current device time in seconds since the output opened.
	Now() float64

	// SampleRate returns the rate the output renders at.
	SampleRate() int

	// Schedule arranges for buf to start playing at device time at (seconds).
	// A start time in the past begins playback immediately. onEnded, if not
	// nil, is invoked once from a device goroutine when the buffer finishes
	// playing naturally; it is not invoked for voices that were stopped or
	// still pending when the output closed.
	Schedule(at float64, buf Buffer, onEnded func()) (Voice, error)

	// Close stops rendering and releases the device. Safe to call more than once.
	Close() error
}

// OutputDevice acquires an audio output.
type OutputDevice interface {
	// Open acquires the playback device and starts its clock.
	Open(ctx context.Context) (Output, error)
}
