// Package mock provides in-memory mock implementations of the [audio.CaptureDevice],
// [audio.InputStream], [audio.OutputDevice], and [audio.Output] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewInputStream(16000, 8)
//	mic := &mock.CaptureDevice{Stream: stream}
//	out := &mock.Output{}
//	speaker := &mock.OutputDevice{Output: out}
//
//	stream.Push(audio.Frame{Samples: samples, SampleRate: 16000})
//	out.SetNow(1.5)
//	out.Finish(0) // simulate natural completion of the first scheduled buffer
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hudlink/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*CaptureDevice)(nil)
	_ audio.InputStream   = (*InputStream)(nil)
	_ audio.OutputDevice  = (*OutputDevice)(nil)
	_ audio.Output        = (*Output)(nil)
	_ audio.Voice         = (*Voice)(nil)
)

// ─── Capture ─────────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream] whose frames are pushed by the test.
type InputStream struct {
	mu     sync.Mutex
	frames chan audio.Frame
	rate   int
	closed bool

	// CloseError is returned by [InputStream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewInputStream returns an open stream at rate Hz with a frame buffer of
// capacity buffered.
func NewInputStream(rate, buffered int) *InputStream {
	return &InputStream{
		frames: make(chan audio.Frame, buffered),
		rate:   rate,
	}
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.Frame { return s.frames }

// SampleRate implements [audio.InputStream].
func (s *InputStream) SampleRate() int { return s.rate }

// Push delivers f to the consumer. It reports false if the stream is closed
// or the buffer is full, mirroring a device that drops frames.
func (s *InputStream) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Close implements [audio.InputStream]. Returns CloseError on every call; the
// frame channel is closed on the first call.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// OpenCall records the arguments of a single [CaptureDevice.Open] invocation.
type OpenCall struct {
	// BlockSize is the blockSize argument passed to Open.
	BlockSize int
}

// CaptureDevice is a mock [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a fresh 16 kHz stream.
	Stream *InputStream

	// OpenError, if non-nil, is returned by Open (e.g. microphone unavailable).
	OpenError error

	// OpenCalls records every Open invocation in order.
	OpenCalls []OpenCall
}

// Open implements [audio.CaptureDevice].
func (d *CaptureDevice) Open(_ context.Context, blockSize int) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{BlockSize: blockSize})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if d.Stream == nil {
		d.Stream = NewInputStream(16000, 16)
	}
	return d.Stream, nil
}

// CallCount returns the number of Open calls.
func (d *CaptureDevice) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// ─── Output ──────────────────────────────────────────────────────────────────

// ScheduleCall records the arguments of a single [Output.Schedule] invocation.
type ScheduleCall struct {
	// At is the requested start time in seconds.
	At float64

	// Duration is the buffer's playback length in seconds.
	Duration float64

	// Buffer is the scheduled buffer.
	Buffer audio.Buffer

	// Voice is the handle returned to the caller.
	Voice *Voice

	onEnded func()
}

// Voice is a mock [audio.Voice].
type Voice struct {
	mu      sync.Mutex
	stopped int
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped++
}

// Stopped reports whether Stop was called at least once.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped > 0
}

// Output is a mock [audio.Output] with a manually driven clock.
type Output struct {
	mu  sync.Mutex
	now float64

	// Rate is returned by SampleRate. Zero means 24000.
	Rate int

	// ScheduleError, if non-nil, is returned by Schedule.
	ScheduleError error

	// CloseError is returned by Close.
	CloseError error

	// ScheduleCalls records every successful Schedule invocation in order.
	ScheduleCalls []ScheduleCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// SetNow moves the device clock to t seconds.
func (o *Output) SetNow(t float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

// Now implements [audio.Output].
func (o *Output) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SampleRate implements [audio.Output].
func (o *Output) SampleRate() int {
	if o.Rate == 0 {
		return 24000
	}
	return o.Rate
}

// Schedule implements [audio.Output]. The call is recorded; onEnded fires
// only when the test calls [Output.Finish].
func (o *Output) Schedule(at float64, buf audio.Buffer, onEnded func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return nil, o.ScheduleError
	}
	v := &Voice{}
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{
		At:       at,
		Duration: buf.Duration(),
		Buffer:   buf,
		Voice:    v,
		onEnded:  onEnded,
	})
	return v, nil
}

// Calls returns a copy of the recorded Schedule calls.
func (o *Output) Calls() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduleCall, len(o.ScheduleCalls))
	copy(out, o.ScheduleCalls)
	return out
}

// Finish simulates natural completion of the i-th scheduled buffer by invoking
// its onEnded callback.
func (o *Output) Finish(i int) {
	o.mu.Lock()
	fn := o.ScheduleCalls[i].onEnded
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close implements [audio.Output]. Returns CloseError.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseError
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose > 0
}

// OutputDevice is a mock [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// Output is returned by Open. If nil, Open returns a fresh [Output].
	Output *Output

	// OpenError, if non-nil, is returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(_ context.Context) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if d.Output == nil {
		d.Output = &Output{}
	}
	return d.Output, nil
}
