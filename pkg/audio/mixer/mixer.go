package mixer

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/hudlink/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Output = (*Timeline)(nil)
	_ audio.Voice  = (*voice)(nil)
)

// defaultQueueCap is the initial capacity hint for the pending-voice heap.
const defaultQueueCap = 16

// errClosed is wrapped around [audio.ErrClosed] for schedules after Close.
var errClosed = fmt.Errorf("mixer: %w", audio.ErrClosed)

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithQueueCapacity sets the initial capacity hint for the pending-voice
// heap. This does not impose a hard limit.
func WithQueueCapacity(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.pending = make(voiceHeap, 0, n)
		}
	}
}

// voice is one scheduled buffer.
type voice struct {
	tl      *Timeline
	samples []float32
	start   int64 // absolute start position in output samples
	seq     uint64
	onEnded func()
	stopped bool // guarded by tl.mu
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.tl.mu.Lock()
	v.stopped = true
	v.tl.mu.Unlock()
}

// Timeline mixes scheduled buffers into a single mono output at a fixed
// sample rate. Its clock is the number of samples rendered so far; it only
// advances when [Timeline.Render] is called by the device loop.
//
// All exported methods are safe for concurrent use. onEnded callbacks are
// invoked from the goroutine calling Render, after the internal lock has been
// released.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64 // samples rendered so far
	seq     uint64
	pending voiceHeap
	playing []*voice
	closed  bool
}

// NewTimeline returns a Timeline rendering at sampleRate Hz.
func NewTimeline(sampleRate int, opts ...Option) *Timeline {
	t := &Timeline{
		rate:    sampleRate,
		pending: make(voiceHeap, 0, defaultQueueCap),
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.pending)
	return t
}

// SampleRate returns the render rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the current timeline position in seconds.
func (t *Timeline) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.pos) / float64(t.rate)
}

// Schedule queues buf to start at time at (seconds). Start times in the past
// are clamped to the current position. Buffers at a different sample rate
// are resampled to the timeline rate first.
func (t *Timeline) Schedule(at float64, buf audio.Buffer, onEnded func()) (audio.Voice, error) {
	if buf.SampleRate <= 0 {
		return nil, errors.New("mixer: buffer has no sample rate")
	}
	if math.IsNaN(at) || math.IsInf(at, 0) {
		return nil, fmt.Errorf("mixer: invalid start time %v", at)
	}
	samples := audio.ResampleMono(buf.Samples, buf.SampleRate, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errClosed
	}

	start := int64(math.Round(at * float64(t.rate)))
	if start < t.pos {
		start = t.pos
	}
	t.seq++
	v := &voice{
		tl:      t,
		samples: samples,
		start:   start,
		seq:     t.seq,
		onEnded: onEnded,
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Render mixes the next len(out) samples into out, overwriting its contents,
// and advances the clock by len(out) samples. The mix is clamped to [-1, 1].
// Voices that finish inside the block have their onEnded callback invoked
// before Render returns.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	blockStart := t.pos
	blockEnd := blockStart + int64(len(out))

	for t.pending.Len() > 0 && t.pending[0].start < blockEnd {
		t.playing = append(t.playing, heap.Pop(&t.pending).(*voice))
	}

	var ended []func()
	kept := t.playing[:0]
	for _, v := range t.playing {
		if v.stopped {
			continue
		}
		end := v.start + int64(len(v.samples))
		from := max(v.start, blockStart)
		to := min(end, blockEnd)
		for p := from; p < to; p++ {
			out[p-blockStart] += v.samples[p-v.start]
		}
		if end <= blockEnd {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.playing[len(kept):])
	t.playing = kept
	t.pos = blockEnd
	t.mu.Unlock()

	audio.Clamp(out)
	for _, fn := range ended {
		fn()
	}
}

// Active returns the number of voices that are scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.playing {
		if !v.stopped {
			n++
		}
	}
	for _, v := range t.pending {
		if !v.stopped {
			n++
		}
	}
	return n
}

// Close discards all pending and playing voices without invoking their
// onEnded callbacks. Further calls to Schedule fail. Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.pending = nil
	t.playing = nil
	return nil
}
