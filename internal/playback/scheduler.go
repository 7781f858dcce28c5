// Package playback schedules decoded model audio onto an output device so
// that consecutive fragments play back to back without gaps.
//
// The [Scheduler] keeps a cursor holding the earliest device time at which
// the next fragment may start. Each fragment starts at max(cursor, device
// clock) and advances the cursor by exactly its duration, so fragments that
// arrive faster than real time queue up contiguously while a fragment that
// arrives after the previous one finished starts immediately instead of in
// the past. The cursor never moves backward.
//
// Fragments must be handed to [Scheduler.Enqueue] in the order the session
// channel delivered them; the scheduler does not reorder.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hudlink/internal/observe"
	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/pcm"
)

// ErrDecode marks a fragment that could not be decoded and was dropped.
var ErrDecode = errors.New("playback: malformed audio fragment")

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMetrics sets the metrics the scheduler records to.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger used for decode failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSourceRate overrides the sample rate inbound fragments are decoded at.
// Default: [pcm.OutputSampleRate].
func WithSourceRate(hz int) Option {
	return func(s *Scheduler) {
		if hz > 0 {
			s.sourceRate = hz
		}
	}
}

// Scheduler owns the playback cursor and the set of in-flight voices for one
// output. It is safe for concurrent use, but Enqueue calls must be serialised
// by the caller to preserve delivery order.
type Scheduler struct {
	out        audio.Output
	sourceRate int
	metrics    *observe.Metrics
	logger     *slog.Logger

	mu     sync.Mutex
	cursor float64
	nextID uint64
	active map[uint64]audio.Voice
}

// New returns a Scheduler for out with the cursor at zero.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:        out,
		sourceRate: pcm.OutputSampleRate,
		active:     make(map[uint64]audio.Voice),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.NopMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Enqueue decodes a base64 PCM16 fragment and schedules it right after the
// previously scheduled one. It returns the start time chosen.
//
// A malformed fragment is logged, counted and dropped; the returned error
// wraps [ErrDecode] together with [pcm.ErrOddLength] or the base64 failure,
// and the cursor is left untouched. An empty fragment schedules nothing.
func (s *Scheduler) Enqueue(ctx context.Context, data string) (float64, error) {
	buf, err := pcm.Decode(data, s.sourceRate)
	if err != nil {
		s.metrics.DecodeErrors.Add(ctx, 1)
		s.logger.Warn("playback: dropping malformed audio fragment", "err", err, "encoded_len", len(data))
		return 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return s.Schedule(ctx, buf)
}

// Schedule places an already decoded buffer at max(cursor, device clock) and
// advances the cursor by the buffer's duration.
func (s *Scheduler) Schedule(ctx context.Context, buf audio.Buffer) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.Now()
	start := max(s.cursor, now)
	if len(buf.Samples) == 0 {
		return start, nil
	}

	id := s.nextID
	s.nextID++
	voice, err := s.out.Schedule(start, buf, func() { s.ended(id) })
	if err != nil {
		return 0, fmt.Errorf("playback: schedule: %w", err)
	}

	// onEnded blocks on s.mu until the voice is registered.
	s.active[id] = voice
	s.cursor = start + buf.Duration()

	s.metrics.PlaybackFragments.Add(ctx, 1)
	s.metrics.ActiveBuffers.Add(ctx, 1)
	s.metrics.PlaybackLead.Record(ctx, s.cursor-now,
		metric.WithAttributes(observe.Attr("phase", "scheduled")))
	return start, nil
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	_, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if ok {
		s.metrics.ActiveBuffers.Add(context.Background(), -1)
	}
}

// Cursor returns the time at which the next fragment would start if the
// device clock has not caught up with it.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Lead returns how far the cursor is ahead of the device clock, or zero when
// the queue has drained.
func (s *Scheduler) Lead() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(s.cursor-s.out.Now(), 0)
}

// Active returns the number of scheduled or playing buffers.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// StopAll silences every in-flight buffer and empties the active set. The
// cursor is kept so that anything scheduled afterwards still never starts
// before already committed audio would have ended.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	voices := s.active
	s.active = make(map[uint64]audio.Voice)
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if n := len(voices); n > 0 {
		s.metrics.ActiveBuffers.Add(context.Background(), -int64(n))
	}
	return len(voices)
}
