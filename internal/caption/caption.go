// Package caption aggregates incremental transcript fragments into a short
// rolling caption that clears itself after a period of silence.
//
// The caption is bounded: when appending a fragment would push it past the
// configured length, the caption restarts from that fragment alone. Every
// fragment re-arms the silence timer; the previous timer is always stopped
// first, and a generation counter guards against a timer whose callback was
// already running when it was superseded.
package caption

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/hudlink/internal/observe"
)

const (
	// DefaultMaxChars is the caption length bound in characters.
	DefaultMaxChars = 150

	// DefaultSilenceTimeout is how long the caption survives without a new
	// fragment.
	DefaultSilenceTimeout = 5 * time.Second
)

// Timer is the subset of [*time.Timer] the aggregator needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d. [time.AfterFunc] satisfies it
// through [RealAfterFunc].
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc wraps [time.AfterFunc].
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithMaxChars overrides the caption length bound. Values below 1 are ignored.
func WithMaxChars(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxChars = n
		}
	}
}

// WithSilenceTimeout overrides the expiry delay. Values below or equal to zero
// are ignored.
func WithSilenceTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAfterFunc replaces the timer factory. Tests use it to drive expiry by
// hand.
func WithAfterFunc(f AfterFunc) Option {
	return func(a *Aggregator) { a.afterFunc = f }
}

// WithOnChange registers a callback invoked with the new caption after every
// change. It runs outside the aggregator's lock.
func WithOnChange(fn func(text string)) Option {
	return func(a *Aggregator) { a.onChange = fn }
}

// WithMetrics sets the metrics used to count silence expiries.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// Aggregator owns the transcript buffer and its silence timer. It is safe for
// concurrent use.
type Aggregator struct {
	maxChars  int
	timeout   time.Duration
	afterFunc AfterFunc
	onChange  func(string)
	metrics   *observe.Metrics

	mu    sync.Mutex
	text  string
	timer Timer
	gen   uint64
}

// New returns an empty Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		maxChars:  DefaultMaxChars,
		timeout:   DefaultSilenceTimeout,
		afterFunc: RealAfterFunc,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.NopMetrics()
	}
	return a
}

// Append adds fragment to the caption and re-arms the silence timer. When the
// result would exceed the bound the caption restarts from fragment, keeping
// only its trailing runes if fragment alone is too long. An empty fragment is
// ignored and leaves the pending timer untouched.
func (a *Aggregator) Append(fragment string) {
	if fragment == "" {
		return
	}

	a.mu.Lock()
	next := a.text + fragment
	if utf8.RuneCountInString(next) > a.maxChars {
		next = fragment
		if r := []rune(next); len(r) > a.maxChars {
			next = string(r[len(r)-a.maxChars:])
		}
	}
	a.text = next

	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = a.afterFunc(a.timeout, func() { a.expire(gen) })
	a.mu.Unlock()

	a.notify(next)
}

// expire clears the caption if no fragment arrived since the timer for gen
// was armed.
func (a *Aggregator) expire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	cleared := a.text != ""
	a.text = ""
	a.mu.Unlock()

	if !cleared {
		return
	}
	a.metrics.CaptionExpiries.Add(context.Background(), 1)
	slog.Debug("caption: cleared after silence", "timeout", a.timeout)
	a.notify("")
}

// Text returns the current caption.
func (a *Aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// Pending reports whether a silence timer is armed.
func (a *Aggregator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Reset stops any pending timer and clears the caption.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
	changed := a.text != ""
	a.text = ""
	a.mu.Unlock()

	if changed {
		a.notify("")
	}
}

func (a *Aggregator) notify(text string) {
	if a.onChange != nil {
		a.onChange(text)
	}
}
