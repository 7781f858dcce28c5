package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/hudlink/internal/observe"
	"github.com/MrWong99/hudlink/pkg/pcm"
)

// DefaultQueueCapacity bounds the outbound queue: 256 blobs of 4096 samples
// hold roughly a minute of 16 kHz audio.
const DefaultQueueCapacity = 256

// Sender delivers encoded audio to the session channel. [live.Session]
// satisfies it.
type Sender interface {
	SendRealtimeInput(ctx context.Context, blob pcm.Blob) error
}

// OutboundOption configures an [Outbound].
type OutboundOption func(*Outbound)

// WithCapacity sets the queue bound. Values below 1 are ignored.
func WithCapacity(n int) OutboundOption {
	return func(o *Outbound) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithOutboundMetrics sets the metrics the queue records to.
func WithOutboundMetrics(m *observe.Metrics) OutboundOption {
	return func(o *Outbound) { o.metrics = m }
}

// WithOutboundLogger sets the logger for overflow and send failures.
func WithOutboundLogger(l *slog.Logger) OutboundOption {
	return func(o *Outbound) { o.logger = l }
}

// Outbound is the single ordered queue between the capture cadence and the
// session channel.
//
// [Outbound.Submit] never blocks. Blobs submitted before a [Sender] is
// attached wait in the queue; once the queue is full the oldest blob is
// dropped to make room. A single goroutine running [Outbound.Run] sends
// blobs in submission order. Failed sends are counted and logged, never
// retried.
type Outbound struct {
	capacity int
	metrics  *observe.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	ring    []pcm.Blob
	head    int
	size    int
	sender  Sender
	closed  bool
	dropped int64
	sent    int64
	failed  int64

	wake chan struct{}

	overflowLog rate.Sometimes
	failureLog  rate.Sometimes
}

// NewOutbound returns an empty queue with no sender attached.
func NewOutbound(opts ...OutboundOption) *Outbound {
	o := &Outbound{
		capacity:    DefaultQueueCapacity,
		wake:        make(chan struct{}, 1),
		overflowLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
		failureLog:  rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.NopMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.ring = make([]pcm.Blob, o.capacity)
	return o
}

// Submit appends blob to the queue. It reports false if the queue is closed.
func (o *Outbound) Submit(blob pcm.Blob) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	overflow := o.size == o.capacity
	if overflow {
		o.ring[o.head] = pcm.Blob{}
		o.head = (o.head + 1) % o.capacity
		o.size--
		o.dropped++
	}
	o.ring[(o.head+o.size)%o.capacity] = blob
	o.size++
	o.mu.Unlock()

	if overflow {
		o.metrics.RecordDrop(context.Background(), 1, "overflow")
		o.overflowLog.Do(func() {
			o.logger.Warn("capture: outbound queue full, dropping oldest audio", "capacity", o.capacity)
		})
	}
	o.signal()
	return true
}

// Attach sets the sender and wakes the queue so that deferred blobs flow.
func (o *Outbound) Attach(s Sender) {
	o.mu.Lock()
	o.sender = s
	o.mu.Unlock()
	o.signal()
}

// Len returns the number of queued blobs.
func (o *Outbound) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size
}

// OutboundStats is a point-in-time view of the queue counters.
type OutboundStats struct {
	Queued  int
	Sent    int64
	Dropped int64
	Failed  int64
}

// Stats returns the queue counters.
func (o *Outbound) Stats() OutboundStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OutboundStats{Queued: o.size, Sent: o.sent, Dropped: o.dropped, Failed: o.failed}
}

func (o *Outbound) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest blob if a sender is attached.
func (o *Outbound) next() (pcm.Blob, Sender, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.sender == nil || o.size == 0 {
		return pcm.Blob{}, nil, false
	}
	blob := o.ring[o.head]
	o.ring[o.head] = pcm.Blob{}
	o.head = (o.head + 1) % o.capacity
	o.size--
	return blob, o.sender, true
}

// Run sends queued blobs until ctx is cancelled or the queue is closed. Only
// one goroutine may call Run. It always returns nil.
func (o *Outbound) Run(ctx context.Context) error {
	for {
		for {
			blob, sender, ok := o.next()
			if !ok {
				break
			}
			o.send(ctx, sender, blob)
			if ctx.Err() != nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-o.wake:
			o.mu.Lock()
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return nil
			}
		}
	}
}

func (o *Outbound) send(ctx context.Context, s Sender, blob pcm.Blob) {
	err := s.SendRealtimeInput(ctx, blob)
	o.mu.Lock()
	if err != nil {
		o.failed++
	} else {
		o.sent++
	}
	o.mu.Unlock()

	if err != nil {
		o.metrics.OutboundErrors.Add(ctx, 1)
		o.failureLog.Do(func() {
			o.logger.Warn("capture: send failed, audio discarded", "err", err)
		})
		return
	}
	o.metrics.OutboundSent.Add(ctx, 1)
}

// Close discards anything still queued and stops [Outbound.Run]. Further
// submissions are rejected. Close is idempotent and returns the number of
// blobs discarded.
func (o *Outbound) Close() int {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0
	}
	o.closed = true
	n := o.size
	clear(o.ring)
	o.size = 0
	o.sender = nil
	o.dropped += int64(n)
	o.mu.Unlock()

	o.metrics.RecordDrop(context.Background(), int64(n), "teardown")
	o.signal()
	return n
}
