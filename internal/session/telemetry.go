package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hudlink/internal/observe"
)

// defaultTelemetryInterval is the default period between telemetry samples.
const defaultTelemetryInterval = time.Second

// telemetrySample is what the ticker records on each tick.
type telemetrySample struct {
	Lead   float64
	Level  float64
	Active int
}

// telemetry periodically samples playback lead and input level into metrics
// while a session is online. It is the background timer stopped first during
// teardown.
//
// All methods are safe for concurrent use.
type telemetry struct {
	interval time.Duration
	sample   func() telemetrySample
	metrics  *observe.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	started  bool
	ticks    int
	done     chan struct{}
	stopOnce sync.Once
}

func newTelemetry(interval time.Duration, sample func() telemetrySample, m *observe.Metrics, l *slog.Logger) *telemetry {
	if interval <= 0 {
		interval = defaultTelemetryInterval
	}
	return &telemetry{
		interval: interval,
		sample:   sample,
		metrics:  m,
		logger:   l,
		done:     make(chan struct{}),
	}
}

// Start begins sampling in a background goroutine. It runs until Stop is
// called or ctx is cancelled. Only the first call has an effect.
func (t *telemetry) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	go t.loop(ctx)
}

// Stop halts the ticker. Safe to call multiple times, and before Start.
func (t *telemetry) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
}

// Ticks returns how many samples were taken.
func (t *telemetry) Ticks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

func (t *telemetry) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *telemetry) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			s := t.sample()
			t.metrics.PlaybackLead.Record(ctx, s.Lead,
				metric.WithAttributes(observe.Attr("phase", "sampled")))
			t.logger.Debug("session telemetry",
				"playback_lead", s.Lead,
				"input_level", s.Level,
				"active_buffers", s.Active,
			)
			t.mu.Lock()
			t.ticks++
			t.mu.Unlock()
		}
	}
}
