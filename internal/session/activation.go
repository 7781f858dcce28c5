package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/hudlink/internal/capture"
	"github.com/MrWong99/hudlink/internal/playback"
	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/provider/live"
)

// activation holds everything one Activate call acquired. The pipeline,
// queue and scheduler are set before the activation's goroutines start and
// never change afterwards.
type activation struct {
	id        string
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	telemetry *telemetry

	pipeline  *capture.Pipeline
	queue     *capture.Outbound
	scheduler *playback.Scheduler

	mu     sync.Mutex
	stream audio.InputStream
	out    audio.Output
	sess   live.Session
	torn   bool

	teardownOnce sync.Once
}

func (a *activation) setStream(s audio.InputStream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stream = s
}

func (a *activation) setPipelines(out audio.Output, q *capture.Outbound, p *capture.Pipeline, s *playback.Scheduler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.out = out
	a.queue = q
	a.pipeline = p
	a.scheduler = s
}

func (a *activation) parts() (*capture.Outbound, *playback.Scheduler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue, a.scheduler
}

// setSession stores sess. If the activation was already torn down, sess is
// closed instead and setSession reports false.
func (a *activation) setSession(sess live.Session) bool {
	a.mu.Lock()
	if a.torn {
		a.mu.Unlock()
		if err := sess.Close(); err != nil {
			a.logger.Debug("session: closing late session", "err", err)
		}
		return false
	}
	a.sess = sess
	a.mu.Unlock()
	return true
}

// sample reads the values the telemetry ticker and snapshots report.
func (a *activation) sample() telemetrySample {
	a.mu.Lock()
	p, s := a.pipeline, a.scheduler
	a.mu.Unlock()

	var out telemetrySample
	if p != nil {
		out.Level = p.Level()
	}
	if s != nil {
		out.Lead = s.Lead()
		out.Active = s.Active()
	}
	return out
}

// teardown releases the activation: it stops the telemetry timer, closes the
// session and closes both devices. Every step runs even if an earlier one
// fails. Only the first call does any work; later calls return nil.
func (a *activation) teardown() error {
	var err error
	a.teardownOnce.Do(func() {
		a.telemetry.Stop()
		a.cancel()

		a.mu.Lock()
		a.torn = true
		sess, stream, out := a.sess, a.stream, a.out
		queue, scheduler := a.queue, a.scheduler
		a.mu.Unlock()

		var errs []error
		if queue != nil {
			if n := queue.Close(); n > 0 {
				a.logger.Debug("session: discarded queued audio", "blobs", n)
			}
		}
		if sess != nil {
			if e := sess.Close(); e != nil {
				errs = append(errs, fmt.Errorf("close session: %w", e))
			}
		}
		if scheduler != nil {
			scheduler.StopAll()
		}
		if stream != nil {
			if e := stream.Close(); e != nil {
				errs = append(errs, fmt.Errorf("close microphone: %w", e))
			}
		}
		if out != nil {
			if e := out.Close(); e != nil {
				errs = append(errs, fmt.Errorf("close output: %w", e))
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
