package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPollInterval is how often a [Watcher] stats the config file.
const DefaultPollInterval = 2 * time.Second

// Reload is delivered to the apply callback of [Watcher.Run] after the file
// changed and the new content validated.
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// fingerprint identifies one version of the file. The stat half is compared
// first so an unchanged file is never read.
type fingerprint struct {
	size int64
	mod  time.Time
	sum  [sha256.Size]byte
}

func (f fingerprint) sameStat(info os.FileInfo) bool {
	return f.size == info.Size() && f.mod.Equal(info.ModTime())
}

// Watcher polls a config file and reloads it when its content changes. An
// invalid edit is logged and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	current atomic.Pointer[Config]
	// last is only touched by Check, which Run calls from one goroutine.
	last fingerprint
	// statWarn keeps a missing file from logging on every poll.
	statWarn rate.Sometimes
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher loads path once and returns a Watcher holding it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		statWarn: rate.Sometimes{First: 1, Interval: time.Minute},
	}
	for _, o := range opts {
		o(w)
	}
	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current.Store(cfg)
	w.last = fp
	return w, nil
}

// Current returns the most recent valid config. Safe for concurrent use.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Run polls until ctx is cancelled and calls apply for every accepted
// reload, on the polling goroutine. It returns ctx.Err().
func (w *Watcher) Run(ctx context.Context, apply func(Reload)) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r, ok, err := w.Check()
			if err != nil {
				w.logger.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
				continue
			}
			if ok && apply != nil {
				apply(r)
			}
		}
	}
}

// Check performs one poll. ok is true when the file content changed and
// validated; the new config is then current. A stat failure is logged
// (rate limited) and reported as no change. Check must not be called
// concurrently with itself or [Watcher.Run].
func (w *Watcher) Check() (r Reload, ok bool, err error) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.statWarn.Do(func() {
			w.logger.Warn("config: cannot stat config file", "path", w.path, "err", err)
		})
		return Reload{}, false, nil
	}
	if w.last.sameStat(info) {
		return Reload{}, false, nil
	}

	cfg, fp, err := w.read()
	if err != nil {
		// Remember the broken version so it is reported once.
		w.last.size, w.last.mod = info.Size(), info.ModTime()
		return Reload{}, false, err
	}
	prevSum := w.last.sum
	w.last = fp
	if fp.sum == prevSum {
		return Reload{}, false, nil
	}

	old := w.current.Swap(cfg)
	r = Reload{Old: old, New: cfg, Diff: Diff(old, cfg)}
	w.logger.Info("config: reloaded", "path", w.path,
		"log_level_changed", r.Diff.LogLevelChanged,
		"session_changed", r.Diff.SessionChanged,
		"restart_required", r.Diff.RestartRequired,
	)
	return r, true, nil
}

func (w *Watcher) read() (*Config, fingerprint, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{size: info.Size(), mod: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
