package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/hudlink/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
live:
  api_key: k
  voice: Kore
`

const watcherUpdatedYAML = `
server:
  log_level: debug
live:
  api_key: k
  voice: Puck
`

const watcherInvalidYAML = `
server:
  log_level: bananas
live:
  api_key: k
`

// writeConfig writes content with an explicit mtime so coarse filesystem
// timestamps still register each write.
func writeConfig(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func newWatcher(t *testing.T, content string) (*config.Watcher, string, time.Time) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hudlink.yaml")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeConfig(t, path, content, base)
	w, err := config.NewWatcher(path, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path, base
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherValidYAML)

	if got := w.Current().Live.Voice; got != "Kore" {
		t.Errorf("voice = %q, want Kore", got)
	}
	if _, ok, err := w.Check(); ok || err != nil {
		t.Errorf("Check on unchanged file = (%v, %v), want no change", ok, err)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()
	w, path, base := newWatcher(t, watcherValidYAML)

	writeConfig(t, path, watcherUpdatedYAML, base.Add(time.Minute))
	r, ok, err := w.Check()
	if err != nil || !ok {
		t.Fatalf("Check after edit = (%v, %v), want a reload", ok, err)
	}
	if r.Old.Live.Voice != "Kore" || r.New.Live.Voice != "Puck" {
		t.Errorf("reload voices = %q -> %q, want Kore -> Puck", r.Old.Live.Voice, r.New.Live.Voice)
	}
	if !r.Diff.LogLevelChanged || r.Diff.NewLogLevel != config.LogDebug {
		t.Errorf("diff log level = %+v", r.Diff)
	}
	if !r.Diff.SessionChanged {
		t.Error("diff does not report the voice change")
	}
	if w.Current() != r.New {
		t.Error("Current is not the reloaded config")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	w, path, base := newWatcher(t, watcherValidYAML)

	later := base.Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := w.Check(); ok || err != nil {
		t.Errorf("Check after touch = (%v, %v), want no change", ok, err)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()
	w, path, base := newWatcher(t, watcherValidYAML)
	before := w.Current()

	writeConfig(t, path, watcherInvalidYAML, base.Add(time.Minute))
	if _, ok, err := w.Check(); ok || err == nil {
		t.Fatalf("Check on invalid file = (%v, %v), want an error", ok, err)
	}
	if w.Current() != before {
		t.Error("invalid edit replaced the current config")
	}
	// The broken version is reported once, not on every poll.
	if _, ok, err := w.Check(); ok || err != nil {
		t.Errorf("second Check = (%v, %v), want quiet", ok, err)
	}

	// Reverting to the loaded content is not a change.
	writeConfig(t, path, watcherValidYAML, base.Add(2*time.Minute))
	if _, ok, err := w.Check(); ok || err != nil {
		t.Errorf("Check after revert = (%v, %v), want no change", ok, err)
	}
}

func TestWatcher_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()
	w, path, _ := newWatcher(t, watcherValidYAML)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := w.Check(); ok || err != nil {
		t.Errorf("Check on removed file = (%v, %v), want no change", ok, err)
	}
	if w.Current() == nil {
		t.Error("Current dropped the config")
	}
}

func TestWatcher_RunAppliesReloads(t *testing.T) {
	t.Parallel()
	w, path, base := newWatcher(t, watcherValidYAML)

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan config.Reload, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(r config.Reload) { reloads <- r })
	}()

	writeConfig(t, path, watcherUpdatedYAML, base.Add(time.Minute))
	select {
	case r := <-reloads:
		if r.New.Live.Voice != "Puck" {
			t.Errorf("reloaded voice = %q, want Puck", r.New.Live.Voice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload delivered")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
