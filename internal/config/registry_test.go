package config_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hudlink/internal/config"
	"github.com/MrWong99/hudlink/pkg/audio"
	audiomock "github.com/MrWong99/hudlink/pkg/audio/mock"
	"github.com/MrWong99/hudlink/pkg/provider/live"
	livemock "github.com/MrWong99/hudlink/pkg/provider/live/mock"
)

func TestRegistry_CreatesRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	prov := &livemock.Provider{}
	var gotKey string
	r.RegisterLive("fake", func(c config.LiveConfig) (live.Provider, error) {
		gotKey = c.APIKey
		return prov, nil
	})
	mic := &audiomock.CaptureDevice{}
	r.RegisterCapture("fake", func(config.AudioConfig) (audio.CaptureDevice, error) { return mic, nil })
	spk := &audiomock.OutputDevice{}
	r.RegisterOutput("fake", func(config.AudioConfig) (audio.OutputDevice, error) { return spk, nil })

	p, err := r.CreateLive(config.LiveConfig{Provider: "fake", APIKey: "k"})
	if err != nil || p != prov {
		t.Errorf("CreateLive = %v, %v", p, err)
	}
	if gotKey != "k" {
		t.Errorf("factory saw api key %q, want k", gotKey)
	}
	if c, err := r.CreateCapture(config.AudioConfig{Capture: "fake"}); err != nil || c != mic {
		t.Errorf("CreateCapture = %v, %v", c, err)
	}
	if o, err := r.CreateOutput(config.AudioConfig{Output: "fake"}); err != nil || o != spk {
		t.Errorf("CreateOutput = %v, %v", o, err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	if _, err := r.CreateLive(config.LiveConfig{Provider: "nope"}); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("CreateLive err = %v, want ErrNotRegistered", err)
	}
	if _, err := r.CreateCapture(config.AudioConfig{Capture: "nope"}); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("CreateCapture err = %v, want ErrNotRegistered", err)
	}
	if _, err := r.CreateOutput(config.AudioConfig{Output: "nope"}); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("CreateOutput err = %v, want ErrNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("no device")
	r.RegisterCapture("broken", func(config.AudioConfig) (audio.CaptureDevice, error) { return nil, boom })

	if _, err := r.CreateCapture(config.AudioConfig{Capture: "broken"}); !errors.Is(err, boom) {
		t.Errorf("CreateCapture err = %v, want %v", err, boom)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	for _, n := range []string{"virtual", "portaudio"} {
		r.RegisterOutput(n, func(config.AudioConfig) (audio.OutputDevice, error) { return nil, nil })
	}
	if diff := cmp.Diff([]string{"portaudio", "virtual"}, r.Names("output")); diff != "" {
		t.Errorf("Names(output) mismatch (-want +got):\n%s", diff)
	}
	if got := r.Names("live"); len(got) != 0 {
		t.Errorf("Names(live) = %v, want empty", got)
	}
}
