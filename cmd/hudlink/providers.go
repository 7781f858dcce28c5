package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hudlink/internal/app"
	"github.com/MrWong99/hudlink/internal/config"
	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/audio/virtual"
	"github.com/MrWong99/hudlink/pkg/provider/live"
	"github.com/MrWong99/hudlink/pkg/provider/live/gemini"
	"github.com/MrWong99/hudlink/pkg/provider/live/genailive"
)

// registerBuiltins wires every factory that ships with hudlink into reg.
// PortAudio devices are added by registerPlatformDevices when built with the
// portaudio tag.
func registerBuiltins(reg *config.Registry) {
	// ── Live providers ────────────────────────────────────────────────────────

	reg.RegisterLive(config.ProviderGeminiLive, func(c config.LiveConfig) (live.Provider, error) {
		opts := []gemini.Option{gemini.WithLogger(slog.Default().With("provider", config.ProviderGeminiLive))}
		if c.Model != "" {
			opts = append(opts, gemini.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(c.BaseURL))
		}
		return gemini.New(c.APIKey, opts...), nil
	})

	reg.RegisterLive(config.ProviderGenAI, func(c config.LiveConfig) (live.Provider, error) {
		var opts []genailive.Option
		if c.Model != "" {
			opts = append(opts, genailive.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(c.BaseURL))
		}
		return genailive.New(c.APIKey, opts...), nil
	})

	// ── Virtual devices ───────────────────────────────────────────────────────

	reg.RegisterCapture(config.DeviceVirtual, func(c config.AudioConfig) (audio.CaptureDevice, error) {
		var opts []virtual.CaptureOption
		if c.CaptureFile != "" {
			opts = append(opts, virtual.WithFile(c.CaptureFile))
		}
		return virtual.NewCapture(opts...), nil
	})

	reg.RegisterOutput(config.DeviceVirtual, func(c config.AudioConfig) (audio.OutputDevice, error) {
		var opts []virtual.OutputOption
		if c.OutputFile != "" {
			opts = append(opts, virtual.WithOutputFile(c.OutputFile))
		}
		return virtual.NewOutput(opts...), nil
	})

	registerPlatformDevices(reg)

	for _, kind := range []string{"live", "capture", "output"} {
		slog.Debug("registered factories", "kind", kind, "names", reg.Names(kind))
	}
}

// buildDevices instantiates the live provider and both audio devices named in
// cfg. Unlike optional subsystems, every slot is required.
func buildDevices(cfg *config.Config, reg *config.Registry) (app.Devices, error) {
	var d app.Devices
	var err error

	if d.Live, err = reg.CreateLive(cfg.Live); err != nil {
		return d, describe("live provider", cfg.Live.Provider, reg.Names("live"), err)
	}
	slog.Info("provider created", "kind", "live", "name", cfg.Live.Provider)

	if d.Capture, err = reg.CreateCapture(cfg.Audio); err != nil {
		return d, describe("capture device", cfg.Audio.Capture, reg.Names("capture"), err)
	}
	if d.Output, err = reg.CreateOutput(cfg.Audio); err != nil {
		return d, describe("output device", cfg.Audio.Output, reg.Names("output"), err)
	}
	slog.Info("audio devices created", "capture", cfg.Audio.Capture, "output", cfg.Audio.Output)
	return d, nil
}

func describe(kind, name string, known []string, err error) error {
	if errors.Is(err, config.ErrNotRegistered) {
		return fmt.Errorf("%s %q is not available in this build (have %v): %w", kind, name, known, err)
	}
	return fmt.Errorf("create %s %q: %w", kind, name, err)
}
