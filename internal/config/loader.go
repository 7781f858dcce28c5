package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownNames lists the built-in names per registry kind.
// Used by [Validate] to warn about unrecognised names.
var KnownNames = map[string][]string{
	"live":   {ProviderGeminiLive, ProviderGenAI},
	"device": {DevicePortAudio, DeviceVirtual},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. ${VAR} references are expanded from the environment
// before decoding. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Live
	if cfg.Live.Provider == "" {
		errs = append(errs, errors.New("live.provider is required"))
	}
	validateName("live", cfg.Live.Provider)
	if cfg.Live.APIKey == "" && cfg.Live.BaseURL == "" {
		errs = append(errs, errors.New("live.api_key is required unless live.base_url points at a local endpoint"))
	}
	if cfg.Live.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.connect_timeout %s must not be negative", cfg.Live.ConnectTimeout))
	}

	// Audio
	if cfg.Audio.Capture == "" {
		errs = append(errs, errors.New("audio.capture is required"))
	}
	if cfg.Audio.Output == "" {
		errs = append(errs, errors.New("audio.output is required"))
	}
	validateName("device", cfg.Audio.Capture)
	validateName("device", cfg.Audio.Output)
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}
	if cfg.Audio.CaptureFile != "" && cfg.Audio.Capture != DeviceVirtual {
		slog.Warn("audio.capture_file is only used by the virtual capture device", "capture", cfg.Audio.Capture)
	}

	// Pipelines
	if cfg.Capture.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("capture.queue_capacity %d must be positive", cfg.Capture.QueueCapacity))
	}
	if cfg.Caption.MaxChars <= 0 {
		errs = append(errs, fmt.Errorf("caption.max_chars %d must be positive", cfg.Caption.MaxChars))
	}
	if cfg.Caption.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("caption.silence_timeout %s must be positive", cfg.Caption.SilenceTimeout))
	}
	if cfg.Telemetry.Interval <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.interval %s must be positive", cfg.Telemetry.Interval))
	}

	return errors.Join(errs...)
}

// validateName logs a warning if name is non-empty and not found in the
// [KnownNames] list for the given kind.
func validateName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := KnownNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown name, may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
