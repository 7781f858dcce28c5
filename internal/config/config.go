// Package config defines the hudlink configuration schema, the YAML loader
// and validator, and the [Registry] that maps configured names to device and
// live-provider factories.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/hudlink/pkg/provider/live"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the matching [slog.Level]. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Built-in provider and device names.
const (
	ProviderGeminiLive = "gemini-live"
	ProviderGenAI      = "genai"

	DevicePortAudio = "portaudio"
	DeviceVirtual   = "virtual"
)

// Defaults applied by [Default] and therefore by the loader.
const (
	DefaultListenAddr     = ":8080"
	DefaultBlockSize      = 4096
	DefaultQueueCapacity  = 256
	DefaultCaptionChars   = 150
	DefaultCaptionSilence = 5 * time.Second
	DefaultTelemetryEvery = time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Live      LiveConfig      `yaml:"live"`
	Audio     AudioConfig     `yaml:"audio"`
	Capture   CaptureConfig   `yaml:"capture"`
	Caption   CaptionConfig   `yaml:"caption"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control and metrics endpoints.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// LiveConfig selects and configures the remote conversational session.
type LiveConfig struct {
	// Provider is the registered live provider name ("gemini-live" or "genai").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider. Usually "${GEMINI_API_KEY}".
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint. Empty uses the provider default.
	BaseURL string `yaml:"base_url"`

	// Model is the provider model identifier.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name.
	Voice string `yaml:"voice"`

	// Instructions is the system instruction sent when a session opens.
	Instructions string `yaml:"instructions"`

	// OutputTranscription streams captions of the spoken replies.
	OutputTranscription bool `yaml:"output_transcription"`

	// ConnectTimeout bounds the time from connect to the opened signal.
	// Zero disables the timeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Session returns the per-session part of c.
func (c LiveConfig) Session() live.Config {
	return live.Config{
		Model:               c.Model,
		Modalities:          []live.Modality{live.ModalityAudio},
		Voice:               c.Voice,
		Instructions:        c.Instructions,
		OutputTranscription: c.OutputTranscription,
	}
}

// AudioConfig selects the local audio devices.
type AudioConfig struct {
	// Capture is the registered capture device name.
	Capture string `yaml:"capture"`

	// Output is the registered output device name.
	Output string `yaml:"output"`

	// BlockSize is the number of samples per captured frame.
	BlockSize int `yaml:"block_size"`

	// CaptureFile is read as s16le PCM by the virtual capture device.
	// Empty produces silence.
	CaptureFile string `yaml:"capture_file"`

	// OutputFile receives the rendered s16le PCM of the virtual output device.
	// Empty discards it.
	OutputFile string `yaml:"output_file"`
}

// CaptureConfig tunes the capture pipeline.
type CaptureConfig struct {
	// QueueCapacity bounds the outbound queue. When full the oldest blob is
	// dropped.
	QueueCapacity int `yaml:"queue_capacity"`
}

// CaptionConfig tunes the caption aggregator.
type CaptionConfig struct {
	MaxChars       int           `yaml:"max_chars"`
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
}

// TelemetryConfig tunes the background metrics sampler.
type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns a configuration with every default applied. Files are
// decoded on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   LogInfo,
		},
		Live: LiveConfig{
			Provider:            ProviderGeminiLive,
			OutputTranscription: true,
		},
		Audio: AudioConfig{
			Capture:   DeviceVirtual,
			Output:    DeviceVirtual,
			BlockSize: DefaultBlockSize,
		},
		Capture:   CaptureConfig{QueueCapacity: DefaultQueueCapacity},
		Caption:   CaptionConfig{MaxChars: DefaultCaptionChars, SilenceTimeout: DefaultCaptionSilence},
		Telemetry: TelemetryConfig{Interval: DefaultTelemetryEvery},
	}
}
