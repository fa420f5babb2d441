// Package config provides the configuration schema, loader, environment
// overlay, hot-reload watcher and audio backend registry for voxlink.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxlink/internal/display"
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

// Level converts l to a [slog.Level]. Unknown values map to info.
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

// Backend names.
const (
	InputTone      = "tone"
	InputWAV       = "wav"
	InputPortAudio = "portaudio"

	OutputNull      = "null"
	OutputWAV       = "wav"
	OutputPortAudio = "portaudio"
)

// Config is the root configuration. Load it with [Load] or [LoadFromReader];
// fields left out of the YAML keep the values from [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Admin     AdminConfig     `yaml:"admin"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Jitter    JitterConfig    `yaml:"jitter"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Streams   []StreamConfig  `yaml:"streams"`
	Display   DisplayConfig   `yaml:"display"`
	Journal   JournalConfig   `yaml:"journal"`
}

// ServerConfig locates the speech server.
type ServerConfig struct {
	// URL is the WebSocket base, e.g. "ws://127.0.0.1:8000". Stream paths
	// are appended as /ws/{stream_id}.
	URL string `yaml:"url"`

	// Token is sent as "Authorization: Bearer <token>".
	Token string `yaml:"token"`

	// PlaybackStream is the stream id the playback client connects to.
	PlaybackStream string `yaml:"playback_stream"`
}

// AdminConfig configures the local admin HTTP server and logging.
type AdminConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the capture and render backends.
type AudioConfig struct {
	// Input is the default capture backend for streams: tone, wav or
	// portaudio.
	Input string `yaml:"input"`

	// Output is the render backend: null, wav or portaudio.
	Output string `yaml:"output"`

	// InputDevice is the default capture device name or index.
	InputDevice string `yaml:"input_device"`

	// OutputDevice is the render device name or index.
	OutputDevice string `yaml:"output_device"`

	// CaptureQueue is the number of frames buffered between a device
	// callback and its sender.
	CaptureQueue int `yaml:"capture_queue"`

	// WAVOutput is the file the wav output backend records to.
	WAVOutput string `yaml:"wav_output"`
}

// StreamConfig describes one sender stream.
type StreamConfig struct {
	ID string `yaml:"id"`

	// Input overrides [AudioConfig.Input] for this stream.
	Input string `yaml:"input"`

	// Device overrides [AudioConfig.InputDevice] for this stream.
	Device string `yaml:"device"`

	// File is the WAV file read by the wav backend.
	File string `yaml:"file"`

	// ToneHz is the tone backend frequency.
	ToneHz float64 `yaml:"tone_hz"`
}

// VADConfig tunes segmentation.
type VADConfig struct {
	// Mode is "gated" (only speech is sent) or "continuous".
	Mode string `yaml:"mode"`

	// Threshold is the normalised RMS at or above which a frame is speech.
	// Hot-reloadable.
	Threshold float64 `yaml:"threshold"`

	// MinSilence is the quiet time that ends an utterance.
	MinSilence time.Duration `yaml:"min_silence"`
}

// JitterConfig tunes the playback buffer and scheduler.
type JitterConfig struct {
	PrebufferMs int     `yaml:"prebuffer_ms"`
	MaxBufferMs int     `yaml:"max_buffer_ms"`
	Speed       float64 `yaml:"speed"`
}

// ReconnectConfig tunes reconnection and keepalive.
type ReconnectConfig struct {
	Floor        time.Duration `yaml:"floor"`
	Factor       float64       `yaml:"factor"`
	Cap          time.Duration `yaml:"cap"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DisplayConfig configures the emotion indicator.
type DisplayConfig struct {
	// LED enables the emotion indicator pins.
	LED bool `yaml:"led"`

	// Pins maps emotion labels to indicator pins.
	Pins map[string]int `yaml:"pins"`
}

// JournalConfig configures the optional event journal.
type JournalConfig struct {
	// PostgresDSN enables the journal when set.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Default returns the configuration used when nothing else is specified. It
// matches a local development setup against the mock server.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            "ws://127.0.0.1:8000",
			Token:          "dev-token",
			PlaybackStream: "self",
		},
		Admin: AdminConfig{
			ListenAddr: "127.0.0.1:9464",
			LogLevel:   LogInfo,
		},
		Audio: AudioConfig{
			Input:        InputTone,
			Output:       OutputNull,
			CaptureQueue: 50,
			WAVOutput:    "playback.wav",
		},
		VAD: VADConfig{
			Mode:       "gated",
			Threshold:  0.02,
			MinSilence: 400 * time.Millisecond,
		},
		Jitter: JitterConfig{
			PrebufferMs: 200,
			MaxBufferMs: 600,
			Speed:       1.0,
		},
		Reconnect: ReconnectConfig{
			Floor:        500 * time.Millisecond,
			Factor:       1.7,
			Cap:          10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Streams: []StreamConfig{
			{ID: "self", ToneHz: 440},
			{ID: "other", ToneHz: 660},
		},
		Display: DisplayConfig{
			LED:  true,
			Pins: display.DefaultPins(),
		},
	}
}

// InputFor returns the capture backend for s.
func (c *Config) InputFor(s StreamConfig) string {
	if s.Input != "" {
		return s.Input
	}
	return c.Audio.Input
}

// DeviceFor returns the capture device for s.
func (c *Config) DeviceFor(s StreamConfig) string {
	if s.Device != "" {
		return s.Device
	}
	return c.Audio.InputDevice
}
