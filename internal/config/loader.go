package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxlink/internal/jitter"
	"github.com/MrWong99/voxlink/internal/segment"
)

// Known backend names, checked by [Validate].
var (
	ValidInputs  = []string{InputTone, InputWAV, InputPortAudio}
	ValidOutputs = []string{OutputNull, OutputWAV, OutputPortAudio}
)

// Load reads the YAML file at path on top of [Default] and validates it.
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

// LoadFromReader decodes YAML from r on top of [Default] and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url %q: %w", cfg.Server.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("server.url %q must use ws:// or wss://", cfg.Server.URL))
	}
	if cfg.Server.PlaybackStream == "" {
		errs = append(errs, errors.New("server.playback_stream is required"))
	}
	if cfg.Server.Token == "" {
		slog.Warn("server.token is empty; the server will likely reject connections")
	}

	// Admin
	if cfg.Admin.LogLevel != "" && !cfg.Admin.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("admin.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Admin.LogLevel))
	}

	// Audio
	if !slices.Contains(ValidInputs, cfg.Audio.Input) {
		errs = append(errs, fmt.Errorf("audio.input %q is invalid; valid values: %v", cfg.Audio.Input, ValidInputs))
	}
	if !slices.Contains(ValidOutputs, cfg.Audio.Output) {
		errs = append(errs, fmt.Errorf("audio.output %q is invalid; valid values: %v", cfg.Audio.Output, ValidOutputs))
	}
	if cfg.Audio.CaptureQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_queue %d must not be negative", cfg.Audio.CaptureQueue))
	}
	if cfg.Audio.Output == OutputWAV && cfg.Audio.WAVOutput == "" {
		errs = append(errs, errors.New("audio.wav_output is required when audio.output is wav"))
	}

	// Streams
	if len(cfg.Streams) == 0 {
		errs = append(errs, errors.New("streams: at least one sender stream is required"))
	}
	seen := make(map[string]int, len(cfg.Streams))
	for i, s := range cfg.Streams {
		prefix := fmt.Sprintf("streams[%d]", i)
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seen[s.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of streams[%d]", prefix, s.ID, prev))
		} else {
			seen[s.ID] = i
		}
		input := cfg.InputFor(s)
		if s.Input != "" && !slices.Contains(ValidInputs, s.Input) {
			errs = append(errs, fmt.Errorf("%s.input %q is invalid; valid values: %v", prefix, s.Input, ValidInputs))
		}
		if input == InputWAV && s.File == "" {
			errs = append(errs, fmt.Errorf("%s.file is required for the wav input", prefix))
		}
		if s.ToneHz < 0 {
			errs = append(errs, fmt.Errorf("%s.tone_hz %.1f must not be negative", prefix, s.ToneHz))
		}
	}

	// VAD
	if _, err := segment.ParseMode(cfg.VAD.Mode); err != nil {
		errs = append(errs, fmt.Errorf("vad.mode: %w", err))
	}
	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.4f is out of range (0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.MinSilence <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence %v must be positive", cfg.VAD.MinSilence))
	}

	// Jitter
	if cfg.Jitter.PrebufferMs < 0 {
		errs = append(errs, fmt.Errorf("jitter.prebuffer_ms %d must not be negative", cfg.Jitter.PrebufferMs))
	}
	if cfg.Jitter.MaxBufferMs <= 0 {
		errs = append(errs, fmt.Errorf("jitter.max_buffer_ms %d must be positive", cfg.Jitter.MaxBufferMs))
	}
	prebuffer := cfg.Jitter.PrebufferMs
	if prebuffer == 0 {
		prebuffer = jitter.DefaultPrebufferMs
	}
	if cfg.Jitter.MaxBufferMs > 0 && prebuffer > cfg.Jitter.MaxBufferMs {
		errs = append(errs, fmt.Errorf("jitter.prebuffer_ms %d exceeds jitter.max_buffer_ms %d", prebuffer, cfg.Jitter.MaxBufferMs))
	}
	if cfg.Jitter.Speed <= 0 {
		errs = append(errs, fmt.Errorf("jitter.speed %.2f must be positive", cfg.Jitter.Speed))
	}

	// Reconnect
	if cfg.Reconnect.Floor <= 0 {
		errs = append(errs, fmt.Errorf("reconnect.floor %v must be positive", cfg.Reconnect.Floor))
	}
	if cfg.Reconnect.Factor < 1 {
		errs = append(errs, fmt.Errorf("reconnect.factor %.2f must be at least 1", cfg.Reconnect.Factor))
	}
	if cfg.Reconnect.Cap < cfg.Reconnect.Floor {
		errs = append(errs, fmt.Errorf("reconnect.cap %v is below reconnect.floor %v", cfg.Reconnect.Cap, cfg.Reconnect.Floor))
	}

	// Display
	for label, pin := range cfg.Display.Pins {
		if pin < 0 {
			errs = append(errs, fmt.Errorf("display.pins[%q] %d must not be negative", label, pin))
		}
	}

	return errors.Join(errs...)
}
