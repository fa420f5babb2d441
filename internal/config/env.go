package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/MrWong99/voxlink/internal/display"
)

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// EnvLookup returns a [LookupFunc] over the process environment layered on
// top of the given dotenv files. Missing files are skipped; process
// variables win over file entries, and earlier files win over later ones.
func EnvLookup(files ...string) (LookupFunc, error) {
	merged := make(map[string]string)
	for i := len(files) - 1; i >= 0; i-- {
		vals, err := godotenv.Read(files[i])
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", files[i], err)
		}
		for k, v := range vals {
			merged[k] = v
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := merged[key]
		return v, ok
	}, nil
}

// pinVars maps LED_PIN_* variables to emotion labels.
var pinVars = map[string]string{
	"LED_PIN_JOY":    display.EmotionJoy,
	"LED_PIN_ANGER":  display.EmotionAnger,
	"LED_PIN_SAD":    display.EmotionSad,
	"LED_PIN_NORMAL": display.EmotionNormal,
}

// ApplyEnv overlays the environment variables understood by earlier
// deployments onto cfg and re-validates it:
//
//	SERVER_IP, SERVER_PORT, SERVER_AUTH_TOKEN
//	INPUT_BACKEND (tone, wav, portaudio; sounddevice and alsa mean portaudio)
//	USE_SD (1 renders through portaudio)
//	SD_INPUT_DEVICE, SD_INPUT_DEVICE_SELF, SD_INPUT_DEVICE_OTHER, SD_OUTPUT_DEVICE
//	USE_LED, LED_PIN_JOY, LED_PIN_ANGER, LED_PIN_SAD, LED_PIN_NORMAL
//	VOXLINK_POSTGRES_DSN, VOXLINK_LOG_LEVEL
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	// Server address
	ip, hasIP := get("SERVER_IP")
	port, hasPort := get("SERVER_PORT")
	if hasIP || hasPort {
		u, err := url.Parse(cfg.Server.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("SERVER_IP/SERVER_PORT: current server.url: %w", err))
		} else {
			if !hasIP {
				ip = u.Hostname()
			}
			if !hasPort {
				port = u.Port()
			}
			u.Host = ip
			if port != "" {
				u.Host = net.JoinHostPort(ip, port)
			}
			cfg.Server.URL = u.String()
		}
	}
	if v, ok := get("SERVER_AUTH_TOKEN"); ok {
		cfg.Server.Token = v
	}

	// Audio backends
	if v, ok := get("INPUT_BACKEND"); ok {
		switch strings.ToLower(v) {
		case "sounddevice", "alsa":
			v = InputPortAudio
		}
		cfg.Audio.Input = strings.ToLower(v)
	}
	if v, ok := get("USE_SD"); ok {
		if on, err := strconv.ParseBool(v); err != nil {
			errs = append(errs, fmt.Errorf("USE_SD %q: %w", v, err))
		} else if on {
			cfg.Audio.Output = OutputPortAudio
		}
	}
	if v, ok := get("SD_INPUT_DEVICE"); ok {
		cfg.Audio.InputDevice = v
	}
	if v, ok := get("SD_INPUT_DEVICE_SELF"); ok {
		setStreamDevice(cfg, "self", v)
	}
	if v, ok := get("SD_INPUT_DEVICE_OTHER"); ok {
		setStreamDevice(cfg, "other", v)
	}
	if v, ok := get("SD_OUTPUT_DEVICE"); ok {
		cfg.Audio.OutputDevice = v
	} else if v, ok := get("SD_INPUT_DEVICE_SELF"); ok && cfg.Audio.OutputDevice == "" {
		// Headsets expose capture and render under the same device.
		cfg.Audio.OutputDevice = v
	}

	// Emotion indicator
	if v, ok := get("USE_LED"); ok {
		if on, err := strconv.ParseBool(v); err != nil {
			errs = append(errs, fmt.Errorf("USE_LED %q: %w", v, err))
		} else {
			cfg.Display.LED = on
		}
	}
	for key, label := range pinVars {
		v, ok := get(key)
		if !ok {
			continue
		}
		pin, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", key, v, err))
			continue
		}
		if cfg.Display.Pins == nil {
			cfg.Display.Pins = make(map[string]int)
		}
		cfg.Display.Pins[label] = pin
	}

	if v, ok := get("VOXLINK_POSTGRES_DSN"); ok {
		cfg.Journal.PostgresDSN = v
	}
	if v, ok := get("VOXLINK_LOG_LEVEL"); ok {
		cfg.Admin.LogLevel = LogLevel(strings.ToLower(v))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return Validate(cfg)
}

// setStreamDevice sets the device of stream id, adding the stream if absent.
func setStreamDevice(cfg *Config, id, device string) {
	for i := range cfg.Streams {
		if cfg.Streams[i].ID == id {
			cfg.Streams[i].Device = device
			return
		}
	}
	cfg.Streams = append(cfg.Streams, StreamConfig{ID: id, Device: device})
}
