//go:build !portaudio

package app_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxlink/internal/app"
	"github.com/MrWong99/voxlink/internal/config"
)

func TestPortAudioUnavailable(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)
	if _, err := reg.CreateInput(config.InputPortAudio, config.InputSpec{}); !errors.Is(err, app.ErrPortAudioUnavailable) {
		t.Errorf("CreateInput err = %v, want ErrPortAudioUnavailable", err)
	}
	if _, err := reg.CreateOutput(config.OutputPortAudio, config.OutputSpec{}); !errors.Is(err, app.ErrPortAudioUnavailable) {
		t.Errorf("CreateOutput err = %v, want ErrPortAudioUnavailable", err)
	}
}
