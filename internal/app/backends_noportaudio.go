//go:build !portaudio

package app

import (
	"errors"

	"github.com/MrWong99/voxlink/internal/config"
)

// ErrPortAudioUnavailable is returned by the portaudio backends of a binary
// built without the "portaudio" tag.
var ErrPortAudioUnavailable = errors.New("app: built without portaudio support (rebuild with -tags portaudio)")

func registerPortAudio(reg *config.Registry) {
	reg.RegisterInput(config.InputPortAudio, func(config.InputSpec) (config.Input, error) {
		return nil, ErrPortAudioUnavailable
	})
	reg.RegisterOutput(config.OutputPortAudio, func(config.OutputSpec) (config.Output, error) {
		return nil, ErrPortAudioUnavailable
	})
}
