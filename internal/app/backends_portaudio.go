//go:build portaudio

package app

import (
	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/pkg/audio/portaudio"
)

func registerPortAudio(reg *config.Registry) {
	reg.RegisterInput(config.InputPortAudio, func(spec config.InputSpec) (config.Input, error) {
		return portaudio.OpenInput(spec.Device, spec.CaptureQueue, spec.OnDrop)
	})
	reg.RegisterOutput(config.OutputPortAudio, func(spec config.OutputSpec) (config.Output, error) {
		return portaudio.OpenOutput(spec.Device)
	})
}
