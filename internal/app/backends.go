package app

import (
	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/pkg/audio"
)

// defaultToneHz is used when a tone stream does not set tone_hz.
const defaultToneHz = 440

// RegisterBuiltins registers every capture and render backend compiled into
// this binary: tone, wav and null always, portaudio when built with the
// "portaudio" tag.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterInput(config.InputTone, func(spec config.InputSpec) (config.Input, error) {
		hz := spec.ToneHz
		if hz <= 0 {
			hz = defaultToneHz
		}
		return nopCloser{audio.NewToneSource(hz, audio.WithPacing(spec.Pace))}, nil
	})
	reg.RegisterInput(config.InputWAV, func(spec config.InputSpec) (config.Input, error) {
		return audio.OpenWAV(spec.File, spec.Pace)
	})
	reg.RegisterOutput(config.OutputNull, func(config.OutputSpec) (config.Output, error) {
		return nullOutput{&audio.NullSink{}}, nil
	})
	reg.RegisterOutput(config.OutputWAV, func(spec config.OutputSpec) (config.Output, error) {
		return audio.CreateWAV(spec.File)
	})
	registerPortAudio(reg)
}

type nopCloser struct{ audio.Source }

func (nopCloser) Close() error { return nil }

type nullOutput struct{ *audio.NullSink }

func (nullOutput) Close() error { return nil }
