package audio

import (
	"context"
	"io"
	"math"
	"time"
)

// Tone generator defaults: one second of beep followed by 400 ms of silence.
const (
	defaultToneAmplitude = 0.6
	defaultBeep          = time.Second
	defaultToneSilence   = 400 * time.Millisecond
)

// ToneSource is a synthetic [Source] that alternates a sine beep with
// silence. It lets the client be exercised end to end without a microphone:
// the beep is loud enough to open the VAD gate and the trailing silence is
// long enough to close it.
type ToneSource struct {
	freq      float64
	amplitude float64
	beepN     int // frames of beep per cycle
	silenceN  int // frames of silence per cycle
	repeat    bool
	pace      bool

	frame   int // frame index within the current cycle
	emitted int // frames emitted in total
	pacer   pacer
}

// ToneOption configures a [ToneSource].
type ToneOption func(*ToneSource)

// WithToneDurations overrides the beep and silence lengths. Both are rounded
// down to whole frames.
func WithToneDurations(beep, silence time.Duration) ToneOption {
	return func(s *ToneSource) {
		s.beepN = int(beep / FrameDuration)
		s.silenceN = int(silence / FrameDuration)
	}
}

// WithAmplitude sets the peak amplitude as a fraction of full scale.
func WithAmplitude(a float64) ToneOption {
	return func(s *ToneSource) { s.amplitude = a }
}

// WithRepeat controls whether the beep/silence cycle repeats forever (the
// default) or the source reports [io.EOF] after one cycle.
func WithRepeat(repeat bool) ToneOption {
	return func(s *ToneSource) { s.repeat = repeat }
}

// WithPacing controls whether ReadFrame waits so that frames are produced at
// real time, as a microphone would. Disabled pacing is useful in tests.
func WithPacing(pace bool) ToneOption {
	return func(s *ToneSource) { s.pace = pace }
}

// NewToneSource returns a paced, repeating tone generator at freq Hz.
func NewToneSource(freq float64, opts ...ToneOption) *ToneSource {
	s := &ToneSource{
		freq:      freq,
		amplitude: defaultToneAmplitude,
		beepN:     int(defaultBeep / FrameDuration),
		silenceN:  int(defaultToneSilence / FrameDuration),
		repeat:    true,
		pace:      true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ReadFrame implements [Source].
func (s *ToneSource) ReadFrame(ctx context.Context) (AudioFrame, error) {
	cycle := s.beepN + s.silenceN
	if cycle == 0 || (!s.repeat && s.emitted >= cycle) {
		return AudioFrame{}, io.EOF
	}

	if s.pace {
		if err := s.pacer.wait(ctx); err != nil {
			return AudioFrame{}, err
		}
	} else if err := ctx.Err(); err != nil {
		return AudioFrame{}, err
	}

	pcm := make([]byte, FrameBytes)
	if s.frame < s.beepN {
		base := s.frame * SamplesPerFrame
		for i := range SamplesPerFrame {
			n := base + i
			v := s.amplitude * math.Sin(2*math.Pi*s.freq*float64(n)/SampleRate)
			v = max(-1, min(1, v))
			putSample(pcm, i, int16(v*32767))
		}
	}

	ts := time.Duration(s.emitted) * FrameDuration
	s.emitted++
	s.frame++
	if s.frame >= cycle {
		s.frame = 0
	}
	return NewFrame(pcm, ts), nil
}
