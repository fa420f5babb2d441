// Package rms implements an energy-based [vad.Engine].
//
// Each frame's loudness is its root-mean-square amplitude with the DC offset
// removed, normalised to [0, 1] against int16 full scale. A two-state machine
// (silent, speaking) turns the per-frame level into utterance boundaries: the
// first loud frame starts an utterance, and an utterance ends only after
// MinSilenceMs of continuous quiet, so short pauses between words do not
// split it.
package rms

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/MrWong99/voxlink/pkg/provider/vad"
)

// ErrClosed is returned by ProcessFrame after the session has been closed.
var ErrClosed = errors.New("rms: session closed")

// Level returns the DC-removed RMS of little-endian int16 PCM normalised to
// [0, 1]: sqrt(E[x²] − E[x]²) / 32768. Empty input has level 0.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for i := range n {
		x := float64(int16(pcm[2*i]) | int16(pcm[2*i+1])<<8)
		sum += x
		sumSq += x * x
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		// Floating point cancellation on near-constant input.
		variance = 0
	}
	return min(1, math.Sqrt(variance)/32768)
}

// Engine creates energy VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine]. Zero config fields take the package
// defaults from [vad.Config.WithDefaults].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		frameBytes:   cfg.FrameBytes(),
		frameMs:      cfg.FrameSizeMs,
		minSilenceMs: cfg.MinSilenceMs,
	}
	s.SetThreshold(cfg.SpeechThreshold)
	return s, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a single-stream energy detector. It is not safe for concurrent
// use except for [Session.SetThreshold], which may be called from any
// goroutine to retune a live session.
type Session struct {
	frameBytes   int
	frameMs      int
	minSilenceMs int
	threshold    atomic.Uint64 // math.Float64bits

	speaking     bool
	silenceRunMs int
	closed       bool
}

var _ vad.SessionHandle = (*Session)(nil)

// SetThreshold changes the speech threshold. It takes effect on the next frame.
func (s *Session) SetThreshold(t float64) {
	s.threshold.Store(math.Float64bits(t))
}

// Threshold returns the current speech threshold.
func (s *Session) Threshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// Speaking reports whether the session is inside an utterance.
func (s *Session) Speaking() bool { return s.speaking }

// SilenceRunMs reports the sub-threshold duration accumulated since the last
// loud frame of the current utterance.
func (s *Session) SilenceRunMs() int { return s.silenceRunMs }

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("rms: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	level := Level(frame)
	loud := level >= s.Threshold()
	ev := vad.VADEvent{Probability: level}

	switch {
	case !s.speaking && loud:
		s.speaking = true
		s.silenceRunMs = 0
		ev.Type = vad.VADSpeechStart
	case !s.speaking:
		ev.Type = vad.VADSilence
	case loud:
		s.silenceRunMs = 0
		ev.Type = vad.VADSpeechContinue
	default:
		s.silenceRunMs += s.frameMs
		if s.silenceRunMs >= s.minSilenceMs {
			s.speaking = false
			s.silenceRunMs = 0
			ev.Type = vad.VADSpeechEnd
		} else {
			ev.Type = vad.VADSpeechContinue
		}
	}
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.speaking = false
	s.silenceRunMs = 0
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.closed = true
	return nil
}
