// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own state (the
// speaking/silent flag and the running silence duration) so that several
// capture streams can be segmented independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a
// detection result, making it suitable for the send loop that decides, frame
// by frame, what goes on the wire.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"
)

// Defaults used when a [Config] field is zero.
const (
	DefaultSampleRate      = 16000
	DefaultFrameSizeMs     = 20
	DefaultSpeechThreshold = 0.02
	DefaultMinSilenceMs    = 400
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// SpeechThreshold is the level at or above which a frame counts as speech.
	// Range: (0.0, 1.0]. For energy detectors this is the normalised RMS.
	SpeechThreshold float64

	// MinSilenceMs is how much continuous sub-threshold audio ends an
	// utterance.
	MinSilenceMs int
}

// WithDefaults returns c with every zero field replaced by its default.
func (c Config) WithDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameSizeMs == 0 {
		c.FrameSizeMs = DefaultFrameSizeMs
	}
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.MinSilenceMs == 0 {
		c.MinSilenceMs = DefaultMinSilenceMs
	}
	return c
}

// FrameBytes is the byte length of one 16-bit mono frame under c.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate %d must be positive", c.SampleRate))
	}
	if c.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("vad: frame size %dms must be positive", c.FrameSizeMs))
	}
	if c.SpeechThreshold <= 0 || c.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: speech threshold %.3f out of range (0, 1]", c.SpeechThreshold))
	}
	if c.MinSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("vad: min silence %dms must not be negative", c.MinSilenceMs))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream. It
// is an interface so that test code can supply mock implementations without a
// live engine. Reset clears the detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw little-endian PCM at the SampleRate and
	// FrameSizeMs configured when the session was created.
	//
	// This method is called synchronously in the send loop; it must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset returns the session to the silent state and clears any
	// accumulated silence. Used when capture is muted so that stale state
	// from before the mute cannot produce a spurious boundary afterwards.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
