// Package segment turns per-frame VAD events into send decisions.
//
// A [Segmenter] sits between the capture source and the WebSocket sender. For
// each frame it answers two questions: should this frame go on the wire, and
// does an utterance end here (so a stop marker must follow it)?
package segment

import (
	"fmt"
	"strings"

	"github.com/MrWong99/voxlink/pkg/provider/vad"
)

// Mode selects which frames are forwarded.
type Mode int

const (
	// Gated forwards only frames that belong to an utterance. Leading silence
	// stays local; trailing silence up to the end of the utterance is sent.
	Gated Mode = iota

	// Continuous forwards every frame and still marks utterance ends.
	Continuous
)

// String implements [fmt.Stringer].
func (m Mode) String() string {
	switch m {
	case Gated:
		return "gated"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "gated" or "continuous". The empty string is [Gated].
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gated":
		return Gated, nil
	case "continuous":
		return Continuous, nil
	default:
		return Gated, fmt.Errorf("segment: unknown mode %q", s)
	}
}

// Decision is the verdict for a single frame.
type Decision struct {
	// Forward is true when the frame should be sent.
	Forward bool

	// Stop is true when an utterance ended on this frame. The stop marker is
	// sent after the frame itself (if forwarded).
	Stop bool
}

// Segmenter wraps a VAD session. It is not safe for concurrent use; each
// sender owns one.
type Segmenter struct {
	session  vad.SessionHandle
	mode     Mode
	speaking bool
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithMode sets the forwarding mode. The default is [Gated].
func WithMode(m Mode) Option {
	return func(s *Segmenter) { s.mode = m }
}

// New returns a segmenter that drives session.
func New(session vad.SessionHandle, opts ...Option) *Segmenter {
	s := &Segmenter{session: session}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Update feeds one frame through the detector.
func (s *Segmenter) Update(frame []byte) (Decision, error) {
	ev, err := s.session.ProcessFrame(frame)
	if err != nil {
		return Decision{}, fmt.Errorf("segment: update: %w", err)
	}

	var d Decision
	switch ev.Type {
	case vad.VADSpeechStart, vad.VADSpeechContinue:
		s.speaking = true
		d.Forward = true
	case vad.VADSpeechEnd:
		s.speaking = false
		d.Forward = true
		d.Stop = true
	case vad.VADSilence:
		s.speaking = false
	}
	if s.mode == Continuous {
		d.Forward = true
	}
	return d, nil
}

// Reset discards the current utterance without emitting a stop. Called for
// every frame dropped while muted.
func (s *Segmenter) Reset() {
	s.speaking = false
	s.session.Reset()
}

// Speaking reports whether an utterance is open, i.e. whether a stop is owed
// if the stream ends now.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Mode returns the forwarding mode.
func (s *Segmenter) Mode() Mode { return s.mode }

// Close releases the underlying VAD session.
func (s *Segmenter) Close() error { return s.session.Close() }
