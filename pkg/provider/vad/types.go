package vad

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the detector's speech score for the frame, in [0.0, 1.0].
	// Energy detectors report the normalised RMS level here.
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun on this frame.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech, including short pauses that
	// have not yet reached the minimum silence duration.
	VADSpeechContinue

	// VADSpeechEnd indicates that the accumulated silence reached the minimum
	// duration on this frame; the utterance is over.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// String returns the human-readable name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
