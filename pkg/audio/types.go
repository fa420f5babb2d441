package audio

import (
	"context"
	"time"
)

// Wire format shared by capture, the network and playback. Every frame on the
// send path and every frame released by the jitter buffer carries exactly
// FrameBytes of signed 16-bit little-endian mono PCM.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
	FrameMs        = 20

	// SamplesPerFrame is the number of samples in one FrameMs slice.
	SamplesPerFrame = SampleRate * FrameMs / 1000

	// FrameBytes is the size of one frame in bytes (640 for 20 ms @ 16 kHz).
	FrameBytes = SamplesPerFrame * BytesPerSample * Channels
)

// FrameDuration is FrameMs expressed as a [time.Duration].
const FrameDuration = FrameMs * time.Millisecond

// AudioFrame represents a single frame of audio data flowing through the client.
// Frames are the atomic unit of audio transport: produced by a [Source],
// evaluated by VAD, sent over the network, re-chunked by the jitter buffer and
// finally handed to a [Sink].
type AudioFrame struct {
	// PCM audio data, little-endian int16.
	Data []byte

	// SampleRate in Hz. Frames in the core pipeline are always [SampleRate].
	SampleRate int

	// Channels: 1 for mono. Capture backends may deliver stereo which is
	// folded down by [Normalizer] before framing.
	Channels int

	// Timestamp marks when this frame was produced, relative to stream start.
	Timestamp time.Duration
}

// NewFrame wraps pcm as a frame in the core wire format.
func NewFrame(pcm []byte, ts time.Duration) AudioFrame {
	return AudioFrame{Data: pcm, SampleRate: SampleRate, Channels: Channels, Timestamp: ts}
}

// Source supplies a lazy, possibly infinite sequence of fixed-duration frames.
//
// ReadFrame blocks until the next frame is available or ctx is done. A finite
// source returns [io.EOF] once exhausted; callers treat that as a normal end of
// stream, not a failure.
//
// A Source is consumed by a single goroutine.
type Source interface {
	ReadFrame(ctx context.Context) (AudioFrame, error)
}

// Sink accepts frames for rendering. WriteFrame may block for up to one frame
// duration on real hardware; it is always called from the playback scheduler
// goroutine, never from a network goroutine.
type Sink interface {
	WriteFrame(ctx context.Context, frame AudioFrame) error
}
