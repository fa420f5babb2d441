package audio

import (
	"context"
	"sync/atomic"
)

// NullSink discards every frame. It is the fallback renderer when the
// configured output backend cannot be opened, so that playback timing,
// metrics and mute coordination keep working on headless machines.
type NullSink struct {
	frames atomic.Int64
}

// WriteFrame implements [Sink].
func (s *NullSink) WriteFrame(_ context.Context, _ AudioFrame) error {
	s.frames.Add(1)
	return nil
}

// Frames reports how many frames have been discarded.
func (s *NullSink) Frames() int64 { return s.frames.Load() }

// SinkFunc adapts an ordinary function to the [Sink] interface.
type SinkFunc func(ctx context.Context, frame AudioFrame) error

// WriteFrame calls f(ctx, frame).
func (f SinkFunc) WriteFrame(ctx context.Context, frame AudioFrame) error {
	return f(ctx, frame)
}
