// Package jitter turns irregular network audio into a steady frame stream.
//
// [Buffer] re-chunks arbitrarily sized payloads into fixed frames and holds
// back a prebuffer before releasing them. [Scheduler] pulls one frame per
// cadence tick and hands it to an [audio.Sink].
package jitter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// Buffer defaults.
const (
	DefaultPrebufferMs = 200
	DefaultMaxBufferMs = 600
)

// BufferConfig configures a [Buffer]. Zero fields take defaults.
type BufferConfig struct {
	// FrameBytes is the size of every frame the buffer releases.
	// Default: [audio.FrameBytes].
	FrameBytes int

	// FrameMs is the duration of one frame. Default: [audio.FrameMs].
	FrameMs int

	// PrebufferMs is how much audio must be queued before the first frame
	// is released. Zero selects the default of 200; there is no way to turn
	// the prebuffer off other than [Buffer.SetEndOfChunk]. It must not
	// exceed MaxBufferMs.
	PrebufferMs int

	// MaxBufferMs bounds the queue; older frames are discarded beyond it.
	// Default: 600.
	MaxBufferMs int
}

func (c BufferConfig) withDefaults() BufferConfig {
	if c.FrameBytes == 0 {
		c.FrameBytes = audio.FrameBytes
	}
	if c.FrameMs == 0 {
		c.FrameMs = audio.FrameMs
	}
	if c.PrebufferMs == 0 {
		c.PrebufferMs = DefaultPrebufferMs
	}
	if c.MaxBufferMs == 0 {
		c.MaxBufferMs = DefaultMaxBufferMs
	}
	return c
}

// Validate reports every invalid field of c after defaults are applied.
func (c BufferConfig) Validate() error {
	c = c.withDefaults()
	var errs []error
	if c.FrameBytes < 0 || c.FrameBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("jitter: frame bytes %d must be a positive even number", c.FrameBytes))
	}
	if c.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("jitter: frame duration %dms must be positive", c.FrameMs))
	}
	if c.PrebufferMs < 0 {
		errs = append(errs, fmt.Errorf("jitter: prebuffer %dms must not be negative", c.PrebufferMs))
	}
	if c.MaxBufferMs < 0 {
		errs = append(errs, fmt.Errorf("jitter: max buffer %dms must not be negative", c.MaxBufferMs))
	}
	// A cap below the prebuffer would hold every frame until end-of-chunk.
	if c.PrebufferMs > c.MaxBufferMs {
		errs = append(errs, fmt.Errorf("jitter: prebuffer %dms exceeds max buffer %dms", c.PrebufferMs, c.MaxBufferMs))
	}
	return errors.Join(errs...)
}

// Buffer is a bounded FIFO of fixed-size frames. PushChunk and PopFrame may
// be called concurrently.
type Buffer struct {
	frameBytes int
	prebuffer  int
	maxFrames  int

	mu         sync.Mutex
	frames     [][]byte
	endOfChunk bool
}

// NewBuffer returns an empty buffer. It returns an error for an invalid cfg.
func NewBuffer(cfg BufferConfig) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Buffer{
		frameBytes: cfg.FrameBytes,
		prebuffer:  cfg.PrebufferMs / cfg.FrameMs,
		maxFrames:  max(1, cfg.MaxBufferMs/cfg.FrameMs),
	}, nil
}

// PrebufferFrames is the queue depth required before frames are released.
func (b *Buffer) PrebufferFrames() int { return b.prebuffer }

// MaxFrames is the queue capacity.
func (b *Buffer) MaxFrames() int { return b.maxFrames }

// PushChunk appends payload as consecutive frames, zero padding the last one,
// and clears the end-of-chunk flag. If the queue then exceeds its capacity the
// oldest frames are discarded; the number discarded is returned.
func (b *Buffer) PushChunk(payload []byte) int {
	if len(payload) == 0 {
		return 0
	}
	n := (len(payload) + b.frameBytes - 1) / b.frameBytes
	chunk := make([][]byte, 0, n)
	for off := 0; off < len(payload); off += b.frameBytes {
		frame := make([]byte, b.frameBytes)
		copy(frame, payload[off:])
		chunk = append(chunk, frame)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.endOfChunk = false
	b.frames = append(b.frames, chunk...)
	dropped := 0
	if over := len(b.frames) - b.maxFrames; over > 0 {
		clear(b.frames[:over])
		b.frames = b.frames[over:]
		dropped = over
	}
	return dropped
}

// PopFrame removes and returns the oldest frame. It reports false when the
// queue is empty, or when it holds fewer than [Buffer.PrebufferFrames] and
// the end-of-chunk flag is clear. PopFrame never blocks.
func (b *Buffer) PopFrame() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil, false
	}
	if len(b.frames) < b.prebuffer && !b.endOfChunk {
		return nil, false
	}
	f := b.frames[0]
	b.frames[0] = nil
	b.frames = b.frames[1:]
	if len(b.frames) == 0 {
		// Let the backing array go instead of creeping forward forever.
		b.frames = nil
	}
	return f, true
}

// SetEndOfChunk marks that no more audio is coming for the current
// utterance, so a tail shorter than the prebuffer may drain.
func (b *Buffer) SetEndOfChunk(v bool) {
	b.mu.Lock()
	b.endOfChunk = v
	b.mu.Unlock()
}

// EndOfChunk reports the end-of-chunk flag.
func (b *Buffer) EndOfChunk() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endOfChunk
}

// Len returns the number of queued frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Reset discards all queued frames and clears the end-of-chunk flag.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.frames = nil
	b.endOfChunk = false
	b.mu.Unlock()
}
