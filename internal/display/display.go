// Package display routes text and emotion events received on the playback
// connection to whatever presents them: the log, an LED indicator, or the
// event journal.
package display

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxlink/internal/protocol"
)

// Display receives presentation events. Implementations must not block the
// caller for long; they run on the playback receive goroutine.
type Display interface {
	// ShowText presents a transcript or reply. kind is
	// [protocol.TypeFinalASR] or [protocol.TypeAIText].
	ShowText(ctx context.Context, kind protocol.Type, text string)

	// ShowEmotion presents an emotion label.
	ShowEmotion(ctx context.Context, label string)
}

// LogDisplay writes every event to a logger.
type LogDisplay struct {
	Logger *slog.Logger
}

func (d LogDisplay) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// ShowText implements [Display].
func (d LogDisplay) ShowText(ctx context.Context, kind protocol.Type, text string) {
	d.logger().InfoContext(ctx, "text received", "kind", string(kind), "text", text)
}

// ShowEmotion implements [Display].
func (d LogDisplay) ShowEmotion(ctx context.Context, label string) {
	d.logger().InfoContext(ctx, "emotion received", "emotion", label)
}

// Multi fans every event out to all of its displays in order.
type Multi []Display

// ShowText implements [Display].
func (m Multi) ShowText(ctx context.Context, kind protocol.Type, text string) {
	for _, d := range m {
		d.ShowText(ctx, kind, text)
	}
}

// ShowEmotion implements [Display].
func (m Multi) ShowEmotion(ctx context.Context, label string) {
	for _, d := range m {
		d.ShowEmotion(ctx, label)
	}
}

// Nop discards everything.
type Nop struct{}

// ShowText implements [Display].
func (Nop) ShowText(context.Context, protocol.Type, string) {}

// ShowEmotion implements [Display].
func (Nop) ShowEmotion(context.Context, string) {}

// Recorder keeps every event in memory. Tests use it to observe what the
// playback client forwarded.
type Recorder struct {
	mu       sync.Mutex
	texts    []Text
	emotions []string
}

// Text is one recorded text event.
type Text struct {
	Kind protocol.Type
	Text string
}

// ShowText implements [Display].
func (r *Recorder) ShowText(_ context.Context, kind protocol.Type, text string) {
	r.mu.Lock()
	r.texts = append(r.texts, Text{Kind: kind, Text: text})
	r.mu.Unlock()
}

// ShowEmotion implements [Display].
func (r *Recorder) ShowEmotion(_ context.Context, label string) {
	r.mu.Lock()
	r.emotions = append(r.emotions, label)
	r.mu.Unlock()
}

// Texts returns a copy of the recorded text events.
func (r *Recorder) Texts() []Text {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Text(nil), r.texts...)
}

// Emotions returns a copy of the recorded emotion labels.
func (r *Recorder) Emotions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.emotions...)
}

var (
	_ Display = LogDisplay{}
	_ Display = Multi(nil)
	_ Display = Nop{}
	_ Display = (*Recorder)(nil)
)
