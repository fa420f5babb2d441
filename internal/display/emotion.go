package display

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxlink/internal/protocol"
)

// Emotion labels sent by the server and their default indicator pins (BCM
// numbering).
const (
	EmotionJoy    = "喜び"
	EmotionAnger  = "怒り"
	EmotionSad    = "悲しみ"
	EmotionNormal = "平常"
)

// DefaultPins maps each known emotion to its indicator pin.
func DefaultPins() map[string]int {
	return map[string]int{
		EmotionJoy:    17,
		EmotionAnger:  27,
		EmotionSad:    22,
		EmotionNormal: 23,
	}
}

// Indicator drives one output line per pin.
type Indicator interface {
	Set(pin int, on bool) error
}

// LogIndicator is an [Indicator] for hosts without GPIO. It logs every change.
type LogIndicator struct {
	Logger *slog.Logger
}

// Set implements [Indicator].
func (l LogIndicator) Set(pin int, on bool) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("indicator", "pin", pin, "on", on)
	return nil
}

// EmotionPins lights exactly one indicator pin per known emotion label.
// Unknown labels turn every pin off.
type EmotionPins struct {
	ind  Indicator
	pins map[string]int

	mu      sync.Mutex
	current int // -1 when nothing is lit
}

// NewEmotionPins configures ind for pins and switches every pin off. A nil
// pins map uses [DefaultPins].
func NewEmotionPins(ind Indicator, pins map[string]int) (*EmotionPins, error) {
	if pins == nil {
		pins = DefaultPins()
	}
	e := &EmotionPins{ind: ind, pins: maps.Clone(pins), current: -1}
	if err := e.Clear(); err != nil {
		return nil, err
	}
	return e, nil
}

// Pin returns the pin for label.
func (e *EmotionPins) Pin(label string) (int, bool) {
	p, ok := e.pins[label]
	return p, ok
}

// Current returns the lit pin, or -1.
func (e *EmotionPins) Current() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// ShowText implements [Display]; text has no indicator representation.
func (e *EmotionPins) ShowText(context.Context, protocol.Type, string) {}

// ShowEmotion implements [Display].
func (e *EmotionPins) ShowEmotion(ctx context.Context, label string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current >= 0 {
		if err := e.ind.Set(e.current, false); err != nil {
			slog.WarnContext(ctx, "display: indicator off", "pin", e.current, "err", err)
		}
		e.current = -1
	}
	pin, ok := e.pins[label]
	if !ok {
		slog.WarnContext(ctx, "display: unknown emotion", "emotion", label)
		return
	}
	if err := e.ind.Set(pin, true); err != nil {
		slog.WarnContext(ctx, "display: indicator on", "pin", pin, "err", err)
		return
	}
	e.current = pin
}

// Clear switches every pin off.
func (e *EmotionPins) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, pin := range slices.Sorted(maps.Values(e.pins)) {
		if err := e.ind.Set(pin, false); err != nil {
			errs = append(errs, err)
		}
	}
	e.current = -1
	return errors.Join(errs...)
}

// Close switches every pin off. It is safe to call more than once.
func (e *EmotionPins) Close() error { return e.Clear() }

var _ Display = (*EmotionPins)(nil)
