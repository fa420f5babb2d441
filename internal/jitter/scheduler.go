package jitter

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/audio"
)

// lateLogEvery rate-limits the "falling behind" warning.
const lateLogEvery = 5 * time.Second

// FrameSource is the consumer side of a [Buffer].
type FrameSource interface {
	PopFrame() ([]byte, bool)
}

// SchedulerConfig configures a [Scheduler].
type SchedulerConfig struct {
	// FrameMs is the nominal frame duration. Default: [audio.FrameMs].
	FrameMs int

	// Speed scales the cadence: 1 is real time, values above 1 drain the
	// queue faster. Default: 1.
	Speed float64

	// OnBehind, if set, is called whenever a cycle took longer than its
	// budget. lateBy is the overrun. It runs on the scheduler goroutine.
	OnBehind func(lateBy time.Duration)
}

// Scheduler delivers frames to a sink at a fixed cadence.
type Scheduler struct {
	src     FrameSource
	sink    audio.Sink
	cycle   time.Duration
	onLate  func(time.Duration)
	metrics *observe.Metrics
	logger  *slog.Logger

	played   int
	late     int
	lastWarn time.Time
}

// SchedulerOption configures a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithMetrics records cycle timing and late cycles to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler returns a scheduler that moves frames from src to sink.
func NewScheduler(src FrameSource, sink audio.Sink, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = audio.FrameMs
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	s := &Scheduler{
		src:    src,
		sink:   sink,
		cycle:  time.Duration(float64(time.Duration(cfg.FrameMs)*time.Millisecond) / cfg.Speed),
		onLate: cfg.OnBehind,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Cycle is the target duration of one scheduling cycle.
func (s *Scheduler) Cycle() time.Duration { return s.cycle }

// Run delivers frames until ctx is cancelled, then returns nil. Sink errors
// are logged and do not stop the loop. When no frame is ready the cycle is
// skipped without writing anything.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.cycle)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()

		if frame, ok := s.src.PopFrame(); ok {
			ts := time.Duration(s.played) * audio.FrameDuration
			s.played++
			if err := s.sink.WriteFrame(ctx, audio.NewFrame(frame, ts)); err != nil && ctx.Err() == nil {
				s.logger.Warn("jitter: render frame", "err", err)
			}
			s.metrics.PlaybackCycleDuration.Record(ctx, time.Since(start).Seconds())
		}

		elapsed := time.Since(start)
		if elapsed > s.cycle {
			s.behind(ctx, elapsed-s.cycle)
			continue
		}
		timer.Reset(s.cycle - elapsed)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

func (s *Scheduler) behind(ctx context.Context, lateBy time.Duration) {
	s.late++
	s.metrics.PlaybackLate.Add(ctx, 1)
	if s.onLate != nil {
		s.onLate(lateBy)
	}
	if now := time.Now(); now.Sub(s.lastWarn) >= lateLogEvery {
		s.logger.Warn("playback falling behind", "late_by", lateBy, "late_cycles", s.late)
		s.lastWarn = now
	}
}
