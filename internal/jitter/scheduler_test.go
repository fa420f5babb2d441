package jitter_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/internal/jitter"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/audio/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// runFor runs s until d has elapsed and waits for it to return.
func runFor(t *testing.T, s *jitter.Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// sliceSource hands out a fixed set of frames.
type sliceSource struct {
	mu     sync.Mutex
	frames [][]byte
	pops   int
}

func (s *sliceSource) PopFrame() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pops++
	if len(s.frames) == 0 {
		return nil, false
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, true
}

func TestScheduler_Cycle(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	tests := []struct {
		frameMs int
		speed   float64
		want    time.Duration
	}{
		{0, 0, 20 * time.Millisecond},
		{20, 1, 20 * time.Millisecond},
		{20, 2, 10 * time.Millisecond},
		{40, 0.5, 80 * time.Millisecond},
	}
	for _, tt := range tests {
		s := jitter.NewScheduler(&sliceSource{}, &mock.Sink{},
			jitter.SchedulerConfig{FrameMs: tt.frameMs, Speed: tt.speed}, jitter.WithMetrics(m))
		if got := s.Cycle(); got != tt.want {
			t.Errorf("FrameMs=%d Speed=%v: Cycle = %v, want %v", tt.frameMs, tt.speed, got, tt.want)
		}
	}
}

func TestScheduler_DeliversInOrderAtCadence(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	src := &sliceSource{}
	for i := range 5 {
		f := make([]byte, frameBytes)
		f[0] = byte(i)
		src.frames = append(src.frames, f)
	}
	sink := &mock.Sink{}
	s := jitter.NewScheduler(src, sink, jitter.SchedulerConfig{}, jitter.WithMetrics(m))

	runFor(t, s, 200*time.Millisecond)

	written := sink.Written()
	if len(written) != 5 {
		t.Fatalf("wrote %d frames, want 5", len(written))
	}
	for i, f := range written {
		if f[0] != byte(i) {
			t.Errorf("frame %d marker = %d", i, f[0])
		}
	}
	times := sink.Times()
	for i := 1; i < len(times); i++ {
		// Allow scheduling slop below the 20 ms period but never a burst.
		if gap := times[i].Sub(times[i-1]); gap < 15*time.Millisecond {
			t.Errorf("gap between frame %d and %d = %v, want about 20ms", i-1, i, gap)
		}
	}
}

func TestScheduler_EmptyCyclesWriteNothing(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	src := &sliceSource{}
	sink := &mock.Sink{}
	s := jitter.NewScheduler(src, sink, jitter.SchedulerConfig{}, jitter.WithMetrics(m))

	runFor(t, s, 100*time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("sink got %d frames from an empty source", sink.Count())
	}
	src.mu.Lock()
	pops := src.pops
	src.mu.Unlock()
	// Roughly one poll per 20 ms cycle, not a busy loop.
	if pops < 2 || pops > 10 {
		t.Errorf("polled %d times in 100ms, want about 5", pops)
	}
}

func TestScheduler_FallingBehind(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	src := &sliceSource{}
	for range 3 {
		src.frames = append(src.frames, make([]byte, frameBytes))
	}
	sink := &mock.Sink{Delay: 30 * time.Millisecond}

	var behind atomic.Int32
	s := jitter.NewScheduler(src, sink, jitter.SchedulerConfig{
		OnBehind: func(lateBy time.Duration) {
			if lateBy <= 0 {
				t.Errorf("lateBy = %v, want positive", lateBy)
			}
			behind.Add(1)
		},
	}, jitter.WithMetrics(m))

	runFor(t, s, 200*time.Millisecond)

	if sink.Count() != 3 {
		t.Fatalf("wrote %d frames, want 3", sink.Count())
	}
	if got := behind.Load(); got != 3 {
		t.Errorf("OnBehind called %d times, want 3", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var late int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == "voxlink.playback.late" {
				late = met.Data.(metricdata.Sum[int64]).DataPoints[0].Value
			}
		}
	}
	if late != 3 {
		t.Errorf("voxlink.playback.late = %d, want 3", late)
	}
}

func TestScheduler_SinkErrorDoesNotStop(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	src := &sliceSource{frames: [][]byte{make([]byte, frameBytes), make([]byte, frameBytes)}}
	sink := &mock.Sink{WriteErr: errors.New("device gone")}
	s := jitter.NewScheduler(src, sink, jitter.SchedulerConfig{Speed: 4}, jitter.WithMetrics(m))

	runFor(t, s, 60*time.Millisecond)

	if sink.Count() != 2 {
		t.Fatalf("wrote %d frames, want 2", sink.Count())
	}
}

func TestScheduler_DrainsBufferAfterEndOfChunk(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	buf := newBuffer(t, jitter.BufferConfig{})
	buf.PushChunk(ramp(4*frameBytes, 0))
	buf.SetEndOfChunk(true)

	sink := &mock.Sink{}
	s := jitter.NewScheduler(buf, sink, jitter.SchedulerConfig{Speed: 4}, jitter.WithMetrics(m))
	runFor(t, s, 80*time.Millisecond)

	if sink.Count() != 4 {
		t.Fatalf("wrote %d frames, want 4", sink.Count())
	}
	if buf.Len() != 0 {
		t.Errorf("buffer still holds %d frames", buf.Len())
	}
}
