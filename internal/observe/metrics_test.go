package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point whose attribute key
// equals value, and whether such a point exists.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestSendPathCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameSent(ctx, "self")
	m.RecordFrameSent(ctx, "self")
	m.RecordFrameSent(ctx, "other")
	m.RecordStopSent(ctx, "self")
	m.RecordFrameDropped(ctx, "self", DropMuted)
	m.RecordFrameDropped(ctx, "self", DropMuted)
	m.RecordFrameDropped(ctx, "self", DropMalformed)

	rm := collect(t, reader)

	if got, ok := sumWhere(t, rm, "voxlink.frames.sent", "stream_id", "self"); !ok || got != 2 {
		t.Errorf("frames.sent{self} = %d (found=%v), want 2", got, ok)
	}
	if got, ok := sumWhere(t, rm, "voxlink.stops.sent", "stream_id", "self"); !ok || got != 1 {
		t.Errorf("stops.sent{self} = %d (found=%v), want 1", got, ok)
	}
	if got, ok := sumWhere(t, rm, "voxlink.frames.dropped", "reason", DropMuted); !ok || got != 2 {
		t.Errorf("frames.dropped{muted} = %d (found=%v), want 2", got, ok)
	}
	if got, ok := sumWhere(t, rm, "voxlink.frames.dropped", "reason", DropMalformed); !ok || got != 1 {
		t.Errorf("frames.dropped{malformed} = %d (found=%v), want 1", got, ok)
	}
}

func TestConnectionGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ConnectionOpened(ctx, "sender")
	m.ConnectionOpened(ctx, "sender")
	m.ConnectionClosed(ctx, "sender")
	m.ConnectionOpened(ctx, "playback")
	m.RecordReconnect(ctx, "playback")

	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "voxlink.connections.active", "role", "sender"); got != 1 {
		t.Errorf("connections.active{sender} = %d, want 1", got)
	}
	if got, _ := sumWhere(t, rm, "voxlink.connections.active", "role", "playback"); got != 1 {
		t.Errorf("connections.active{playback} = %d, want 1", got)
	}
	if got, _ := sumWhere(t, rm, "voxlink.reconnects", "role", "playback"); got != 1 {
		t.Errorf("reconnects{playback} = %d, want 1", got)
	}
}

func TestRecordJitterPush(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordJitterPush(ctx, 10, 0)
	m.RecordJitterPush(ctx, 30, 4)

	rm := collect(t, reader)

	depth := findMetric(rm, "voxlink.jitter.depth")
	if depth == nil {
		t.Fatal("depth metric not found")
	}
	hist, ok := depth.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("depth metric is not an int64 histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("depth sample count = %d, want 2", got)
	}

	overflow := findMetric(rm, "voxlink.jitter.overflow")
	if overflow == nil {
		t.Fatal("overflow metric not found")
	}
	sum := overflow.Data.(metricdata.Sum[int64])
	if got := sum.DataPoints[0].Value; got != 4 {
		t.Errorf("overflow = %d, want 4", got)
	}
}

func TestFloatHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxlink.playback.cycle.duration", m.PlaybackCycleDuration},
		{"voxlink.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.002)
		tc.h.Record(ctx, 0.019)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestPlaybackLateCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.PlaybackLate.Add(context.Background(), 3)

	rm := collect(t, reader)
	met := findMetric(rm, "voxlink.playback.late")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sum.DataPoints[0].Value; got != 3 {
		t.Errorf("late = %d, want 3", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
