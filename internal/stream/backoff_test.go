package stream

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	var b Backoff
	tests := []struct {
		k    int
		want time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 850 * time.Millisecond},
		{2, 1445 * time.Millisecond},
		{3, 2456500 * time.Microsecond},
		{6, 10 * time.Second},
		{50, 10 * time.Second},
		{-1, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.k); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.k, got, tt.want)
		}
	}
}

func TestBackoff_NextGrowsAndResets(t *testing.T) {
	t.Parallel()

	b := Backoff{Floor: 100 * time.Millisecond, Factor: 2, Cap: time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}

	b.Reset()
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want floor", got)
	}
}

func TestBackoff_CapHoldsForever(t *testing.T) {
	t.Parallel()

	var b Backoff
	for range 10_000 {
		b.Next()
	}
	if got := b.Next(); got != DefaultBackoffCap {
		t.Fatalf("Next() = %v, want cap", got)
	}
	if b.failures > 10 {
		t.Errorf("failure count kept growing past the cap: %d", b.failures)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if sleep(ctx, time.Hour) {
		t.Fatal("sleep reported full delay on cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep did not return promptly")
	}
	if !sleep(context.Background(), time.Millisecond) {
		t.Fatal("short sleep reported cancellation")
	}
}

func TestURLFor(t *testing.T) {
	t.Parallel()

	tests := []struct{ base, id, want string }{
		{"ws://127.0.0.1:8000", "self", "ws://127.0.0.1:8000/ws/self"},
		{"ws://host:8000/", "other", "ws://host:8000/ws/other"},
	}
	for _, tt := range tests {
		if got := URLFor(tt.base, tt.id); got != tt.want {
			t.Errorf("URLFor(%q, %q) = %q, want %q", tt.base, tt.id, got, tt.want)
		}
	}
}
