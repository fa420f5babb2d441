package audio_test

import (
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

func TestToneSource_OneCycle(t *testing.T) {
	t.Parallel()

	src := audio.NewToneSource(440,
		audio.WithRepeat(false),
		audio.WithPacing(false),
	)
	frames, err := audio.ReadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	// 1 s of beep + 400 ms of silence at 20 ms per frame.
	if len(frames) != 70 {
		t.Fatalf("got %d frames, want 70", len(frames))
	}
	for i, f := range frames {
		if len(f.Data) != audio.FrameBytes {
			t.Fatalf("frame %d length = %d, want %d", i, len(f.Data), audio.FrameBytes)
		}
		if f.Timestamp != time.Duration(i)*audio.FrameDuration {
			t.Errorf("frame %d timestamp = %v", i, f.Timestamp)
		}
	}

	peak := int16(0)
	for _, s := range audio.Samples(frames[10].Data) {
		peak = max(peak, s)
	}
	// Amplitude 0.6 of full scale.
	if peak < 19000 || peak > 19700 {
		t.Errorf("beep peak = %d, want about 19660", peak)
	}
	for _, s := range audio.Samples(frames[60].Data) {
		if s != 0 {
			t.Fatal("silence frame contains non-zero samples")
		}
	}
}

func TestToneSource_RepeatsForever(t *testing.T) {
	t.Parallel()

	src := audio.NewToneSource(660,
		audio.WithPacing(false),
		audio.WithToneDurations(40*time.Millisecond, 20*time.Millisecond),
	)
	for i := range 10 {
		if _, err := src.ReadFrame(context.Background()); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
}

func TestToneSource_PacedHonoursContext(t *testing.T) {
	t.Parallel()

	src := audio.NewToneSource(440)
	ctx, cancel := context.WithCancel(context.Background())

	// The first frame is due immediately; the second one 20 ms later.
	if _, err := src.ReadFrame(ctx); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	cancel()
	if _, err := src.ReadFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCallbackSource_DropsWhenFull(t *testing.T) {
	t.Parallel()

	var hooked int
	src := audio.NewCallbackSource(audio.Wire, 3, audio.WithDropHook(func() { hooked++ }))

	for i := range 5 {
		frame := make([]byte, audio.FrameBytes)
		frame[0] = byte(i + 1)
		src.Push(frame)
	}

	if got := src.Len(); got != 3 {
		t.Fatalf("queued = %d, want 3", got)
	}
	if got := src.Dropped(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
	if hooked != 2 {
		t.Errorf("drop hook called %d times, want 2", hooked)
	}

	// The oldest frames survive; the newest were discarded.
	for want := byte(1); want <= 3; want++ {
		f, err := src.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if f.Data[0] != want {
			t.Errorf("frame marker = %d, want %d", f.Data[0], want)
		}
	}
}

func TestCallbackSource_CloseDrainsThenEOF(t *testing.T) {
	t.Parallel()

	src := audio.NewCallbackSource(audio.Wire, 0)
	src.Push(make([]byte, 2*audio.FrameBytes))
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	src.Push(make([]byte, audio.FrameBytes)) // ignored after close

	frames, err := audio.ReadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if _, err := src.ReadFrame(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestCallbackSource_ConcurrentPush(t *testing.T) {
	t.Parallel()

	src := audio.NewCallbackSource(audio.Wire, 1000)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				src.Push(make([]byte, audio.FrameBytes))
			}
		}()
	}
	wg.Wait()
	if got := src.Len(); got != 100 {
		t.Fatalf("queued = %d, want 100", got)
	}
}

func TestCallbackSource_ReadBlocksUntilContextDone(t *testing.T) {
	t.Parallel()

	src := audio.NewCallbackSource(audio.Wire, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := src.ReadFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := audio.CreateWAV(path)
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}

	want := make([]int16, 0, 3*audio.SamplesPerFrame)
	for i := range 3 * audio.SamplesPerFrame {
		want = append(want, int16((i%200)*100-10000))
	}
	pcm := audio.PCM(want)
	for i := 0; i < len(pcm); i += audio.FrameBytes {
		if err := sink.WriteFrame(context.Background(), audio.NewFrame(pcm[i:i+audio.FrameBytes], 0)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	src, err := audio.OpenWAV(path, false)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()

	frames, err := audio.ReadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	var got []int16
	for _, f := range frames {
		got = append(got, audio.Samples(f.Data)...)
	}
	for i := range want {
		if d := int(got[i]) - int(want[i]); d < -2 || d > 2 {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestWAV_FullScaleSurvives(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "loud.wav")
	sink, err := audio.CreateWAV(path)
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}
	samples := make([]int16, audio.SamplesPerFrame)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = math.MaxInt16
		} else {
			samples[i] = math.MinInt16
		}
	}
	if err := sink.WriteFrame(context.Background(), audio.NewFrame(audio.PCM(samples), 0)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	src, err := audio.OpenWAV(path, false)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()
	f, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	got := audio.Samples(f.Data)
	if got[0] != math.MaxInt16 || got[1] != math.MinInt16 {
		t.Errorf("full-scale samples decoded as %d, %d", got[0], got[1])
	}
}

func TestWAVSink_WriteAfterClose(t *testing.T) {
	t.Parallel()

	sink, err := audio.CreateWAV(filepath.Join(t.TempDir(), "x.wav"))
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}
	_ = sink.Close()
	if err := sink.WriteFrame(context.Background(), audio.NewFrame(make([]byte, audio.FrameBytes), 0)); err == nil {
		t.Fatal("expected error writing to closed sink")
	}
}

func TestNullSink_Counts(t *testing.T) {
	t.Parallel()

	var s audio.NullSink
	for range 4 {
		_ = s.WriteFrame(context.Background(), audio.AudioFrame{})
	}
	if got := s.Frames(); got != 4 {
		t.Fatalf("Frames() = %d, want 4", got)
	}
}
