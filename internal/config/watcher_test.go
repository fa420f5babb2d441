package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/internal/config"
)

const watcherValidYAML = `
admin:
  log_level: info
vad:
  threshold: 0.02
`

const watcherUpdatedYAML = `
admin:
  log_level: debug
vad:
  threshold: 0.05
`

const watcherInvalidYAML = `
admin:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	// Push the mtime forward so coarse filesystem clocks still see a change.
	future := time.Now().Add(time.Duration(len(content)) * time.Millisecond)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

// startWatcher runs w until the test ends.
func startWatcher(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Admin.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Admin.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	var gotOld, gotNew *config.Config
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, cfgPath, watcherUpdatedYAML)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Admin.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", gotOld.Admin.LogLevel, config.LogInfo)
	}
	if gotNew.Admin.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", gotNew.Admin.LogLevel, config.LogDebug)
	}
	d := config.Diff(gotOld, gotNew)
	if !d.ThresholdChanged || d.NewThreshold != 0.05 {
		t.Errorf("diff threshold = %v/%v, want true/0.05", d.ThresholdChanged, d.NewThreshold)
	}
	if cur := w.Current(); cur.Admin.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Admin.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	calls := 0
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.Admin.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Admin.LogLevel)
	}
}

func TestWatcher_OverlayAppliedAndCanReject(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	reject := errors.New("rejected")
	var mu sync.Mutex
	fail := false
	overlay := func(c *config.Config) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return reject
		}
		c.Server.Token = "from-env"
		return nil
	}

	w, err := config.NewWatcher(cfgPath, nil, config.WithOverlay(overlay), config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := w.Current().Server.Token; got != "from-env" {
		t.Errorf("token = %q, want overlay value", got)
	}

	mu.Lock()
	fail = true
	mu.Unlock()
	startWatcher(t, w)
	writeFile(t, cfgPath, watcherUpdatedYAML)
	time.Sleep(200 * time.Millisecond)

	if got := w.Current().Admin.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want reload rejected by overlay", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	calls := 0
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	startWatcher(t, w)

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(cfgPath, later, later); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}
