// Command voxmock runs the mock speech server used to develop and test
// voxlink without a real recognition and synthesis backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/relay"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	_ = godotenv.Load()
	addr := flag.String("addr", ":8000", "listen address")
	token := flag.String("token", os.Getenv("SERVER_AUTH_TOKEN"), "expected bearer token (empty accepts any)")
	text := flag.String("text", relay.DefaultResponseText, "transcript sent with every response")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	lvl := slog.LevelInfo
	if *debug {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	// ── Relay ─────────────────────────────────────────────────────────────────
	rs := relay.New(relay.Config{Token: *token, ResponseText: *text})
	srv := &http.Server{
		Addr:              *addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(rs.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("voxmock listening", "addr", *addr, "auth", *token != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "voxmock: %v\n", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = rs.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
