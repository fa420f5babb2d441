// Command voxlink is the voice edge client: it streams microphone audio to
// the speech server and plays back the synthesized responses.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxlink/internal/app"
	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/protocol"
	"github.com/MrWong99/voxlink/internal/stream"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "voxlink.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file overlaid on the configuration")
	probe := flag.Bool("probe", false, "connect once as a playback client, print the first server message and exit")
	probeTimeout := flag.Duration("probe-timeout", 3*time.Second, "how long -probe waits for a server message")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	lookup, err := config.EnvLookup(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxlink: %v\n", err)
		return 1
	}
	cfg, watchPath, err := loadConfig(*configPath, lookup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxlink: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Admin.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *probe {
		return runProbe(ctx, cfg, *probeTimeout)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	hostname, _ := os.Hostname()
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxlink",
		ServiceVersion: version,
		InstanceID:     hostname,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	slog.Info("voxlink starting",
		"version", version,
		"config", watchPath,
		"server", cfg.Server.URL,
		"log_level", cfg.Admin.LogLevel,
	)
	printStartupSummary(cfg)

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{app.WithLevelVar(&level)}
	if watchPath != "" {
		opts = append(opts, app.WithConfigFile(watchPath, config.WithOverlay(func(c *config.Config) error {
			return config.ApplyEnv(c, lookup)
		})))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("client ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, or starts from the defaults when path is the
// default and does not exist, then overlays the environment. It returns the
// path to watch, which is empty when no file was read.
func loadConfig(path string, lookup config.LookupFunc) (*config.Config, string, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath:
		cfg, path = config.Default(), ""
	case errors.Is(err, fs.ErrNotExist):
		return nil, "", fmt.Errorf("config file %q not found", path)
	default:
		return nil, "", err
	}
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// runProbe checks that the server accepts a playback connection.
func runProbe(ctx context.Context, cfg *config.Config, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := stream.Target{
		URL:      stream.URLFor(cfg.Server.URL, cfg.Server.PlaybackStream),
		Token:    cfg.Server.Token,
		StreamID: cfg.Server.PlaybackStream,
	}
	msg, err := stream.Probe(ctx, target, stream.DialOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxlink: probe %s: %v\n", target.URL, err)
		return 1
	}
	if msg == nil {
		fmt.Printf("%s: connected, no message within %v\n", target.URL, timeout)
		return 0
	}
	fmt.Printf("%s: connected, first message type=%s", target.URL, msg.Type)
	if msg.Type == protocol.TypeHello {
		fmt.Printf(" accepted=%v role=%s", msg.Accepted, msg.Role)
	}
	fmt.Println()
	return 0
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxlink: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Server          : %-19s ║\n", cfg.Server.URL)
	fmt.Printf("║  Input           : %-19s ║\n", cfg.Audio.Input)
	fmt.Printf("║  Output          : %-19s ║\n", cfg.Audio.Output)
	fmt.Printf("║  Streams         : %-19d ║\n", len(cfg.Streams))
	fmt.Printf("║  VAD             : %-19s ║\n", fmt.Sprintf("%s @ %.3f", cfg.VAD.Mode, cfg.VAD.Threshold))
	if cfg.Display.LED {
		fmt.Printf("║  Emotion LEDs    : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Emotion LEDs    : %-19s ║\n", "(disabled)")
	}
	if cfg.Journal.PostgresDSN != "" {
		fmt.Printf("║  Journal         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Journal         : %-19s ║\n", "(disabled)")
	}
	if cfg.Admin.ListenAddr != "" {
		fmt.Printf("║  Admin addr      : %-19s ║\n", cfg.Admin.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}
