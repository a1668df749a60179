// Command reserva runs the dining-concierge voice agent: an HTTP API
// for tokens and calendar checks, plus a live voice session against the
// bidirectional generate-content endpoint when audio devices are
// available.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Damitimo/Google-Reserva/internal/api"
	"github.com/Damitimo/Google-Reserva/internal/booking"
	"github.com/Damitimo/Google-Reserva/internal/config"
	"github.com/Damitimo/Google-Reserva/internal/health"
	"github.com/Damitimo/Google-Reserva/internal/observe"
	"github.com/Damitimo/Google-Reserva/internal/tools"
	"github.com/Damitimo/Google-Reserva/internal/voice"
	"github.com/Damitimo/Google-Reserva/pkg/audio"
	"github.com/Damitimo/Google-Reserva/pkg/audio/capture"
	"github.com/Damitimo/Google-Reserva/pkg/audio/device"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	apiOnly := flag.Bool("api-only", false, "serve the HTTP API without starting a voice session")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reserva: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reserva: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("reserva starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "reserva",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload (log level only) ────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "log_level", diff.NewLogLevel)
		}
		if diff.AudioChanged {
			slog.Info("audio tuning changed, applies to the next session")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Booking store ─────────────────────────────────────────────────────────
	var store booking.Store
	if dsn := cfg.Booking.PostgresDSN; dsn != "" {
		pg, err := booking.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open booking store", "err", err)
			return 1
		}
		store = pg
		slog.Info("booking store ready", "backend", "postgres")
	} else {
		mem := booking.NewMemoryStore()
		mem.SeedDemoEvents(time.Now())
		store = mem
		slog.Info("booking store ready", "backend", "memory")
	}
	defer store.Close()

	// ── Tools ─────────────────────────────────────────────────────────────────
	registry := tools.NewRegistry(logger)
	concierge := tools.NewConcierge(store,
		tools.WithConciergeLogger(logger),
		tools.WithHours(cfg.Booking.OpenHour, cfg.Booking.CloseHour),
		tools.WithSlotDuration(cfg.Booking.SlotDuration.Std()),
	)
	concierge.RegisterAll(registry)

	// ── HTTP API ──────────────────────────────────────────────────────────────
	bookingCheck := health.NamedCheck("booking", func(ctx context.Context) error {
		now := time.Now()
		_, err := store.Events(ctx, now, now)
		return err
	})
	server := api.New(*cfg, store, logger, bookingCheck)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})

	// ── Voice session ─────────────────────────────────────────────────────────
	if !*apiOnly {
		g.Go(func() error {
			return runVoice(ctx, *cfg, registry, logger)
		})
	}

	slog.Info("reserva ready, press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runVoice brings up the audio pipeline and holds the session open until
// ctx is cancelled. A build without audio device support degrades to
// API-only operation instead of failing.
func runVoice(ctx context.Context, cfg config.Config, registry *tools.Registry, logger *slog.Logger) error {
	frameSize := cfg.Audio.InputFrameSize
	if frameSize <= 0 {
		frameSize = capture.DefaultFrameSize
	}

	in, err := device.NewInput(audio.InputSampleRate, frameSize)
	if err != nil {
		if errors.Is(err, device.ErrUnavailable) {
			slog.Warn("audio devices unavailable, running API only", "err", err)
			return nil
		}
		return fmt.Errorf("open capture device: %w", err)
	}
	out, err := device.NewOutput(audio.OutputSampleRate)
	if err != nil {
		_ = in.Stop()
		return fmt.Errorf("open playback device: %w", err)
	}

	var tokens voice.TokenSource = voice.StaticTokenSource(cfg.Live.APIKey)
	if cfg.Live.APIKey == "" && cfg.Live.TokenURL != "" {
		tokens = &voice.HTTPTokenSource{URL: cfg.Live.TokenURL}
	}

	session := voice.NewSession(cfg, voice.NewManager(logger), tokens, registry, in, out,
		voice.WithLogger(logger),
		voice.WithStateFunc(func(st voice.State) {
			slog.Info("voice state", "state", st)
		}),
	)

	reconnector := voice.NewReconnector(session, voice.ReconnectorConfig{Logger: logger})
	if err := reconnector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("voice session: %w", err)
	}
	return nil
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
