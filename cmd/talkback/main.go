// Command talkback is the voice-chat server. Browsers and the talkback-ptt
// client connect to /ws and stream utterances; replies come back as text
// events and synthesized audio.
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

	"github.com/MrWong99/talkback/internal/app"
	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talkback: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talkback: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("talkback starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	printStartupSummary(cfg)

	application, err := app.New(cfg, reg,
		app.WithMetrics(observe.DefaultMetrics(), tel.Handler()),
		app.WithLevelVar(level),
		app.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(application.Run)
	if *watch {
		w, err := config.NewWatcher(*configPath, application.Reload, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return application.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        talkback, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Chat", cfg.Providers.Chat.Name, cfg.Providers.Chat.Model)
	fmt.Printf("║  %-12s    : %-19d ║\n", "Fallbacks", len(cfg.Providers.ChatFallbacks))
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Image", cfg.Providers.Image.Name, cfg.Providers.Image.Model)
	if cfg.Server.StaticDir != "" {
		printProvider("Static dir", cfg.Server.StaticDir, "")
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
