// Command talkback-ptt is the push-to-talk desktop client. Hold the primary
// key to record an utterance; hold the modifier as well to have it
// translated to English. Replies are printed and played back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkback/internal/app"
	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/hotkey"
	"github.com/MrWong99/talkback/internal/ptt"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	serverURL := flag.String("server", "", "websocket URL of the server, overrides ptt.server_url")
	device := flag.String("device", "", "evdev keyboard device, overrides ptt.device")
	listKeys := flag.Bool("list-keys", false, "print the key names usable in the hotkey section and exit")
	flag.Parse()

	if *listKeys {
		fmt.Println(strings.Join(hotkey.KnownKeys(), "\n"))
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talkback-ptt: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talkback-ptt: %v\n", err)
		}
		return 1
	}
	if *serverURL != "" {
		cfg.PTT.ServerURL = *serverURL
	}
	if *device != "" {
		cfg.PTT.Device = *device
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: app.SlogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ptt.NewClient(ptt.Config{
		Dialer:          ptt.WSDialer{URL: cfg.PTT.ServerURL, Logger: logger},
		Recorder:        &ptt.ExecRecorder{Command: cfg.PTT.RecordCommand},
		Player:          ptt.ExecPlayer{Command: cfg.PTT.PlayCommand},
		MinRecording:    cfg.PTT.MinRecording.Std(),
		ResponseTimeout: cfg.PTT.ResponseTimeout.Std(),
		Out:             os.Stdout,
		Logger:          logger,
	})
	machine := hotkey.New(
		hotkey.Bindings{
			Primary:  hotkey.Key(cfg.Hotkey.Primary),
			Modifier: hotkey.Key(cfg.Hotkey.ModifierKey()),
		},
		client,
		hotkey.WithHoldThreshold(cfg.Hotkey.HoldThreshold.Std()),
		hotkey.WithClearDelay(cfg.Hotkey.ClearDelay.Std()),
		hotkey.WithLogger(logger),
	)
	client.SetFeedback(machine)

	var keys ptt.KeySource
	if cfg.PTT.Device != "" {
		keys = ptt.EvdevSource{Path: cfg.PTT.Device}
		slog.Info("reading keys from device", "device", cfg.PTT.Device)
	} else {
		keys = ptt.LineSource{
			R: os.Stdin,
			OnError: func(line string, err error) {
				slog.Warn("ignoring key line", "line", line, "err", err)
			},
		}
		slog.Info("reading key events from stdin, e.g. \"down alt_r\" / \"up alt_r\"")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return machine.Run(gctx) })
	g.Go(func() error { return client.Run(gctx) })

	// The stdin source blocks in Read and cannot be interrupted, so it runs
	// outside the group.
	keyErr := make(chan error, 1)
	go func() {
		err := keys.Run(gctx, machine.OnCode)
		if err != nil {
			keyErr <- err
			stop()
		}
	}()

	slog.Info("talkback-ptt ready", "server", cfg.PTT.ServerURL, "primary", cfg.Hotkey.Primary, "modifier", cfg.Hotkey.Modifier)

	err = g.Wait()
	select {
	case kerr := <-keyErr:
		err = errors.Join(err, kerr)
	default:
	}
	if err != nil {
		slog.Error("push-to-talk stopped", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
