// Command tabpulse is the browser activity agent. It attaches to a Chrome
// instance, reports heartbeats and page activity to a configured server,
// and exposes a local control API for login, logout and server switching.
//
// Usage:
//
//	tabpulse -config tabpulse.yaml
//	tabpulse -config tabpulse.yaml -log-level debug
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

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tabpulse/config"
	"github.com/hazyhaar/tabpulse/control"
	"github.com/hazyhaar/tabpulse/identity"
	"github.com/hazyhaar/tabpulse/kvstore"
	"github.com/hazyhaar/tabpulse/notify"
	"github.com/hazyhaar/tabpulse/pulse"
	"github.com/hazyhaar/tabpulse/tabwatch"
)

func main() {
	configPath := flag.String("config", "tabpulse.yaml", "path to tabpulse.yaml config file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("tabpulse: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	kv, err := kvstore.Open(cfg.Store.Path, kvstore.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	ids := identity.New(kv, logger)

	var notifier notify.Notifier
	cmd := notify.NewCommand()
	if cmd.Available() {
		notifier = cmd
	} else {
		logger.Info("tabpulse: desktop notifications unavailable, logging instead")
		notifier = notify.NewLog(logger)
	}

	eng := pulse.New(pulse.Config{
		KV:           kv,
		Identity:     ids,
		Device:       pulse.DeviceInfo{Name: cfg.Device.Name, Type: cfg.Device.Type},
		Server:       pulse.ServerConfig{Name: cfg.Server.Name, URL: cfg.Server.URL},
		CoarsePeriod: cfg.Heartbeat.CoarseInterval,
		FinePeriod:   cfg.Heartbeat.FineInterval,
		Notifier:     notifier,
		Logger:       logger,
	})
	if err := eng.Init(ctx); err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	defer eng.Shutdown()

	watcher := tabwatch.New(tabwatch.Config{
		RemoteURL:       cfg.Browser.Remote,
		Headless:        cfg.Browser.Headless,
		StartURL:        cfg.Browser.StartURL,
		MaxContentChars: cfg.Content.MaxChars,
		Logger:          logger,
	}, eng)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()
	eng.SetTabs(watcher)

	srv := &http.Server{
		Addr:    cfg.Control.Addr,
		Handler: control.New(eng, ids, logger),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("tabpulse: control api listening", "addr", cfg.Control.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Pick up server switches written to the store by other processes.
	go kv.Watch(ctx, kvstore.WatchOptions{
		Interval: 2 * time.Second,
		Debounce: 500 * time.Millisecond,
		Logger:   logger,
	}, func(ctx context.Context) error {
		return applyStoredServer(ctx, kv, eng)
	})

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("control api: %w", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("tabpulse: control api shutdown", "error", err)
	}
	return nil
}

// applyStoredServer re-reads the persisted server config and applies it to
// the engine when it diverges from the live one.
func applyStoredServer(ctx context.Context, kv *kvstore.Store, eng *pulse.Engine) error {
	url, ok, err := kv.Get(ctx, pulse.KeyServerURL)
	if err != nil {
		return fmt.Errorf("read server url: %w", err)
	}
	if !ok || url == "" || url == eng.Reporter().BaseURL() {
		return nil
	}

	name, _, err := kv.Get(ctx, pulse.KeyServerName)
	if err != nil {
		return fmt.Errorf("read server name: %w", err)
	}
	eng.SetServer(pulse.ServerConfig{Name: name, URL: url})
	return nil
}
