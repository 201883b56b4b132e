package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reconf/internal/api"
	"reconf/internal/config"
	"reconf/internal/event"
	"reconf/internal/logging"
	"reconf/internal/metrics"
	"reconf/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   string
		listenAddr   string
		debounce     time.Duration
		logLevelName string
		authToken    string
		maxSnapshots int
		watchEnabled bool
		overrides    overrideList
	)

	flags := flag.NewFlagSet("reconfd", flag.ExitOnError)
	flags.StringVar(&configPath, "config", "", "path to the configuration document (required)")
	flags.StringVar(&listenAddr, "listen", "127.0.0.1:8844", "address for the HTTP surface")
	flags.DurationVar(&debounce, "debounce", 100*time.Millisecond, "quiet period before a file change event is dispatched")
	flags.StringVar(&logLevelName, "log-level", "info", "minimum log level (debug, info, warning, error)")
	flags.StringVar(&authToken, "token", os.Getenv("RECONF_TOKEN"), "bearer token for the HTTP surface (empty disables auth)")
	flags.IntVar(&maxSnapshots, "max-snapshots", config.DefaultMaxSnapshots, "rollback history depth")
	flags.BoolVar(&watchEnabled, "watch", true, "watch the configuration file for changes")
	flags.Var(&overrides, "override", "dot-path override as key=value (repeatable)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if configPath == "" {
		return errors.New("--config is required")
	}

	logLevel, ok := logging.ParseLevel(logLevelName)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevelName)
	}
	logger := logging.NewLogger(logging.NewBuffer(logging.DefaultBufferSize), logLevel)

	overrideValues, err := collectOverrides(overrides, os.Getenv("RECONF_OVERRIDES"))
	if err != nil {
		return err
	}

	bus := event.NewBus(event.BusOptions{
		Name:   "config_events",
		Logger: logger,
	})

	manager, err := config.NewManager(configPath, config.ManagerOptions{
		Bus:          bus,
		Logger:       logger,
		MaxSnapshots: maxSnapshots,
	})
	if err != nil {
		return err
	}
	defer manager.Dispose()

	if len(overrideValues) > 0 {
		manager.SetOverrides(overrideValues)
	}

	var watch *watcher.Watcher
	if watchEnabled {
		watch, err = watcher.NewWithOptions(watcher.Options{
			Logger:   logger,
			Bus:      bus,
			Debounce: debounce,
		})
		if err != nil {
			return err
		}
		defer watch.Close()
		if err := watch.Add(manager.Path()); err != nil {
			return err
		}
		watch.Start()
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, &api.Handlers{
		Manager:   manager,
		Watcher:   watch,
		Bus:       bus,
		Logger:    logger,
		Registry:  metrics.Default,
		AuthToken: authToken,
	})

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("shutdown signal received", map[string]string{
			"signal": sig.String(),
		})
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("reconfd listening", map[string]string{
			"addr":   server.Addr,
			"config": manager.Path(),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", map[string]string{
			"error": err.Error(),
		})
	}
	if watch != nil {
		watch.Stop()
	}
	return nil
}
