package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liamcoop/retention/config"
	"github.com/liamcoop/retention/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("RETENTION_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	if err := logger.Setup(ctx, logger.Options{
		Level:       level,
		SampleRate:  cfg.Logging.SampleRate,
		OTEL:        cfg.Logging.OTEL,
		ServiceName: cfg.Logging.ServiceName,
		Output:      os.Stdout,
	}); err != nil {
		logger.Warn(nil, "OTEL log export unavailable, using JSON output", "error", err)
	}
	log := logger.For("server")

	app, err := NewApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create application", "error", err)
	}
	if err := app.Start(ctx); err != nil {
		app.Close()
		logger.Fatal("failed to start background work", "error", err)
	}

	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, config.DefaultDebounce, app.Reload); err != nil {
				logger.Error(log, "configuration watcher stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      NewServer(ctx, app),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", srv.Addr, "backend", app.Backend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(log, "server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(log, "server forced to shutdown", "error", err)
	}
	if err := app.dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn(log, "pending evaluations abandoned", "error", err)
	}
	app.Close()

	log.Info("server exited")
	if err := logger.Shutdown(shutdownCtx); err != nil {
		os.Exit(1)
	}
}
