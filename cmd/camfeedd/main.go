package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visiona/camfeed/internal/config"
	"github.com/visiona/camfeed/internal/publish"
	"github.com/visiona/camfeed/internal/supervisor"
)

const defaultConfigPath = "config/camfeed.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting camfeed service",
		"config", *configPath,
		"cameras", len(cfg.Cameras),
		"image_format", cfg.ImageFormat,
		"debug", *debug,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	emitter := publish.NewMQTTEmitter(cfg.MQTT)
	if err := emitter.Connect(ctx); err != nil {
		slog.Error("failed to connect to mqtt broker", "error", err)
		os.Exit(1)
	}
	defer emitter.Disconnect()

	sup, err := supervisor.New(cfg, emitter)
	if err != nil {
		slog.Error("failed to assemble camera pipelines", "error", err)
		os.Exit(1)
	}

	if err := sup.StartHealthServer(cfg.HealthPort); err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- sup.Run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		cancel()

		// Pipelines drain on cancellation; bound the wait
		select {
		case runErr = <-errChan:
		case <-time.After(cfg.ShutdownTimeout()):
			slog.Error("shutdown timed out, exiting anyway",
				"timeout", cfg.ShutdownTimeout())
			os.Exit(1)
		}
	case runErr = <-errChan:
	}

	if runErr != nil {
		slog.Error("service error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("camfeed service stopped")
}
