package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "wisefido-vitals/common/logger"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-vitals")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wisefido-vitals service",
		zap.String("version", "1.0.0"),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Bool("serial", cfg.Enabled.Serial),
		zap.Bool("gpio", cfg.Enabled.GPIO),
		zap.Bool("mqtt", cfg.Enabled.MQTT),
		zap.Duration("recovery_window", cfg.Alert.RecoveryWindow),
	)

	vitalsService, err := service.NewVitalsService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create vitals service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := vitalsService.Start(ctx); err != nil {
		logger.Fatal("Failed to start vitals service", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// components stop in order before the root context is cancelled
	if err := vitalsService.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("Service stopped")
}
