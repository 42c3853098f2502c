package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/logger"
	"catalogsync/internal/worker"
	"catalogsync/internal/worker/processors"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize logger
	logger, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if cfg.KafkaBrokers == "" {
		logger.Fatal("KAFKA_BROKERS is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}
	defer a.Close()

	var syncer processors.ShopifySyncer
	if a.Shopify != nil {
		syncer = a.Shopify
	}
	processor := processors.NewEventProcessor(a.Ingestor, a.Attacher, syncer, cfg.Ingest.SourcePath, logger.Named("processor"))

	// Initialize worker
	w := worker.New(worker.NewReader(cfg), processor, logger)

	logger.Info("starting worker", zap.String("topic", cfg.KafkaCommandsTopic), zap.String("group", cfg.KafkaGroupID))
	if err := w.Start(ctx); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}

	logger.Info("shutting down worker")
	if err := w.Stop(); err != nil {
		logger.Error("failed to close reader", zap.Error(err))
	}
}
