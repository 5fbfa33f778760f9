/**
 * ReportScan Worker - Main Entry Point
 *
 * Consumes extract-parameters jobs, reads medical report images and
 * extracts the clinical parameters a heart disease classifier needs.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue
 * - Normalize -> multi-profile OCR -> pattern extraction -> range validation
 * - PostgreSQL persistence for outcomes, Qdrant index of feature vectors
 * - Job status mirrored into Redis for API consumers
 * - Status HTTP server for health, readiness, job and result lookup
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus/reportscan-worker/internal/config"
	"github.com/adverant/nexus/reportscan-worker/internal/logging"
	"github.com/adverant/nexus/reportscan-worker/internal/processor"
	"github.com/adverant/nexus/reportscan-worker/internal/queue"
	"github.com/adverant/nexus/reportscan-worker/internal/server"
	"github.com/adverant/nexus/reportscan-worker/internal/storage"
)

func main() {
	cfg, envLoaded, err := config.Load()
	logger := logging.NewLogger("Main")
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Configure(cfg.LogLevel, cfg.LogFormat)
	logger = logging.NewLogger("Main")
	if !envLoaded {
		logger.Warn(config.EnvFile + " not found, using system environment variables")
	}

	logger.Info("ReportScan worker starting",
		"queue", cfg.QueueName,
		"engine", cfg.OCREngine,
		"workers", cfg.WorkerConcurrency,
		"minParameters", cfg.MinParameters)

	engine, err := processor.NewEngine(cfg.OCREngine, cfg.TesseractLanguage, cfg.VisionOCRURL)
	if err != nil {
		logger.Error("Failed to create recognition engine", "error", err)
		os.Exit(1)
	}

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 10*time.Second)
	if !engine.IsAvailable(checkCtx) {
		// Jobs fail with ENGINE_UNAVAILABLE and are retried until it comes up.
		logger.Warn("Recognition engine is not available yet", "engine", engine.Name())
	}
	cancelCheck()

	var pipelineOpts []processor.PipelineOption
	if cfg.RangesFile != "" {
		ranges, err := processor.LoadRanges(cfg.RangesFile)
		if err != nil {
			logger.Error("Failed to load normal ranges", "file", cfg.RangesFile, "error", err)
			os.Exit(1)
		}
		pipelineOpts = append(pipelineOpts, processor.WithRanges(ranges))
		logger.Info("Normal ranges loaded", "file", cfg.RangesFile)
	}

	procCfg := &processor.ProcessorConfig{
		Pipeline:      processor.NewPipeline(engine, pipelineOpts...),
		MaxFileSize:   cfg.MaxFileSize,
		MinParameters: cfg.MinParameters,
	}

	var storageManager *storage.StorageManager
	if cfg.DatabaseURL != "" {
		storageManager, err = storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
		if err != nil {
			logger.Error("Failed to initialize storage manager", "error", err)
			os.Exit(1)
		}
		procCfg.Storage = storageManager
	} else {
		logger.Warn("DATABASE_URL not set, outcomes will only be published to Redis")
	}

	proc, err := processor.NewReportProcessor(procCfg)
	if err != nil {
		logger.Error("Failed to initialize report processor", "error", err)
		os.Exit(1)
	}

	publisher, err := queue.NewResultPublisher(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		logger.Error("Failed to initialize result publisher", "error", err)
		os.Exit(1)
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		Publisher:         publisher,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	var status *server.Server
	if cfg.StatusPort > 0 {
		checks := []server.Check{{
			Name: "engine",
			Run: func(ctx context.Context) error {
				if !engine.IsAvailable(ctx) {
					return fmt.Errorf("%s engine is not available", engine.Name())
				}
				return nil
			},
		}}
		statusCfg := &server.Config{
			Port:    cfg.StatusPort,
			Results: publisher,
			Stats:   consumer.GetStatistics,
		}
		if storageManager != nil {
			checks = append(checks, server.Check{Name: "database", Run: storageManager.Ping})
			statusCfg.Jobs = storageManager
			statusCfg.Database = storageManager.DBStats
		}
		statusCfg.Checks = checks
		status = server.New(statusCfg)
		status.Start()
	}

	logger.Info("Waiting for jobs", "stats", consumer.GetStatistics())

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if status != nil {
		if err := status.Stop(shutdownCtx); err != nil {
			logger.Warn("Error stopping status server", "error", err)
		}
	}
	if err := consumer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("Error closing result publisher", "error", err)
	}
	if storageManager != nil {
		if err := storageManager.Close(); err != nil {
			logger.Warn("Error closing storage manager", "error", err)
		}
	}

	logger.Info("Shutdown complete")
}
