package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"cashflowsim/internal/amqp"
	"cashflowsim/internal/config"
	"cashflowsim/internal/log"
	"cashflowsim/internal/storage"
	"cashflowsim/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig()).WithComponent(log.ComponentWorker)
	log.SetDefault(logger)

	logger.Info("Starting cashflowsim-worker", log.FieldOperation, log.OpStartup)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	store, err := storage.NewRunStore(cfg.SQLiteDBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize run store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPJobQueue, cfg.AMQPResultQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	simWorker := worker.NewSimulationWorker(store, amqpClient, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Survives broker restarts: connection-level consume errors trigger a
	// re-dial instead of killing the process.
	g.Go(func() error {
		return amqpClient.ConsumeSimulationJobsWithReconnect(ctx, func(msg *amqp.SimulationJobMessage) error {
			return simWorker.HandleJob(ctx, msg)
		})
	})

	g.Go(func() error {
		simWorker.ReportStats(ctx, cfg.WorkerStatsInterval)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}

	processed, failed := simWorker.Stats()
	logger.Info("Worker stopped gracefully",
		log.FieldOperation, log.OpShutdown,
		"processed", processed,
		"failed", failed)
}
