package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"donations/internal/amqp"
	"donations/internal/cli"
	"donations/internal/config"
	"donations/internal/log"
	"donations/internal/worker"
)

const statsInterval = 10 * time.Minute

var errNoBroker = errors.New("AMQP_URL is required for the worker")

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting donations-worker")
	if err := run(cfg, logger); err != nil {
		logger.Error("Worker failed", log.FieldError, err, "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

// run owns the storage and broker connections; both are closed when it returns.
func run(cfg *config.Config, logger *log.Logger) error {
	if cfg.AMQPURL == "" {
		return errNoBroker
	}

	storage, err := cli.OpenStorage(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer client.Close()

	saveWorker := worker.NewSaveWorker(storage.Storage, logger)

	ctx := cli.GracefulShutdown(logger)

	if err := saveWorker.StartupCheck(ctx); err != nil {
		// Not fatal: the consumer retries reads per message.
		logger.Error("Startup storage check failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.ConsumeWithReconnect(gctx, saveWorker.HandleSaveMessage)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				saveWorker.LogStats(context.Background())
				return nil
			case <-ticker.C:
				saveWorker.LogStats(gctx)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("message consumption: %w", err)
	}
	return nil
}
