package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"donations/internal/admin"
	"donations/internal/cli"
	"donations/internal/config"
	apphttp "donations/internal/http"
	"donations/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	// run returns before exiting so its deferred closes release storage and
	// flush pending save observations.
	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port, "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	svc, err := cli.NewServices(startCtx, cfg, logger, true)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer svc.Close()

	logger.Info("Loading dataset", "sources", svc.Store.Sources())
	snap := svc.Store.LoadAll(startCtx)
	cancelStart()

	srv := apphttp.NewServer(apphttp.Options{
		Addr:     ":" + cfg.Port,
		Dataset:  snap.Dataset,
		Expenses: snap.Expenses,
		Source:   snap.Source,

		RequestsPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:    cfg.TrustedProxies,
	}, svc.Store, admin.NewGate(svc.Storage.Storage, cfg.AdminPassword), logger)

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx := cli.GracefulShutdown(logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting donations server",
			"port", cfg.Port,
			"backend", cfg.StorageBackend,
			log.FieldSource, snap.Source,
			log.FieldDonations, snap.Dataset.Count())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
