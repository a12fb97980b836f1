// Package cli provides common initialization for cmd/donations,
// cmd/donations-worker and cmd/donationsctl.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"donations/internal/amqp"
	"donations/internal/backend"
	"donations/internal/config"
	"donations/internal/log"
	"donations/internal/source/sheets"
	"donations/internal/store"
)

// SetupLogger builds the process logger from LOG_LEVEL and makes it the slog
// default. An unknown level falls back to info with a warning.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	lc := log.DefaultConfig()
	lc.Component = component
	level, err := log.ParseLevel(cfg.LogLevel)
	if err == nil {
		lc.Level = level
	}
	logger := log.New(lc)
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", log.FieldError, err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadConfig is LoadAndValidateConfig for binaries: it exits on failure.
func MustLoadConfig() *config.Config {
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// OpenStorage creates the configured local storage backend.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backend.Result, error) {
	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(logger).Create(ctx, bc)
}

// Services bundles what the binaries build from configuration.
type Services struct {
	Storage *backend.Result
	Store   *store.DonationStore
	AMQP    *amqp.Client
}

// Close flushes pending save observations, then releases the AMQP connection
// and the storage backend.
func (s *Services) Close() error {
	if s.Store != nil {
		s.Store.Close()
	}
	if s.AMQP != nil {
		_ = s.AMQP.Close()
	}
	return s.Storage.Close()
}

// NewServices opens storage and builds the donation store. The Sheets source is
// added when a spreadsheet is configured; the AMQP observer when publish is true
// and AMQP_URL is set. A failing optional dependency is logged and left out.
func NewServices(ctx context.Context, cfg *config.Config, logger *log.Logger, publish bool) (*Services, error) {
	storage, err := OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	svc := &Services{Storage: storage}

	sc := store.Config{
		DonationsURL:  cfg.DonationsURL,
		ExpensesURL:   cfg.ExpensesURL,
		RemoteTimeout: cfg.RemoteTimeout,
	}

	if cfg.SheetsEnabled() {
		src, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			OAuthClientJSON: cfg.GoogleOAuthClientJSON,
			OAuthClientFile: cfg.GoogleOAuthClientFile,
			OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
		}, logger)
		if err != nil {
			logger.Warn("Google Sheets source disabled", log.FieldError, err)
		} else {
			sc.Sheets = src
		}
	}

	if publish && cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP observer disabled", log.FieldError, err)
		} else {
			svc.AMQP = client
			sc.Observer = client
		}
	}

	svc.Store = store.New(storage.Storage, sc, logger)
	return svc, nil
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM.
func GracefulShutdown(logger *log.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	return ctx
}
