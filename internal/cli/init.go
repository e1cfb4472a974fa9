// Package cli provides the initialization shared by the skarbnik commands:
// environment, logging, configuration and opening the ledger.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"

	"skarbnik/internal/backend"
	"skarbnik/internal/config"
	"skarbnik/internal/log"
	"skarbnik/internal/services"
)

// LoadEnvFile loads .env files for local use. A missing file is not an
// error.
func LoadEnvFile(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// SetupLogger builds the application logger from the config and makes it
// the slog default.
func SetupLogger(cfg *config.Config, w io.Writer) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentCLI,
		Output:    w,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration from the environment and
// validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Ledger is an opened ledger and the resources behind it.
type Ledger struct {
	*services.LedgerService
	Location string
	cleanup  backend.CleanupFunc
}

// Close releases the backend.
func (l *Ledger) Close() error {
	if l.cleanup == nil {
		return nil
	}
	return l.cleanup()
}

// OpenLedger creates the configured backend and loads the ledger from it.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Ledger, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, err
	}

	svc, err := services.Open(ctx, res.Backend, cfg.StorageKey,
		services.WithLogger(logger),
		services.WithDefaultTheme(cfg.DefaultTheme),
		services.WithStatsCache(cfg.StatsCacheSize, cfg.StatsCacheTTL),
	)
	if err != nil {
		if res.Cleanup != nil {
			_ = res.Cleanup()
		}
		return nil, err
	}
	return &Ledger{LedgerService: svc, Location: res.Location, cleanup: res.Cleanup}, nil
}
