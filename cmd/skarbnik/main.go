package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"skarbnik/internal/cli"
	"skarbnik/internal/log"
)

func main() {
	if err := cli.LoadEnvFile(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, os.Stderr)

	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		usage(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	logger.Debug("Ledger opened", log.FieldBackend, cfg.DataBackend, log.FieldPath, ledger.Location)

	a := &app{
		ledger: ledger.LedgerService,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,

		httpAddr:  cfg.HTTPAddr,
		rateLimit: cfg.RateLimitPerMinute,
	}
	runErr := a.run(ctx, args)

	if err := ledger.Close(); err != nil {
		logger.Error("Failed to close ledger", log.FieldError, err)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "skarbnik:", runErr)
		if errors.Is(runErr, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
