package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/unipoll"
	"github.com/jpalmerr/unipoll/config"
)

const (
	// shutdownTimeout covers an in-flight poll (bounded by http_timeout) plus
	// the server's own drain.
	shutdownTimeout = 30 * time.Second
)

// serveCmd starts the exporter.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the exporter",
	Long: `Start the unipoll exporter.

The exporter will:
  - Load configuration from the YAML file and/or environment variables
  - Poll the controller immediately, then every poll_interval
  - Serve /metrics and /health on the configured port

The exporter runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  unipoll serve -c unipoll.yaml
  UNIFI_CONTROLLER_URL=https://192.168.1.1 UNIFI_API_KEY=... unipoll serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg, os.Stderr)
	logger.Info().
		Str("version", version).
		Str("auth_mode", cfg.AuthMode()).
		Bool("verify_ssl", cfg.VerifySSL).
		Msg("config loaded")
	if !cfg.VerifySSL {
		logger.Warn().Msg("TLS certificate verification is disabled")
	}

	exp, err := unipoll.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start exporter - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- exp.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info().Msg("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info().Msg("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn().
				Dur("timeout", shutdownTimeout).
				Str("action", "forcing exit").
				Msg("shutdown timed out")
			return nil
		}
	}
}
