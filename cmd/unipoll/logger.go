package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/unipoll/config"
)

// newLogger builds the process logger from the configuration and installs it
// as the zerolog global.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).
		Level(cfg.ZerologLevel()).
		With().
		Timestamp().
		Str("service", "unipoll").
		Logger()

	log.Logger = logger
	return logger
}

// loadConfig reads the file named by --config, or the environment alone
// when the flag is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}
