package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jpalmerr/unipoll"
	"github.com/jpalmerr/unipoll/internal/controllertest"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	log.Logger = logger

	// start mock controller (see mock_controller.go)
	go StartMockController("127.0.0.1:9999", 45*time.Second)
	time.Sleep(100 * time.Millisecond)

	exp, err := unipoll.New(
		unipoll.WithController("http://127.0.0.1:9999"),
		unipoll.WithCredentials(controllertest.DefaultUsername, controllertest.DefaultPassword),
		unipoll.WithPollInterval(10*time.Second),
		unipoll.WithPort(9897),
		unipoll.WithLogger(logger),
		unipoll.WithCycleCallback(func(r unipoll.CycleResult) {
			if !r.Success {
				logger.Warn().Str("kind", r.ErrorKind).Err(r.Err).Msg("poll failed")
				return
			}
			logger.Info().
				Int("devices", r.Devices).
				Int("clients", r.Clients).
				Int("sites", r.Sites).
				Dur("took", r.Duration).
				Msg("snapshot updated")
		}),
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create exporter")
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  unipoll demo")
	fmt.Println()
	fmt.Println("  Mock controller: http://127.0.0.1:9999 (sessions expire every 45s)")
	fmt.Println("  Metrics:         http://localhost:9897/metrics")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := exp.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("exporter error")
		os.Exit(1)
	}
}
