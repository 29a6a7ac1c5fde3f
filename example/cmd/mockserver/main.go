// Standalone mock UniFi controller for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/unipoll serve -c example/unipoll.yaml
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/jpalmerr/unipoll/internal/controllertest"
)

func main() {
	addr := pflag.String("addr", ":9999", "listen address")
	ttl := pflag.Duration("session-ttl", time.Minute, "how often sessions are expired")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	fmt.Printf("Mock UniFi controller starting on %s\n", *addr)
	fmt.Printf("Login: %s / %s, API key: %s\n",
		controllertest.DefaultUsername, controllertest.DefaultPassword, controllertest.DefaultAPIKey)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	fake := controllertest.NewSample()

	go func() {
		for range time.Tick(*ttl) {
			fake.ExpireSessions()
			logger.Info().Int("logins", fake.Logins()).Msg("sessions expired")
		}
	}()

	if err := http.ListenAndServe(*addr, fake.Handler()); err != nil {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}
