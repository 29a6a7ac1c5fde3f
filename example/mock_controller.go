package main

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jpalmerr/unipoll/internal/controllertest"
)

// StartMockController serves a fake UniFi controller with the sample
// inventory on addr. Sessions are expired every sessionTTL so the exporter's
// re-authentication path shows up in the logs.
// Call this in a goroutine before creating the exporter.
func StartMockController(addr string, sessionTTL time.Duration) {
	fake := controllertest.NewSample()

	go func() {
		ticker := time.NewTicker(sessionTTL)
		defer ticker.Stop()
		for range ticker.C {
			fake.ExpireSessions()
			log.Info().Int("logins", fake.Logins()).Msg("mock controller expired sessions")
		}
	}()

	if err := http.ListenAndServe(addr, fake.Handler()); err != nil {
		log.Error().Err(err).Msg("mock controller stopped")
	}
}
