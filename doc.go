// Package unipoll exports the inventory of a UniFi Network controller as
// Prometheus metrics.
//
// An [Exporter] polls the controller on a fixed interval, normalizes its
// devices, clients and sites into a snapshot, and serves the most recent
// successful snapshot at /metrics. Scrapes never trigger a poll and never
// wait for one.
//
// # Quick Start
//
//	exp, err := unipoll.New(
//	    unipoll.WithController("https://192.168.1.1"),
//	    unipoll.WithAPIKey(os.Getenv("UNIFI_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("invalid configuration")
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	exp.Start(ctx) // blocks until the context is cancelled
//
// # Authentication
//
// Two modes are supported and fixed at construction:
//
//   - API key ([WithAPIKey]): sent as X-API-KEY on every request. A 401 is
//     reported immediately, since there is nothing to refresh.
//   - Username and password ([WithCredentials]): the exporter logs in via
//     POST /api/login and keeps the session cookie. On 401 it logs in again
//     once and retries the request once; a second 401 fails the cycle.
//
// # Failure Handling
//
// A cycle either replaces the whole snapshot or leaves the previous one in
// place. Controller errors, timeouts and malformed envelopes fail only the
// current cycle; the next tick tries again. Individual malformed records
// are skipped and counted in unifi_records_skipped.
//
// # Architecture
//
// The exporter consists of several internal packages (under internal/):
//
//   - internal/controller: authenticated HTTP client and session state
//   - internal/inventory: fetches and normalizes devices, clients and sites
//   - internal/metrics: snapshot sink exposed as a Prometheus collector
//   - internal/poller: non-overlapping poll loop
//   - internal/server: /metrics, /health and index routes
//
// The internal packages are not part of the public API and may change
// without notice.
package unipoll
