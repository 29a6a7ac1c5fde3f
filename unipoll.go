package unipoll

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jpalmerr/unipoll/internal/controller"
	"github.com/jpalmerr/unipoll/internal/inventory"
	"github.com/jpalmerr/unipoll/internal/metrics"
	"github.com/jpalmerr/unipoll/internal/poller"
	"github.com/jpalmerr/unipoll/internal/server"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultTimeout      = 10 * time.Second
	defaultPort         = 9897
	defaultSite         = "default"
)

// Exporter polls a UniFi controller and serves its inventory as Prometheus
// metrics.
//
// Exporter is created using [New] with functional options and started with
// [Exporter.Start]. The typical lifecycle is:
//
//	exp, err := unipoll.New(
//	    unipoll.WithController("https://unifi.local:8443"),
//	    unipoll.WithCredentials("admin", "secret"),
//	)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("failed to create exporter")
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	exp.Start(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context to
// trigger graceful shutdown.
type Exporter struct {
	controllerURL string
	site          string
	pollInterval  time.Duration
	timeout       time.Duration
	addr          string
	logger        zerolog.Logger

	client   *controller.Client
	sink     *metrics.Sink
	registry *prometheus.Registry
	loop     *poller.Loop
	server   *server.Server

	cycleCallbacks []func(CycleResult)
	started        atomic.Bool
}

// New creates a new [Exporter] with the given options.
//
// A controller URL must be set via [WithController], together with either
// [WithAPIKey] or [WithCredentials]. When both are given the API key wins.
// Other options have sensible defaults:
//   - Site: "default"
//   - Poll interval: 30 seconds
//   - Request timeout: 10 seconds
//   - Port: 9897 on all interfaces
//   - TLS verification: enabled
//
// Returns an error if a required option is missing or any option is invalid.
func New(opts ...Option) (*Exporter, error) {
	cfg := &exporterConfig{
		site:         defaultSite,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
		port:         defaultPort,
		verifyTLS:    true,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.controllerURL == "" {
		return nil, errors.New("controller URL is required")
	}
	if cfg.apiKey == "" && (cfg.username == "" || cfg.password == "") {
		return nil, errors.New("either an API key or both username and password are required")
	}

	logger := log.Logger
	if cfg.logger != nil {
		logger = *cfg.logger
	}

	addr := cfg.listenAddress
	if addr == "" {
		addr = net.JoinHostPort("", strconv.Itoa(cfg.port))
	}

	httpClient := controller.NewHTTPClient(cfg.verifyTLS)

	var session *controller.Session
	if cfg.apiKey != "" {
		session = controller.NewAPIKeySession(cfg.apiKey)
	} else {
		session = controller.NewCookieSession(httpClient, cfg.controllerURL, cfg.username, cfg.password, cfg.timeout)
	}
	client := controller.NewClient(httpClient, cfg.controllerURL, session, cfg.timeout, logger)

	registry := prometheus.NewRegistry()
	sink := metrics.NewSink()
	registry.MustRegister(
		sink,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pollMetrics := metrics.NewPollMetrics(registry)

	e := &Exporter{
		controllerURL:  cfg.controllerURL,
		site:           cfg.site,
		pollInterval:   cfg.pollInterval,
		timeout:        cfg.timeout,
		addr:           addr,
		logger:         logger,
		client:         client,
		sink:           sink,
		registry:       registry,
		cycleCallbacks: cfg.cycleCallbacks,
	}

	fetcher := inventory.NewFetcher(client, cfg.site, logger)
	e.loop = poller.New(fetcher, sink, cfg.pollInterval, logger,
		poller.WithMetrics(pollMetrics),
		poller.WithObserver(e.notify),
	)
	e.server = server.NewServer(registry, addr, logger)

	return e, nil
}

// Start begins polling the controller and serving metrics.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - The HTTP server binds before the first poll, so a port conflict is
//     reported immediately
//   - The controller is polled immediately, then at the configured interval
//   - /metrics serves the last successful snapshot
//
// On cancellation Start stops the ticker, waits for an in-flight cycle to
// finish or time out, and shuts the server down.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start or if Start has already been called.
func (e *Exporter) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("exporter already started")
	}

	e.logger.Info().
		Str("controller", e.controllerURL).
		Str("site", e.site).
		Str("auth_mode", e.client.Mode().String()).
		Msg("unipoll starting")
	e.logger.Info().
		Dur("interval", e.pollInterval).
		Dur("timeout", e.timeout).
		Msg("polling configured")

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	if err := e.server.Start(ctx); err != nil {
		e.client.Close()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	e.loop.Start(ctx)

	<-ctx.Done()
	e.loop.Stop()
	e.client.Close()
	e.logger.Info().Msg("unipoll stopped")
	return nil
}

// Probe runs a single poll cycle synchronously and returns its outcome.
//
// A successful probe also updates the metrics snapshot. Probe is used by
// the CLI's "validate --probe" to check connectivity and credentials.
func (e *Exporter) Probe(ctx context.Context) CycleResult {
	return toPublicResult(e.loop.PollOnce(ctx))
}

// Handler returns the exporter's HTTP handler (/metrics, /health and the
// index page), for mounting into an existing server instead of calling
// [Exporter.Start].
func (e *Exporter) Handler() http.Handler {
	return e.server.Handler()
}

// Registry returns the Prometheus registry holding the inventory collector,
// the exporter's own poll metrics and the Go/process collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Addr returns the address the server is bound to, or "" before Start has
// bound the listener.
func (e *Exporter) Addr() string {
	return e.server.Addr()
}

// ListenAddress returns the configured listen address (host:port).
func (e *Exporter) ListenAddress() string {
	return e.addr
}

// PollInterval returns the configured interval between poll cycles.
func (e *Exporter) PollInterval() time.Duration {
	return e.pollInterval
}

// Site returns the configured controller site.
func (e *Exporter) Site() string {
	return e.site
}

// notify fans a cycle result out to the registered callbacks.
func (e *Exporter) notify(r poller.CycleResult) {
	if len(e.cycleCallbacks) == 0 {
		return
	}
	result := toPublicResult(r)
	for _, cb := range e.cycleCallbacks {
		invokeCallbackSafe(cb, result, e.logger)
	}
}

// invokeCallbackSafe calls a cycle callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(CycleResult), result CycleResult, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("cycle_id", result.ID).
				Msg("cycle callback panicked")
		}
	}()
	cb(result)
}
