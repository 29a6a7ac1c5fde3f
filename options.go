package unipoll

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// exporterConfig holds mutable state during Exporter construction.
type exporterConfig struct {
	controllerURL  string
	site           string
	apiKey         string
	username       string
	password       string
	pollInterval   time.Duration
	timeout        time.Duration
	verifyTLS      bool
	port           int
	listenAddress  string
	logger         *zerolog.Logger
	cycleCallbacks []func(CycleResult)
}

// Option is a function that configures an [Exporter] during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*exporterConfig) error

// WithController sets the base URL of the UniFi controller.
//
// The URL must use http or https and name a host. A trailing slash is
// trimmed. UniFi OS consoles (UDM, Cloud Key Gen2+) are reached on port 443;
// legacy controllers usually listen on 8443.
//
// Example:
//
//	exp, err := unipoll.New(
//	    unipoll.WithController("https://192.168.1.1"),
//	    unipoll.WithAPIKey(key),
//	)
func WithController(rawURL string) Option {
	return func(cfg *exporterConfig) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("invalid controller URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("controller URL must use http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return errors.New("controller URL must include a host")
		}
		cfg.controllerURL = strings.TrimRight(rawURL, "/")
		return nil
	}
}

// WithSite sets the controller site to poll. Defaults to "default".
func WithSite(site string) Option {
	return func(cfg *exporterConfig) error {
		if site == "" {
			return errors.New("site cannot be empty")
		}
		cfg.site = site
		return nil
	}
}

// WithAPIKey authenticates with a static API key sent as X-API-KEY.
//
// API-key mode targets UniFi OS consoles: requests go through the
// /proxy/network prefix and are never retried on 401, since the key cannot
// be refreshed. Takes precedence over [WithCredentials].
func WithAPIKey(key string) Option {
	return func(cfg *exporterConfig) error {
		if key == "" {
			return errors.New("API key cannot be empty")
		}
		cfg.apiKey = key
		return nil
	}
}

// WithCredentials authenticates with a username and password.
//
// The exporter logs in on the first request and re-authenticates once when
// the controller answers 401, then retries the request once.
func WithCredentials(username, password string) Option {
	return func(cfg *exporterConfig) error {
		if username == "" || password == "" {
			return errors.New("username and password cannot be empty")
		}
		cfg.username = username
		cfg.password = password
		return nil
	}
}

// WithPollInterval sets how often the controller is polled.
//
// A tick that fires while the previous cycle is still running is skipped.
// Defaults to 30 seconds if not specified.
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *exporterConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithTimeout bounds every controller request, login included.
// Defaults to 10 seconds if not specified.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *exporterConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithVerifyTLS controls verification of the controller's TLS certificate.
//
// Controllers commonly ship self-signed certificates; disable verification
// only on networks you trust. Defaults to true.
func WithVerifyTLS(verify bool) Option {
	return func(cfg *exporterConfig) error {
		cfg.verifyTLS = verify
		return nil
	}
}

// WithPort sets the metrics server port on all interfaces.
// Defaults to 9897 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *exporterConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithListenAddress sets the full host:port the metrics server binds to,
// overriding [WithPort]. Port 0 picks a free port; see [Exporter.Addr].
//
// Example:
//
//	exp, err := unipoll.New(
//	    unipoll.WithController(url),
//	    unipoll.WithAPIKey(key),
//	    unipoll.WithListenAddress("127.0.0.1:9897"),
//	)
func WithListenAddress(addr string) Option {
	return func(cfg *exporterConfig) error {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid listen address: %w", err)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("invalid listen port %q", port)
		}
		cfg.listenAddress = addr
		return nil
	}
}

// WithLogger sets the [zerolog.Logger] used by the exporter and its
// components. If not specified, the global logger from
// github.com/rs/zerolog/log is used.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	exp, err := unipoll.New(
//	    unipoll.WithController(url),
//	    unipoll.WithAPIKey(key),
//	    unipoll.WithLogger(logger),
//	)
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *exporterConfig) error {
		cfg.logger = &logger
		return nil
	}
}

// WithCycleCallback registers a function to be called after every poll
// cycle with its [CycleResult].
//
// Multiple callbacks may be registered by calling WithCycleCallback multiple
// times; they execute in registration order.
//
// Callbacks run synchronously on the polling goroutine, so the next tick
// is skipped while a callback blocks. Long-running work should be handed to
// a separate goroutine. Panics within callbacks are recovered and logged.
//
// Example:
//
//	exp, err := unipoll.New(
//	    unipoll.WithController(url),
//	    unipoll.WithAPIKey(key),
//	    unipoll.WithCycleCallback(func(r unipoll.CycleResult) {
//	        if r.ErrorKind == unipoll.ErrorKindAuth {
//	            alert("UniFi credentials rejected")
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithCycleCallback(cb func(CycleResult)) Option {
	return func(cfg *exporterConfig) error {
		if cb == nil {
			return nil
		}
		cfg.cycleCallbacks = append(cfg.cycleCallbacks, cb)
		return nil
	}
}
