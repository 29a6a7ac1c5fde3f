package config

import (
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/jpalmerr/unipoll"
)

// BuildOptions converts a validated configuration into SDK options.
//
// The logger is passed through so the binary and the SDK share one output.
// An API key, when present, selects API-key authentication; otherwise the
// username and password are used.
func BuildOptions(cfg *Config, logger zerolog.Logger) []unipoll.Option {
	opts := []unipoll.Option{
		unipoll.WithController(cfg.ControllerURL),
		unipoll.WithSite(cfg.Site),
		unipoll.WithPollInterval(cfg.PollInterval.Duration()),
		unipoll.WithTimeout(cfg.HTTPTimeout.Duration()),
		unipoll.WithVerifyTLS(cfg.VerifySSL),
		unipoll.WithLogger(logger),
	}

	if cfg.APIKey != "" {
		opts = append(opts, unipoll.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, unipoll.WithCredentials(cfg.Username, cfg.Password))
	}

	if cfg.ListenAddress != "" {
		opts = append(opts, unipoll.WithListenAddress(net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.Port))))
	} else {
		opts = append(opts, unipoll.WithPort(cfg.Port))
	}

	return opts
}

// AuthMode describes which credentials the configuration selects,
// for display without revealing them.
func (c *Config) AuthMode() string {
	if c.APIKey != "" {
		return "api-key"
	}
	return "session"
}

// ZerologLevel returns the configured log level. Unknown values fall back
// to info.
func (c *Config) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
