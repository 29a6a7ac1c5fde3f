// Package config provides configuration loading for the unipoll binary.
//
// Configuration comes from an optional YAML file and from environment
// variables, which take precedence over the file. This enables running
// unipoll as a standalone exporter, as an alternative to the programmatic
// SDK approach.
//
// Example configuration:
//
//	controller_url: https://192.168.1.1
//	site: default
//	api_key: ${UNIFI_API_KEY}
//
//	port: 9897
//	poll_interval: 30s
//	http_timeout: 10s
//	verify_ssl: false
//
//	log_level: info
//	log_format: json
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval.
// This prevents accidental load on the controller from overly aggressive polling.
const minPollInterval = 1 * time.Second

// Defaults applied before the file and environment are read.
const (
	DefaultSite         = "default"
	DefaultPort         = 9897
	DefaultPollInterval = 30 * time.Second
	DefaultHTTPTimeout  = 10 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
)

// Environment variables read by [FromEnv] and [Load].
const (
	EnvControllerURL = "UNIFI_CONTROLLER_URL"
	EnvAPIKey        = "UNIFI_API_KEY"
	EnvUsername      = "UNIFI_USERNAME"
	EnvPassword      = "UNIFI_PASSWORD"
	EnvSite          = "UNIFI_SITE"
	EnvPort          = "METRICS_PORT"
	EnvListenAddress = "LISTEN_ADDRESS"
	EnvPollInterval  = "POLL_INTERVAL"
	EnvHTTPTimeout   = "HTTP_TIMEOUT"
	EnvVerifySSL     = "VERIFY_SSL"
	EnvLogLevel      = "LOG_LEVEL"
	EnvLogFormat     = "LOG_FORMAT"
)

// Config is the root configuration structure for unipoll.
//
// It maps directly to the YAML configuration file structure.
// Use [Load], [Parse] or [FromEnv] to create a Config.
type Config struct {
	// ControllerURL is the base URL of the UniFi controller.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	ControllerURL string `yaml:"controller_url" validate:"required,url"`

	// Site is the controller site to poll. Defaults to "default".
	Site string `yaml:"site" validate:"required"`

	// APIKey selects API-key authentication. Takes precedence over
	// Username and Password when both are set.
	APIKey string `yaml:"api_key"`

	// Username and Password select cookie-session authentication.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Port is the metrics server port. Defaults to 9897.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// ListenAddress is the host or IP to bind. Empty binds all interfaces.
	ListenAddress string `yaml:"listen_address" validate:"omitempty,ip|hostname"`

	// PollInterval is the time between poll cycles.
	// Accepts duration strings like "30s", "1m", or a bare number of seconds.
	// Defaults to 30s.
	PollInterval Duration `yaml:"poll_interval"`

	// HTTPTimeout bounds each controller request. Defaults to 10s.
	HTTPTimeout Duration `yaml:"http_timeout"`

	// VerifySSL controls TLS certificate verification. Defaults to true.
	VerifySSL bool `yaml:"verify_ssl"`

	// LogLevel is one of trace, debug, info, warn, error. Case-insensitive.
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`

	// LogFormat is "json" (default) or "console".
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
// A bare integer is read as seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// parseDuration accepts "30s"-style durations and bare seconds ("30").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return parsed, nil
}

// Default returns a Config holding only default values.
func Default() *Config {
	return &Config{
		Site:         DefaultSite,
		Port:         DefaultPort,
		PollInterval: Duration(DefaultPollInterval),
		HTTPTimeout:  Duration(DefaultHTTPTimeout),
		VerifySSL:    true,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result.
//
// Environment variables referenced as ${VAR} in the file are expanded before
// validation. Variables such as UNIFI_CONTROLLER_URL override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses and validates YAML configuration data.
//
// Unset fields keep their defaults. ${VAR} references in the string fields
// are expanded. Environment overrides are not applied; see [Load].
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults and environment variables
// only, for running without a config file.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals data over the defaults and expands ${VAR} references.
func decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	fields := []struct {
		name string
		ptr  *string
	}{
		{"controller_url", &cfg.ControllerURL},
		{"site", &cfg.Site},
		{"api_key", &cfg.APIKey},
		{"username", &cfg.Username},
		{"password", &cfg.Password},
		{"listen_address", &cfg.ListenAddress},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.ptr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = expanded
	}

	return cfg, nil
}

// applyEnvOverrides copies set environment variables over cfg.
func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		env string
		ptr *string
	}{
		{EnvControllerURL, &cfg.ControllerURL},
		{EnvAPIKey, &cfg.APIKey},
		{EnvUsername, &cfg.Username},
		{EnvPassword, &cfg.Password},
		{EnvSite, &cfg.Site},
		{EnvListenAddress, &cfg.ListenAddress},
		{EnvLogLevel, &cfg.LogLevel},
		{EnvLogFormat, &cfg.LogFormat},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.env); ok && v != "" {
			*s.ptr = v
		}
	}

	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		cfg.Port = port
	}

	durations := []struct {
		env string
		ptr *Duration
	}{
		{EnvPollInterval, &cfg.PollInterval},
		{EnvHTTPTimeout, &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.ptr = Duration(parsed)
	}

	if v := os.Getenv(EnvVerifySSL); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", EnvVerifySSL, v)
		}
		cfg.VerifySSL = verify
	}

	return nil
}
