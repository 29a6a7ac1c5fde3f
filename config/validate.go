package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError represents a field-level validation error.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors holds every problem found by [Config.Validate].
type ValidationErrors struct {
	Errors []ValidationError
}

// Error implements the error interface for ValidationErrors.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "invalid configuration"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = e.Message
	}
	return "invalid configuration: " + strings.Join(messages, "; ")
}

func (v *ValidationErrors) add(field, message string) {
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration and normalizes the log level to lower
// case. It returns a *[ValidationErrors] listing every problem found.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)

	errs := &ValidationErrors{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs.add(fe.Field(), formatValidationMessage(fe))
		}
	}

	if c.APIKey == "" && (c.Username == "" || c.Password == "") {
		errs.add("api_key", fmt.Sprintf("either %s or both %s and %s must be provided", EnvAPIKey, EnvUsername, EnvPassword))
	}
	if c.ControllerURL != "" && !strings.HasPrefix(c.ControllerURL, "http://") && !strings.HasPrefix(c.ControllerURL, "https://") {
		errs.add("controller_url", "controller_url must start with http:// or https://")
	}
	if c.PollInterval.Duration() < minPollInterval {
		errs.add("poll_interval", fmt.Sprintf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration()))
	}
	if c.HTTPTimeout.Duration() <= 0 {
		errs.add("http_timeout", fmt.Sprintf("http_timeout must be greater than 0, got %s", c.HTTPTimeout.Duration()))
	}

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

// formatValidationMessage creates human-readable error messages.
func formatValidationMessage(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(e.Param(), " ", ", "))
	case "ip|hostname":
		return fmt.Sprintf("%s must be an IP address or hostname", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
