package controller

import (
	"errors"
	"fmt"
)

// maxBodyExcerpt bounds how much of an error response body is kept in an [APIError].
const maxBodyExcerpt = 512

// AuthError reports that authentication against the controller is not
// possible: the login exchange failed, or a request was still rejected as
// unauthorized after the single permitted re-authentication.
type AuthError struct {
	// Op names the step that failed (e.g. "login", "request").
	Op string

	// StatusCode is the HTTP status that caused the failure, if any.
	StatusCode int

	Err error
}

func (e *AuthError) Error() string {
	msg := "authentication failed"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError reports a non-2xx response (other than a recoverable 401) or an
// error envelope returned by the controller.
type APIError struct {
	StatusCode int

	// Body is an excerpt of the response body, at most 512 bytes.
	Body string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("controller returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("controller returned status %d: %s", e.StatusCode, e.Body)
}

// TransportError reports a failure to reach the controller: connection
// refused, TLS handshake failure, timeout, or a truncated body.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was caused by the request deadline.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) {
		return t.Timeout()
	}
	return false
}

// ParseError reports a response whose envelope does not match the expected
// shape. Malformed individual records are not ParseErrors; they are skipped.
type ParseError struct {
	// Resource is the inventory class being parsed (e.g. "devices").
	Resource string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s response: %v", e.Resource, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Error kinds returned by [Kind].
const (
	KindAuth      = "auth"
	KindAPI       = "api"
	KindTransport = "transport"
	KindParse     = "parse"
	KindOther     = "other"
)

// Kind classifies err into one of the controller error kinds. It is used as
// a low-cardinality label on poll failure metrics and in logs.
func Kind(err error) string {
	var (
		authErr      *AuthError
		apiErr       *APIError
		transportErr *TransportError
		parseErr     *ParseError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &apiErr):
		return KindAPI
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &parseErr):
		return KindParse
	default:
		return KindOther
	}
}

// excerpt trims a response body for inclusion in an error message.
func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		body = body[:maxBodyExcerpt]
	}
	return string(body)
}
