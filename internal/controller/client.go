package controller

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// controller inventories can run to several megabytes on large sites
const maxResponseBodySize = 32 << 20 // 32MB

// a single controller is polled, so the pool only needs to cover the
// three concurrent inventory fetches plus the login exchange
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Response holds the result of one controller request made by [Client].
type Response struct {
	// Body contains the response body, limited to 32MB.
	Body []byte

	// StatusCode is the HTTP status code of the final attempt.
	StatusCode int

	// Latency is the time taken by the final attempt.
	Latency time.Duration
}

// roundTrip performs one HTTP exchange presenting cred. It returns an error
// only when no response was received.
type roundTrip func(ctx context.Context, method, path string, cred Credential) (Response, error)

// Client issues authenticated requests against the controller API.
//
// Every call is bounded by the configured timeout. A 401 in session mode
// triggers exactly one re-authentication and one retry of the original
// request; the budget is per call, so concurrent calls each get their own.
// Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	session    *Session
	timeout    time.Duration
	logger     zerolog.Logger

	do roundTrip
}

// NewHTTPClient returns the transport shared by [Client] and [Session].
//
// Timeouts are applied per request via context, not on the http.Client.
// When verifyTLS is false, certificate verification is skipped; UniFi
// controllers commonly ship self-signed certificates.
func NewHTTPClient(verifyTLS bool) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        defaultMaxIdleConns,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !verifyTLS, //nolint:gosec // opt-in for self-signed controller certificates
			},
		},
	}
}

// NewClient creates a [Client] for the controller at baseURL using session
// for credentials.
func NewClient(httpClient *http.Client, baseURL string, session *Session, timeout time.Duration, logger zerolog.Logger) *Client {
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    session,
		timeout:    timeout,
		logger:     logger.With().Str("component", "controller").Logger(),
	}
	c.do = c.reauthenticating(c.send)
	return c
}

// Mode returns the session's authentication mode.
func (c *Client) Mode() Mode {
	return c.session.Mode()
}

// Session returns the credential store used by the client.
func (c *Client) Session() *Session {
	return c.session
}

// Request performs method against path (e.g. "/api/s/default/stat/device")
// and returns the response of a 2xx exchange.
//
// Errors:
//   - [*AuthError]: login failed, the API key was rejected, or the request
//     was still unauthorized after one re-authentication
//   - [*APIError]: any other non-2xx status
//   - [*TransportError]: no response (connection, TLS, timeout)
func (c *Client) Request(ctx context.Context, method, path string) (Response, error) {
	cred, err := c.credential(ctx)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.do(ctx, method, path, cred)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &APIError{StatusCode: resp.StatusCode, Body: excerpt(resp.Body)}
	}
	return resp, nil
}

// Close closes idle connections in the client's pool.
// Safe to call multiple times and on a nil client.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}

// credential returns the stored credential, logging in first if the session
// has none yet.
func (c *Client) credential(ctx context.Context) (Credential, error) {
	if cred, ok := c.session.Current(); ok {
		return cred, nil
	}

	c.logger.Debug().Msg("no active session, logging in")
	return c.session.Authenticate(ctx)
}

// reauthenticating wraps next with the session-expiry policy. It is the
// only place a request is ever retried.
func (c *Client) reauthenticating(next roundTrip) roundTrip {
	return func(ctx context.Context, method, path string, cred Credential) (Response, error) {
		resp, err := next(ctx, method, path, cred)
		if err != nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}

		switch cred.Mode {
		case ModeAPIKey:
			return resp, &AuthError{
				Op:         "request",
				StatusCode: resp.StatusCode,
				Err:        errors.New("api key rejected"),
			}

		case ModeSession:
			c.logger.Info().Str("path", path).Msg("session rejected, re-authenticating")

			fresh, err := c.session.Reauthenticate(ctx, cred)
			if err != nil {
				return resp, err
			}

			resp, err = next(ctx, method, path, fresh)
			if err != nil {
				return resp, err
			}
			if resp.StatusCode == http.StatusUnauthorized {
				c.session.discard(fresh)
				return resp, &AuthError{
					Op:         "request",
					StatusCode: resp.StatusCode,
					Err:        errors.New("still unauthorized after re-authentication"),
				}
			}
			return resp, nil
		}

		return resp, &AuthError{Op: "request", StatusCode: resp.StatusCode}
	}
}

// send performs exactly one HTTP exchange.
func (c *Client) send(ctx context.Context, method, path string, cred Credential) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return Response{}, &TransportError{Method: method, URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	cred.apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{Latency: time.Since(start)}, &TransportError{Method: method, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
		}, &TransportError{Method: method, URL: url, Err: err}
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("controller request")

	return Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}, nil
}
