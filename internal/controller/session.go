package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// apiKeyHeader carries the static key in API-key mode.
const apiKeyHeader = "X-API-KEY"

// Mode selects how requests are authenticated. It is fixed when a [Session]
// is created and never changes for the life of the process.
type Mode int

const (
	// ModeSession authenticates with a cookie obtained from POST /api/login.
	ModeSession Mode = iota

	// ModeAPIKey authenticates every request with a static API key.
	ModeAPIKey
)

// String returns the mode name used in logs.
func (m Mode) String() string {
	switch m {
	case ModeSession:
		return "session"
	case ModeAPIKey:
		return "api_key"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Credential is the value attached to controller requests.
type Credential struct {
	Mode Mode

	// Value is the API key, or the Cookie header value in session mode.
	Value string

	// AcquiredAt is when the credential was issued (zero for API keys).
	AcquiredAt time.Time

	// Expires is the earliest cookie expiry reported by the controller.
	// Zero when the controller gave no hint.
	Expires time.Time
}

// Expired reports whether the controller's expiry hint has passed.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

func (c Credential) apply(req *http.Request) {
	switch c.Mode {
	case ModeAPIKey:
		req.Header.Set(apiKeyHeader, c.Value)
	case ModeSession:
		if c.Value != "" {
			req.Header.Set("Cookie", c.Value)
		}
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// Session holds the credential used by [Client].
//
// A Session is either a constant API key ([NewAPIKeySession]) or a cookie
// store that performs the login exchange ([NewCookieSession]). In API-key
// mode [Session.Authenticate] and [Session.Invalidate] are no-ops.
//
// Reads and writes of the stored cookie are mutually exclusive, and
// concurrent logins are collapsed into one exchange. Session is safe for
// concurrent use.
type Session struct {
	mode Mode
	key  Credential

	httpClient *http.Client
	loginURL   string
	username   string
	password   string
	timeout    time.Duration
	now        func() time.Time

	logins singleflight.Group

	mu   sync.RWMutex
	cred *Credential
}

// NewAPIKeySession returns a constant session that always presents key.
func NewAPIKeySession(key string) *Session {
	return &Session{
		mode: ModeAPIKey,
		key:  Credential{Mode: ModeAPIKey, Value: key},
		now:  time.Now,
	}
}

// NewCookieSession returns a session that logs in to baseURL with the given
// username and password. The login exchange uses httpClient and is bounded
// by timeout. No request is made until [Session.Authenticate] is called.
func NewCookieSession(httpClient *http.Client, baseURL, username, password string, timeout time.Duration) *Session {
	return &Session{
		mode:       ModeSession,
		httpClient: httpClient,
		loginURL:   strings.TrimRight(baseURL, "/") + "/api/login",
		username:   username,
		password:   password,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Mode returns the authentication mode chosen at construction.
func (s *Session) Mode() Mode {
	return s.mode
}

// Current returns the active credential. The boolean is false when no login
// has succeeded yet, the cookie was invalidated, or its expiry hint passed.
// In API-key mode it always returns the key.
func (s *Session) Current() (Credential, bool) {
	if s.mode == ModeAPIKey {
		return s.key, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cred == nil || s.cred.Expired(s.now()) {
		return Credential{}, false
	}
	return *s.cred, true
}

// Authenticate performs the login exchange and stores the resulting cookie.
//
// On failure the previously stored credential is left untouched and an
// [*AuthError] is returned. Callers that arrive while a login is already in
// flight wait for it and share its result.
func (s *Session) Authenticate(ctx context.Context) (Credential, error) {
	if s.mode == ModeAPIKey {
		return s.key, nil
	}

	v, err, _ := s.logins.Do("login", func() (any, error) {
		cred, err := s.login(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cred = &cred
		s.mu.Unlock()

		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Invalidate clears the stored cookie so the next request logs in again.
func (s *Session) Invalidate() {
	if s.mode == ModeAPIKey {
		return
	}

	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
}

// Reauthenticate replaces stale, the credential a request was rejected
// with, by a fresh one. If another caller already replaced stale, the newer
// credential is returned without a second login.
func (s *Session) Reauthenticate(ctx context.Context, stale Credential) (Credential, error) {
	if s.mode == ModeAPIKey {
		return s.key, nil
	}

	s.mu.Lock()
	if s.cred != nil && s.cred.Value != stale.Value {
		cur := *s.cred
		s.mu.Unlock()
		return cur, nil
	}
	s.cred = nil
	s.mu.Unlock()

	return s.Authenticate(ctx)
}

// discard clears the stored cookie only if it is still stale.
func (s *Session) discard(stale Credential) {
	if s.mode == ModeAPIKey {
		return
	}

	s.mu.Lock()
	if s.cred != nil && s.cred.Value == stale.Value {
		s.cred = nil
	}
	s.mu.Unlock()
}

// login runs one POST /api/login exchange.
func (s *Session) login(ctx context.Context) (Credential, error) {
	payload, err := json.Marshal(loginRequest{
		Username: s.username,
		Password: s.password,
	})
	if err != nil {
		return Credential{}, &AuthError{Op: "login", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewReader(payload))
	if err != nil {
		return Credential{}, &AuthError{Op: "login", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Credential{}, &AuthError{
			Op:  "login",
			Err: &TransportError{Method: http.MethodPost, URL: s.loginURL, Err: err},
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, &AuthError{
			Op:         "login",
			StatusCode: resp.StatusCode,
			Err:        &APIError{StatusCode: resp.StatusCode, Body: excerpt(body)},
		}
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return Credential{}, &AuthError{Op: "login", Err: errors.New("no session cookie in login response")}
	}

	now := s.now()
	pairs := make([]string, 0, len(cookies))
	var expires time.Time
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)

		var exp time.Time
		switch {
		case c.MaxAge > 0:
			exp = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			exp = c.Expires
		}
		if !exp.IsZero() && (expires.IsZero() || exp.Before(expires)) {
			expires = exp
		}
	}

	return Credential{
		Mode:       ModeSession,
		Value:      strings.Join(pairs, "; "),
		AcquiredAt: now,
		Expires:    expires,
	}, nil
}
