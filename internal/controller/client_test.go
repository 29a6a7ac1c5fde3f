package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jpalmerr/unipoll/internal/controllertest"
)

const devicePath = "/api/s/default/stat/device"

func newSessionClient(t *testing.T, fake *controllertest.Controller, timeout time.Duration) *Client {
	t.Helper()

	srv := fake.Serve()
	t.Cleanup(srv.Close)

	httpClient := NewHTTPClient(true)
	session := NewCookieSession(httpClient, srv.URL, controllertest.DefaultUsername, controllertest.DefaultPassword, timeout)
	return NewClient(httpClient, srv.URL, session, timeout, zerolog.Nop())
}

func newKeyClient(t *testing.T, fake *controllertest.Controller, key string) *Client {
	t.Helper()

	srv := fake.Serve()
	t.Cleanup(srv.Close)

	return NewClient(NewHTTPClient(true), srv.URL, NewAPIKeySession(key), 5*time.Second, zerolog.Nop())
}

func TestClient_APIKeyMode(t *testing.T) {
	fake := controllertest.New()
	fake.SetDevices(`[{"mac":"aa:bb:cc:dd:ee:01"}]`)
	client := newKeyClient(t, fake, controllertest.DefaultAPIKey)

	path := "/proxy/network" + devicePath
	resp, err := client.Request(context.Background(), http.MethodGet, path)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if fake.Logins() != 0 {
		t.Errorf("API-key mode must never log in, got %d logins", fake.Logins())
	}
}

// TestClient_APIKeyRejected verifies a 401 in API-key mode surfaces as an
// AuthError without any retry.
func TestClient_APIKeyRejected(t *testing.T) {
	fake := controllertest.New()
	client := newKeyClient(t, fake, "wrong-key")

	path := "/proxy/network" + devicePath
	_, err := client.Request(context.Background(), http.MethodGet, path)

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", authErr.StatusCode)
	}
	if got := fake.Requests(path); got != 1 {
		t.Errorf("expected exactly 1 request, got %d", got)
	}
	if fake.Logins() != 0 {
		t.Errorf("expected no login, got %d", fake.Logins())
	}
}

func TestClient_LogsInOnFirstRequest(t *testing.T) {
	fake := controllertest.New()
	client := newSessionClient(t, fake, 5*time.Second)

	if _, ok := client.Session().Current(); ok {
		t.Fatal("expected no credential before first request")
	}

	if _, err := client.Request(context.Background(), http.MethodGet, devicePath); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if fake.Logins() != 1 {
		t.Errorf("expected 1 login, got %d", fake.Logins())
	}

	cred, ok := client.Session().Current()
	if !ok {
		t.Fatal("expected credential after successful login")
	}
	if cred.AcquiredAt.IsZero() {
		t.Error("expected AcquiredAt to be set")
	}

	// a second request reuses the session
	if _, err := client.Request(context.Background(), http.MethodGet, devicePath); err != nil {
		t.Fatalf("second Request failed: %v", err)
	}
	if fake.Logins() != 1 {
		t.Errorf("expected session reuse, got %d logins", fake.Logins())
	}
}

// TestClient_ReauthenticatesOnceAndRetries verifies that a single 401 costs
// exactly one extra login and one retry, and that the fresh cookie is kept.
func TestClient_ReauthenticatesOnceAndRetries(t *testing.T) {
	fake := controllertest.New()
	client := newSessionClient(t, fake, 5*time.Second)
	ctx := context.Background()

	if _, err := client.Request(ctx, http.MethodGet, devicePath); err != nil {
		t.Fatalf("warm-up Request failed: %v", err)
	}

	fake.RejectNext(devicePath, 1)

	resp, err := client.Request(ctx, http.MethodGet, devicePath)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after retry, got %d", resp.StatusCode)
	}
	if got := fake.Logins(); got != 2 {
		t.Errorf("expected 2 logins, got %d", got)
	}
	// warm-up + rejected + retry
	if got := fake.Requests(devicePath); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}

	issued := fake.IssuedCookies()
	cred, ok := client.Session().Current()
	if !ok {
		t.Fatal("expected credential after recovery")
	}
	want := controllertest.SessionCookie + "=" + issued[len(issued)-1]
	if !strings.Contains(cred.Value, want) {
		t.Errorf("expected stored cookie to contain %q, got %q", want, cred.Value)
	}
}

// TestClient_SecondUnauthorizedFails verifies a 401 on the retry is an
// AuthError and that no further attempt is made.
func TestClient_SecondUnauthorizedFails(t *testing.T) {
	fake := controllertest.New()
	client := newSessionClient(t, fake, 5*time.Second)

	// first login happens lazily, then both the request and its retry are rejected
	fake.RejectNext(devicePath, 2)

	_, err := client.Request(context.Background(), http.MethodGet, devicePath)

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if Kind(err) != KindAuth {
		t.Errorf("expected kind %q, got %q", KindAuth, Kind(err))
	}
	if got := fake.Requests(devicePath); got != 2 {
		t.Errorf("expected exactly 2 requests, got %d", got)
	}
	if got := fake.Logins(); got != 2 {
		t.Errorf("expected exactly 2 logins, got %d", got)
	}
	if _, ok := client.Session().Current(); ok {
		t.Error("expected rejected credential to be cleared")
	}
}

func TestClient_ExpiredSessionRecovers(t *testing.T) {
	fake := controllertest.New()
	client := newSessionClient(t, fake, 5*time.Second)
	ctx := context.Background()

	if _, err := client.Request(ctx, http.MethodGet, devicePath); err != nil {
		t.Fatalf("warm-up Request failed: %v", err)
	}

	fake.ExpireSessions()

	if _, err := client.Request(ctx, http.MethodGet, devicePath); err != nil {
		t.Fatalf("Request after expiry failed: %v", err)
	}
	if got := fake.Logins(); got != 2 {
		t.Errorf("expected 2 logins, got %d", got)
	}
}

func TestClient_LoginFailure(t *testing.T) {
	fake := controllertest.New()
	fake.SetLoginFailure(true)
	client := newSessionClient(t, fake, 5*time.Second)

	_, err := client.Request(context.Background(), http.MethodGet, devicePath)

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if authErr.Op != "login" {
		t.Errorf("expected op login, got %q", authErr.Op)
	}
	if authErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", authErr.StatusCode)
	}
	if got := fake.Requests(devicePath); got != 0 {
		t.Errorf("expected no data request after failed login, got %d", got)
	}
}

func TestClient_APIError(t *testing.T) {
	fake := controllertest.New()
	fake.SetResponse(devicePath, http.StatusInternalServerError, `{"error":"boom"}`)
	client := newSessionClient(t, fake, 5*time.Second)

	_, err := client.Request(context.Background(), http.MethodGet, devicePath)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "boom") {
		t.Errorf("expected body excerpt, got %q", apiErr.Body)
	}
	if got := fake.Requests(devicePath); got != 1 {
		t.Errorf("5xx must not be retried, got %d requests", got)
	}
}

func TestClient_TransportError(t *testing.T) {
	fake := controllertest.New()
	srv := fake.Serve()
	url := srv.URL
	srv.Close()

	client := NewClient(NewHTTPClient(true), url, NewAPIKeySession("k"), time.Second, zerolog.Nop())

	_, err := client.Request(context.Background(), http.MethodGet, devicePath)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if Kind(err) != KindTransport {
		t.Errorf("expected kind %q, got %q", KindTransport, Kind(err))
	}
}

func TestClient_Timeout(t *testing.T) {
	fake := controllertest.New()
	fake.SetLatency(300 * time.Millisecond)
	client := newKeyClient(t, fake, controllertest.DefaultAPIKey)
	client.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := client.Request(context.Background(), http.MethodGet, "/proxy/network"+devicePath)
	elapsed := time.Since(start)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if !transportErr.Timeout() {
		t.Errorf("expected timeout, got %v", transportErr.Err)
	}
	if elapsed > 250*time.Millisecond {
		t.Errorf("request was not bounded by timeout: took %v", elapsed)
	}
}

func TestClient_Close(t *testing.T) {
	client := NewClient(NewHTTPClient(true), "http://127.0.0.1", NewAPIKeySession("k"), time.Second, zerolog.Nop())

	// idempotent
	client.Close()
	client.Close()

	var nilClient *Client
	nilClient.Close()
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"auth", &AuthError{Op: "login"}, KindAuth},
		{"auth wrapping transport", &AuthError{Op: "login", Err: &TransportError{Err: errors.New("refused")}}, KindAuth},
		{"api", &APIError{StatusCode: 500}, KindAPI},
		{"transport", &TransportError{Err: errors.New("refused")}, KindTransport},
		{"parse", &ParseError{Resource: "devices", Err: errors.New("bad")}, KindParse},
		{"wrapped parse", errors.Join(errors.New("ctx"), &ParseError{Resource: "sites"}), KindParse},
		{"other", errors.New("boom"), KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_ExcerptBounded(t *testing.T) {
	body := make([]byte, 4096)
	for i := range body {
		body[i] = 'x'
	}

	if got := len(excerpt(body)); got != maxBodyExcerpt {
		t.Errorf("expected excerpt of %d bytes, got %d", maxBodyExcerpt, got)
	}
}
