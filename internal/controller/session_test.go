package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jpalmerr/unipoll/internal/controllertest"
)

func TestSession_APIKeyIsConstant(t *testing.T) {
	s := NewAPIKeySession("abc")

	cred, ok := s.Current()
	if !ok || cred.Value != "abc" || cred.Mode != ModeAPIKey {
		t.Fatalf("unexpected credential %+v (ok=%v)", cred, ok)
	}

	// no-ops in key mode
	s.Invalidate()
	if _, err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate in key mode returned error: %v", err)
	}

	cred, ok = s.Current()
	if !ok || cred.Value != "abc" {
		t.Errorf("API key changed after Invalidate: %+v", cred)
	}
}

func TestSession_LoginRequestBody(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		http.SetCookie(w, &http.Cookie{Name: "unifises", Value: "tok"})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewCookieSession(srv.Client(), srv.URL+"/", "user", "pass", time.Second)
	cred, err := s.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	want := `{"username":"user","password":"pass","remember":false}`
	if gotBody != want {
		t.Errorf("login body = %s, want %s", gotBody, want)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if cred.Value != "unifises=tok" {
		t.Errorf("cookie value = %q", cred.Value)
	}
}

func TestSession_LoginWithoutCookieFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewCookieSession(srv.Client(), srv.URL, "user", "pass", time.Second)
	_, err := s.Authenticate(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if _, ok := s.Current(); ok {
		t.Error("expected no credential after failed login")
	}
}

// TestSession_FailedLoginKeepsPrevious verifies a failed login never replaces
// a working credential.
func TestSession_FailedLoginKeepsPrevious(t *testing.T) {
	fake := controllertest.New()
	srv := fake.Serve()
	defer srv.Close()

	s := NewCookieSession(srv.Client(), srv.URL, controllertest.DefaultUsername, controllertest.DefaultPassword, time.Second)
	first, err := s.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	fake.SetLoginFailure(true)
	if _, err := s.Authenticate(context.Background()); err == nil {
		t.Fatal("expected login failure")
	}

	cur, ok := s.Current()
	if !ok || cur.Value != first.Value {
		t.Errorf("expected previous credential %q to survive, got %q (ok=%v)", first.Value, cur.Value, ok)
	}
}

// TestSession_ReauthenticateSkipsWhenAlreadyRefreshed verifies that a caller
// holding an outdated credential picks up the newer one without a new login.
func TestSession_ReauthenticateSkipsWhenAlreadyRefreshed(t *testing.T) {
	fake := controllertest.New()
	srv := fake.Serve()
	defer srv.Close()

	s := NewCookieSession(srv.Client(), srv.URL, controllertest.DefaultUsername, controllertest.DefaultPassword, time.Second)
	ctx := context.Background()

	stale, err := s.Authenticate(ctx)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	fresh, err := s.Reauthenticate(ctx, stale)
	if err != nil {
		t.Fatalf("Reauthenticate failed: %v", err)
	}
	if fresh.Value == stale.Value {
		t.Fatal("expected a new cookie")
	}

	again, err := s.Reauthenticate(ctx, stale)
	if err != nil {
		t.Fatalf("second Reauthenticate failed: %v", err)
	}
	if again.Value != fresh.Value {
		t.Errorf("expected %q, got %q", fresh.Value, again.Value)
	}
	if got := fake.Logins(); got != 2 {
		t.Errorf("expected 2 logins, got %d", got)
	}
}

func TestSession_ExpiryHint(t *testing.T) {
	fake := controllertest.New()
	fake.SetCookieTTL(time.Hour)
	srv := fake.Serve()
	defer srv.Close()

	s := NewCookieSession(srv.Client(), srv.URL, controllertest.DefaultUsername, controllertest.DefaultPassword, time.Second)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	cred, err := s.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if want := base.Add(time.Hour); !cred.Expires.Equal(want) {
		t.Errorf("Expires = %v, want %v", cred.Expires, want)
	}

	if _, ok := s.Current(); !ok {
		t.Error("expected credential before expiry")
	}

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, ok := s.Current(); ok {
		t.Error("expected credential to be reported expired")
	}
}

func TestSession_InvalidateForcesLogin(t *testing.T) {
	fake := controllertest.New()
	srv := fake.Serve()
	defer srv.Close()

	s := NewCookieSession(srv.Client(), srv.URL, controllertest.DefaultUsername, controllertest.DefaultPassword, time.Second)
	if _, err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	s.Invalidate()
	if _, ok := s.Current(); ok {
		t.Error("expected no credential after Invalidate")
	}
}

func TestCredential_Apply(t *testing.T) {
	tests := []struct {
		name       string
		cred       Credential
		wantKey    string
		wantCookie string
	}{
		{"api key", Credential{Mode: ModeAPIKey, Value: "k"}, "k", ""},
		{"cookie", Credential{Mode: ModeSession, Value: "unifises=a; csrf_token=b"}, "", "unifises=a; csrf_token=b"},
		{"empty cookie", Credential{Mode: ModeSession}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.cred.apply(req)

			if got := req.Header.Get("X-API-KEY"); got != tt.wantKey {
				t.Errorf("X-API-KEY = %q, want %q", got, tt.wantKey)
			}
			if got := req.Header.Get("Cookie"); got != tt.wantCookie {
				t.Errorf("Cookie = %q, want %q", got, tt.wantCookie)
			}
		})
	}
}

func TestMode_String(t *testing.T) {
	if ModeSession.String() != "session" {
		t.Errorf("got %q", ModeSession.String())
	}
	if ModeAPIKey.String() != "api_key" {
		t.Errorf("got %q", ModeAPIKey.String())
	}
}
