package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ociproxy/registry-gateway/internal/registry"
)

func TestClient_GetToken_PrefersTokenOverAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("service"); got != "registry.docker.io" {
			t.Errorf("service query = %q", got)
		}
		if got := r.URL.Query().Get("scope"); got != "repository:library/alpine:pull" {
			t.Errorf("scope query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"T","access_token":"A"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), registry.DockerHubCredentials{})
	tok, err := c.GetToken(context.Background(), srv.URL, "registry.docker.io", "repository:library/alpine:pull")
	if err != nil {
		t.Fatalf("GetToken error: %v", err)
	}
	if tok != "T" {
		t.Errorf("token = %q, want T", tok)
	}
}

func TestClient_GetToken_FallsBackToAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"A"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), registry.DockerHubCredentials{})
	tok, err := c.GetToken(context.Background(), srv.URL, "svc", "scope")
	if err != nil {
		t.Fatalf("GetToken error: %v", err)
	}
	if tok != "A" {
		t.Errorf("token = %q, want A", tok)
	}
}

func TestClient_GetToken_NonTwoXXFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), registry.DockerHubCredentials{})
	_, err := c.GetToken(context.Background(), srv.URL, "svc", "scope")
	var target *TokenRequestFailedError
	if err == nil {
		t.Fatal("expected error")
	}
	if !asTokenRequestFailed(err, &target) {
		t.Fatalf("error = %v, want *TokenRequestFailedError", err)
	}
	if target.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", target.Status)
	}
}

func TestClient_GetToken_EmptyTokenIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), registry.DockerHubCredentials{})
	if _, err := c.GetToken(context.Background(), srv.URL, "svc", "scope"); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestClient_GetToken_SendsBasicAuthWhenConfigured(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		_, _ = w.Write([]byte(`{"token":"T"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), registry.DockerHubCredentials{Username: "alice", Password: "hunter2"})
	if _, err := c.GetToken(context.Background(), srv.URL, "svc", "scope"); err != nil {
		t.Fatalf("GetToken error: %v", err)
	}
	if !gotOK || gotUser != "alice" || gotPass != "hunter2" {
		t.Errorf("basic auth = (%q, %q, %v), want (alice, hunter2, true)", gotUser, gotPass, gotOK)
	}
}

func TestCachingClient_CachesWithinExpiry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"token":"T","expires_in":300}`))
	}))
	defer srv.Close()

	c := NewCachingClient(NewClient(srv.Client(), registry.DockerHubCredentials{}))

	for i := 0; i < 3; i++ {
		tok, err := c.GetToken(context.Background(), srv.URL, "svc", "scope")
		if err != nil {
			t.Fatalf("GetToken error: %v", err)
		}
		if tok != "T" {
			t.Errorf("token = %q, want T", tok)
		}
	}

	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (cached)", calls)
	}
}

func TestCachingClient_NoExpiryNeverCached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"token":"T"}`))
	}))
	defer srv.Close()

	c := NewCachingClient(NewClient(srv.Client(), registry.DockerHubCredentials{}))

	for i := 0; i < 2; i++ {
		if _, err := c.GetToken(context.Background(), srv.URL, "svc", "scope"); err != nil {
			t.Fatalf("GetToken error: %v", err)
		}
	}

	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2 (no expires_in means no caching)", calls)
	}
}

func asTokenRequestFailed(err error, target **TokenRequestFailedError) bool {
	if e, ok := err.(*TokenRequestFailedError); ok {
		*target = e
		return true
	}
	return false
}
