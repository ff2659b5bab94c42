// Package auth implements the Docker Hub Bearer token dance: given a
// realm, service, and scope extracted from a WWW-Authenticate challenge,
// it fetches a token the engine can retry the upstream request with.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ociproxy/registry-gateway/internal/registry"
)

// TokenRequestFailedError reports a non-2xx response from the auth realm.
type TokenRequestFailedError struct {
	Status int
}

func (e *TokenRequestFailedError) Error() string {
	return fmt.Sprintf("token request failed with status %d", e.Status)
}

// tokenResponse is the JSON body the auth realm returns. Either field may
// carry the token; "token" wins when both are present.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (r tokenResponse) value() string {
	if r.Token != "" {
		return r.Token
	}
	return r.AccessToken
}

// Client fetches Bearer tokens from a registry's auth realm.
type Client struct {
	httpClient  *http.Client
	credentials registry.DockerHubCredentials
}

// NewClient builds a Client using httpClient for outbound calls. Pass a
// shared, long-lived *http.Client — the Client itself holds no connection
// state of its own.
func NewClient(httpClient *http.Client, creds registry.DockerHubCredentials) *Client {
	return &Client{httpClient: httpClient, credentials: creds}
}

// result bundles the resolved token with its expiry, for the optional TTL
// cache layered in cache.go.
type result struct {
	token     string
	expiresAt time.Time
}

// GetToken issues an HTTPS GET to realm with service and scope as query
// parameters, attaching HTTP Basic auth when credentials are configured.
// A non-2xx response fails with *TokenRequestFailedError. The decoded body
// never yields an empty string on success.
func (c *Client) GetToken(ctx context.Context, realm, service, scope string) (string, error) {
	res, err := c.fetch(ctx, realm, service, scope)
	if err != nil {
		return "", err
	}
	return res.token, nil
}

func (c *Client) fetch(ctx context.Context, realm, service, scope string) (result, error) {
	u := realm + "?service=" + url.QueryEscape(service) + "&scope=" + url.QueryEscape(scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return result{}, fmt.Errorf("building token request: %w", err)
	}
	if c.credentials.Configured() {
		req.SetBasicAuth(c.credentials.Username, c.credentials.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result{}, fmt.Errorf("token request transport error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result{}, &TokenRequestFailedError{Status: resp.StatusCode}
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return result{}, fmt.Errorf("decoding token response: %w", err)
	}

	token := body.value()
	if token == "" {
		return result{}, fmt.Errorf("token response carried no token")
	}

	expiresAt := time.Time{}
	if body.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}

	return result{token: token, expiresAt: expiresAt}, nil
}
