package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ociproxy/registry-gateway/internal/canonical"
	"github.com/ociproxy/registry-gateway/internal/challenge"
	"github.com/ociproxy/registry-gateway/internal/header"
	"github.com/ociproxy/registry-gateway/internal/metrics"
	"github.com/ociproxy/registry-gateway/internal/registry"
)

const (
	dockerAuthRealm   = "https://auth.docker.io/token"
	dockerAuthService = "registry.docker.io"
	hubAPIUserAgent   = "docker-registry-proxy"
	hubAPIHost        = "hub.docker.com"
)

// TokenGetter obtains a Bearer token for (realm, service, scope). Both
// auth.Client and auth.CachingClient satisfy this.
type TokenGetter interface {
	GetToken(ctx context.Context, realm, service, scope string) (string, error)
}

// Engine is the top-level proxy state machine: it resolves a registry key
// to an upstream host, canonicalizes Docker Hub paths, prepares headers,
// and dispatches either the general request flow or the Blob Pipeline.
type Engine struct {
	table  *registry.Table
	tokens TokenGetter
	logger *slog.Logger

	client     *http.Client
	blobClient *http.Client

	cdnFallbackEnabled bool
	maxRedirects       int
	blobTimeout        time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHTTPClient sets the client used for the general (non-blob) flow.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithBlobHTTPClient sets the client used for the Blob Pipeline. It must
// not follow redirects automatically; the pipeline follows them by hand.
func WithBlobHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.blobClient = c }
}

// WithCDNFallback toggles the Blob Pipeline's CDN fall-back sub-routine.
func WithCDNFallback(enabled bool) Option {
	return func(e *Engine) { e.cdnFallbackEnabled = enabled }
}

// WithMaxRedirects overrides the Blob Pipeline's redirect bound (default 10).
func WithMaxRedirects(n int) Option {
	return func(e *Engine) { e.maxRedirects = n }
}

// WithBlobTimeout overrides the per-attempt blob fetch timeout (default 300s).
func WithBlobTimeout(d time.Duration) Option {
	return func(e *Engine) { e.blobTimeout = d }
}

// New builds an Engine backed by table for registry resolution and tokens
// for Bearer token exchanges.
func New(table *registry.Table, tokens TokenGetter, opts ...Option) *Engine {
	e := &Engine{
		table:  table,
		tokens: tokens,
		logger: slog.Default(),
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
		blobClient: &http.Client{
			Timeout: 300 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cdnFallbackEnabled: true,
		maxRedirects:       10,
		blobTimeout:        300 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.blobClient.Timeout = e.blobTimeout
	return e
}

// upstreamResult is the internal shape of a single outbound HTTP round
// trip, before the error-handling boundary substitutes an empty body.
type upstreamResult struct {
	status  int
	headers http.Header
	body    []byte
}

// Forward resolves req to an upstream, performs the Docker Hub Bearer
// dance or Blob Pipeline as required, and returns the response the
// Listener should write back to the client.
func (e *Engine) Forward(ctx context.Context, req ProxyRequest) (ProxyResponse, error) {
	start := time.Now()

	if !supportedMethods[req.Method] {
		return ProxyResponse{}, &UnsupportedMethodError{Method: req.Method}
	}

	host, err := e.resolveHost(req.RegistryKey)
	if err != nil {
		return ProxyResponse{}, err
	}

	canonicalPath := req.Path
	if host == registry.DockerHubHost() {
		canonicalPath = canonical.Canonicalize(req.RegistryKey, req.Path)
	}

	url := "https://" + host + canonicalPath + req.Query
	isBlob := strings.Contains(canonicalPath, "/blobs/")
	headers := header.Prepare(req.Headers, host, isBlob)

	var res upstreamResult
	if isBlob {
		res, err = e.forwardBlob(ctx, host, url, headers, canonicalPath)
	} else {
		res, err = e.forwardGeneral(ctx, host, url, canonicalPath, req.Method, headers, req.Body)
	}

	duration := time.Since(start)
	if err != nil {
		metrics.RecordRequest(req.RegistryKey, 0, duration)
		return ProxyResponse{}, err
	}

	resp := finalizeResponse(res)
	metrics.RecordRequest(req.RegistryKey, resp.Status, duration)
	return resp, nil
}

// resolveHost implements the engine's separate recognition of the
// literal "v2" key ahead of any Registry Table lookup.
func (e *Engine) resolveHost(key string) (string, error) {
	if key == registry.DockerHub {
		return registry.DockerHubHost(), nil
	}
	host, err := e.table.Lookup(key)
	if err != nil {
		return "", &UnsupportedRegistryError{Key: key}
	}
	return host, nil
}

// forwardGeneral implements the non-blob flow of spec.md §4.6: send once,
// retry on a Docker Hub 401 challenge, and fall back to the Hub API on a
// Docker Hub 403 for a manifest request.
func (e *Engine) forwardGeneral(ctx context.Context, host, url, canonicalPath, method string, headers http.Header, body []byte) (upstreamResult, error) {
	res, err := e.doRequest(ctx, e.client, method, url, headers, body)
	if err != nil {
		return upstreamResult{}, err
	}

	if host == registry.DockerHubHost() && res.status == http.StatusUnauthorized {
		if retried, ok := e.retryWithChallenge(ctx, method, url, headers, body, res.headers.Get("Www-Authenticate")); ok {
			res = retried
		}
	}

	if host == registry.DockerHubHost() && res.status == http.StatusForbidden && strings.Contains(canonicalPath, "/manifests/") {
		if fallback, ok := e.hubAPIFallback(ctx, canonicalPath); ok {
			res = fallback
		}
	}

	return res, nil
}

// retryWithChallenge performs the single authentication retry step: parse
// WWW-Authenticate, fetch a token if the scheme is bearer, and resend the
// original request once with an Authorization header. The boolean result
// reports whether the retry produced a response; it is false when the
// scheme is not bearer, the token fetch fails, or the retry send fails.
func (e *Engine) retryWithChallenge(ctx context.Context, method, url string, headers http.Header, body []byte, wwwAuthenticate string) (upstreamResult, bool) {
	params := challenge.Parse(wwwAuthenticate)
	if !params.IsBearer() {
		return upstreamResult{}, false
	}

	token, err := e.tokens.GetToken(ctx, params.Get("realm"), params.Get("service"), params.Get("scope"))
	if err != nil {
		metrics.RecordTokenRequest("failed")
		e.logger.Warn("token request failed during challenge retry", "error", err)
		return upstreamResult{}, false
	}
	metrics.RecordTokenRequest("ok")

	retryHeaders := headers.Clone()
	retryHeaders.Set("Authorization", "Bearer "+token)

	res, err := e.doRequest(ctx, e.client, method, url, retryHeaders, body)
	if err != nil {
		e.logger.Warn("challenge retry request failed", "error", err)
		return upstreamResult{}, false
	}
	return res, true
}

// hubAPIFallback implements the Docker Hub Hub-API manifest fall-back:
// on a 403 for a manifest request, ask the public Hub API about the tag
// instead of the registry itself.
func (e *Engine) hubAPIFallback(ctx context.Context, canonicalPath string) (upstreamResult, bool) {
	repo, reference, ok := manifestRepoAndRef(canonicalPath)
	if !ok {
		return upstreamResult{}, false
	}

	hubURL := fmt.Sprintf("https://%s/v2/repositories/%s/tags/%s", hubAPIHost, repo, reference)
	headers := http.Header{}
	headers.Set("User-Agent", hubAPIUserAgent)

	res, err := e.doRequest(ctx, e.client, http.MethodGet, hubURL, headers, nil)
	if err != nil {
		e.logger.Warn("hub API fall-back request failed", "error", err)
		return upstreamResult{}, false
	}
	if res.status < 200 || res.status >= 300 {
		return upstreamResult{}, false
	}
	return res, true
}

// doRequest issues a single outbound HTTP call, honoring method dispatch
// (HEAD never carries a body) and mapping transport/body-read failures to
// the error taxonomy of spec.md §7.
func (e *Engine) doRequest(ctx context.Context, client *http.Client, method, url string, headers http.Header, body []byte) (upstreamResult, error) {
	var bodyReader io.Reader
	if body != nil && method != http.MethodHead {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return upstreamResult{}, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header = headers.Clone()
	if h := req.Header.Get("Host"); h != "" {
		req.Host = h
		req.Header.Del("Host")
	}

	resp, err := client.Do(req)
	if err != nil {
		return upstreamResult{}, fmt.Errorf("%w: %v", ErrUpstreamTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return upstreamResult{}, fmt.Errorf("%w: %v", ErrBodyReadFailed, err)
	}

	return upstreamResult{status: resp.StatusCode, headers: resp.Header, body: respBody}, nil
}

// finalizeResponse applies spec.md §7's body substitution rule: a
// non-2xx upstream response with an empty body is surfaced with a
// synthetic "Upstream error: <status>" body instead of silence.
func finalizeResponse(res upstreamResult) ProxyResponse {
	body := res.body
	headers := res.headers
	if (res.status < 200 || res.status >= 300) && len(body) == 0 {
		body = []byte(fmt.Sprintf("Upstream error: %d", res.status))
		headers = headers.Clone()
		headers.Del("Content-Length")
	}
	return ProxyResponse{Status: res.status, Headers: headers, Body: body}
}
