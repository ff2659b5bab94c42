package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ociproxy/registry-gateway/internal/challenge"
	"github.com/ociproxy/registry-gateway/internal/metrics"
	"github.com/ociproxy/registry-gateway/internal/registry"
)

// cdnUserAgents rotate across the three CDN fall-back candidates.
const (
	cdnUserAgentCloudflare = "docker-registry-proxy"
	cdnUserAgentHub        = "docker/20.10.12 go/go1.16.12"
	cdnUserAgentDirect     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// forwardBlob is the blob detour of spec.md §4.6: for Docker Hub it
// pre-authenticates with a scoped pull token before handing off to the
// Blob Pipeline; for any other upstream it hands off with no token.
func (e *Engine) forwardBlob(ctx context.Context, host, url string, headers http.Header, canonicalPath string) (upstreamResult, error) {
	var token string
	if host == registry.DockerHubHost() {
		repo := repositoryFromBlobPath(canonicalPath)
		scope := "repository:" + repo + ":pull"
		if t, err := e.tokens.GetToken(ctx, dockerAuthRealm, dockerAuthService, scope); err == nil {
			token = t
			metrics.RecordTokenRequest("ok")
		} else {
			metrics.RecordTokenRequest("failed")
			e.logger.Warn("blob pre-authentication failed, continuing unauthenticated",
				"repository", repo, "error", err)
		}
	}
	return e.runBlobPipeline(ctx, host, url, headers, token)
}

// runBlobPipeline implements spec.md §4.7: follow redirects manually up
// to maxRedirects, retry once per 401 challenge without consuming a
// redirect slot, and on 403 run the CDN fall-back sub-routine.
func (e *Engine) runBlobPipeline(ctx context.Context, host, startURL string, headers http.Header, token string) (upstreamResult, error) {
	current := headers.Clone()
	if current.Get("Accept") == "" {
		current.Set("Accept", "application/octet-stream")
	}
	if current.Get("Range") == "" {
		current.Set("Range", "bytes=0-")
	}
	current.Set("Cache-Control", "no-cache")
	current.Set("Connection", "keep-alive")
	if token != "" {
		current.Set("Authorization", "Bearer "+token)
	}

	currentURL := startURL
	redirectsFollowed := 0

	for {
		res, err := e.doRequest(ctx, e.blobClient, http.MethodGet, currentURL, current, nil)
		if err != nil {
			return upstreamResult{}, err
		}

		switch {
		case res.status >= 300 && res.status < 400:
			location := res.headers.Get("Location")
			if location == "" {
				return res, nil
			}
			redirectsFollowed++
			metrics.RecordBlobRedirect(host)
			if redirectsFollowed > e.maxRedirects {
				return upstreamResult{}, ErrTooManyRedirects
			}
			currentURL = location
			continue

		case res.status == http.StatusUnauthorized && host == registry.DockerHubHost():
			params := challenge.Parse(res.headers.Get("Www-Authenticate"))
			if !params.IsBearer() {
				return res, nil
			}
			newToken, err := e.tokens.GetToken(ctx, params.Get("realm"), params.Get("service"), params.Get("scope"))
			if err != nil {
				metrics.RecordTokenRequest("failed")
				return res, nil
			}
			metrics.RecordTokenRequest("ok")
			current.Set("Authorization", "Bearer "+newToken)
			continue

		case res.status == http.StatusForbidden && host == registry.DockerHubHost():
			if !e.cdnFallbackEnabled {
				return res, nil
			}
			if fallback, ok := e.cdnFallback(ctx, host, currentURL); ok {
				metrics.SetCircuitState(host, 0)
				return fallback, nil
			}
			metrics.RecordCircuitTrip(host)
			metrics.SetCircuitState(host, 2)
			return res, nil

		default:
			return res, nil
		}
	}
}

// cdnFallback implements the CDN fall-back sub-routine of spec.md §4.7:
// three shaped candidate URLs, each retried up to three times with
// exponential back-off, followed by one final direct attempt.
func (e *Engine) cdnFallback(ctx context.Context, host, currentURL string) (upstreamResult, bool) {
	digest, ok := blobDigestFromURL(currentURL)
	if !ok {
		return upstreamResult{}, false
	}
	repo := repositoryFromBlobPath(currentURL)

	shardKey := ""
	if strings.HasPrefix(digest, "sha256:") && len(digest) >= 9 {
		shardKey = digest[7:9]
	}
	shardedDigest := strings.Replace(digest, ":", "/", 1)

	candidates := []struct {
		url       string
		userAgent string
	}{
		{
			url:       fmt.Sprintf("https://production.cloudflare.docker.com/registry-v2/docker/registry/v2/blobs/sha256/%s/%s/data", shardKey, shardedDigest),
			userAgent: cdnUserAgentCloudflare,
		},
		{
			url:       fmt.Sprintf("https://registry.hub.docker.com/v2/%s/blobs/%s", repo, digest),
			userAgent: cdnUserAgentHub,
		},
		{
			url:       fmt.Sprintf("https://registry-cdn.docker.io/v2/%s/blobs/%s", repo, digest),
			userAgent: cdnUserAgentDirect,
		},
	}

	for _, c := range candidates {
		if res, ok := e.attemptCDNCandidate(ctx, c.url, c.userAgent); ok {
			return res, true
		}
	}

	return e.directFallback(ctx, currentURL, repo)
}

// attemptCDNCandidate retries a single CDN candidate up to three times
// with exponential back-off (1s, 2s before attempts 2 and 3). A network
// error consumes an attempt and retries; any received response, 2xx or
// not, ends the candidate's attempt loop.
func (e *Engine) attemptCDNCandidate(ctx context.Context, url, userAgent string) (upstreamResult, bool) {
	delay := time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return upstreamResult{}, false
			case <-time.After(delay):
			}
			delay *= 2
		}

		headers := http.Header{}
		headers.Set("User-Agent", userAgent)

		res, err := e.doRequest(ctx, e.blobClient, http.MethodGet, url, headers, nil)
		if err != nil {
			continue
		}

		if res.status >= 300 && res.status < 400 {
			if location := res.headers.Get("Location"); location != "" {
				if redirected, err := e.doRequest(ctx, e.blobClient, http.MethodGet, location, headers, nil); err == nil {
					res = redirected
				}
			}
		}

		if res.status >= 200 && res.status < 300 {
			return res, true
		}
		return upstreamResult{}, false
	}
	return upstreamResult{}, false
}

// directFallback is the last resort once all three CDN candidates are
// exhausted: one direct GET to the original blob URL, with a fresh pull
// token attached when one can be obtained.
func (e *Engine) directFallback(ctx context.Context, url, repo string) (upstreamResult, bool) {
	headers := http.Header{}
	headers.Set("User-Agent", cdnUserAgentDirect)
	headers.Set("Accept", "*/*")
	headers.Set("Accept-Encoding", "gzip, deflate, br")

	if token, err := e.tokens.GetToken(ctx, dockerAuthRealm, dockerAuthService, "repository:"+repo+":pull"); err == nil {
		headers.Set("Authorization", "Bearer "+token)
		metrics.RecordTokenRequest("ok")
	} else {
		metrics.RecordTokenRequest("failed")
	}

	res, err := e.doRequest(ctx, e.blobClient, http.MethodGet, url, headers, nil)
	if err != nil {
		return upstreamResult{}, false
	}
	if res.status < 200 || res.status >= 300 {
		return upstreamResult{}, false
	}
	return res, true
}

// blobDigestFromURL splits a blob URL once on "/blobs/" and returns the
// suffix, e.g. "sha256:deadbeef...".
func blobDigestFromURL(url string) (string, bool) {
	const marker = "/blobs/"
	idx := strings.Index(url, marker)
	if idx == -1 {
		return "", false
	}
	digest := url[idx+len(marker):]
	if digest == "" {
		return "", false
	}
	return digest, true
}
