package engine

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/ociproxy/registry-gateway/internal/registry"
)

// stubTokenGetter hands back a canned token without any network call, so
// blob tests never depend on the real Docker Hub auth realm.
type stubTokenGetter struct {
	token string
	calls int
}

func (s *stubTokenGetter) GetToken(ctx context.Context, realm, service, scope string) (string, error) {
	s.calls++
	return s.token, nil
}

func newBlobTestEngine(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Engine, *stubTokenGetter) {
	t.Helper()
	client := dockerHubUpstream(t, handler)
	table := registry.NewTable(nil)
	tokens := &stubTokenGetter{token: "TOK"}

	base := []Option{
		WithHTTPClient(client),
		WithBlobHTTPClient(noRedirectClone(client)),
	}
	return New(table, tokens, append(base, opts...)...), tokens
}

func TestForward_BlobHappyPath(t *testing.T) {
	const blobBytes = "layer-bytes"

	calls := 0
	e, tokens := newBlobTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/v2/library/alpine/blobs/sha256:deadbeef" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Range"); got != "bytes=0-" {
			t.Errorf("Range = %q, want bytes=0-", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer TOK" {
			t.Errorf("Authorization = %q, want Bearer TOK", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(blobBytes))
	})

	resp, err := e.Forward(context.Background(), ProxyRequest{
		RegistryKey: "docker",
		Path:        "/library/alpine/blobs/sha256:deadbeef",
		Method:      http.MethodGet,
		Headers:     http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != blobBytes {
		t.Errorf("body = %q, want %q", resp.Body, blobBytes)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}
	if tokens.calls != 1 {
		t.Errorf("token fetches = %d, want 1", tokens.calls)
	}
}

func TestForward_BlobTwoRedirectsThenSuccess(t *testing.T) {
	const finalBody = "from-cdn-b"

	calls := 0
	e, _ := newBlobTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch {
		case strings.Contains(r.URL.Path, "/blobs/sha256:deadbeef") && !strings.Contains(r.URL.Path, "cdn"):
			w.Header().Set("Location", "https://cdn-a.example/cdn-a/step")
			w.WriteHeader(http.StatusTemporaryRedirect)
		case strings.Contains(r.URL.Path, "/cdn-a/"):
			w.Header().Set("Location", "https://cdn-b.example/cdn-b/step")
			w.WriteHeader(http.StatusFound)
		case strings.Contains(r.URL.Path, "/cdn-b/"):
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(finalBody))
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	resp, err := e.Forward(context.Background(), ProxyRequest{
		RegistryKey: "docker",
		Path:        "/library/alpine/blobs/sha256:deadbeef",
		Method:      http.MethodGet,
		Headers:     http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != finalBody {
		t.Errorf("body = %q, want %q", resp.Body, finalBody)
	}
	if calls != 3 {
		t.Errorf("upstream calls = %d, want 3", calls)
	}
}

func TestForward_Blob403FallsBackToCDNCandidateOne(t *testing.T) {
	const cdnBody = "from-candidate-one"

	calls := 0
	e, _ := newBlobTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if strings.Contains(r.URL.Path, "registry-v2/docker/registry/v2/blobs/sha256/") {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(cdnBody))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})

	resp, err := e.Forward(context.Background(), ProxyRequest{
		RegistryKey: "docker",
		Path:        "/library/alpine/blobs/sha256:deadbeef",
		Method:      http.MethodGet,
		Headers:     http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != cdnBody {
		t.Errorf("body = %q, want %q", resp.Body, cdnBody)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2 (403 + candidate one)", calls)
	}
}

func TestRepositoryFromBlobPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v2/library/alpine/blobs/sha256:abc", "library/alpine"},
		{"/v2/bitnami/redis/blobs/sha256:abc", "bitnami/redis"},
		{"/v2//blobs/sha256:abc", defaultRepository},
		{"/no-v2-marker/blobs/sha256:abc", defaultRepository},
		{"/v2/library/alpine/manifests/latest", defaultRepository},
	}
	for _, tt := range tests {
		if got := repositoryFromBlobPath(tt.path); got != tt.want {
			t.Errorf("repositoryFromBlobPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestManifestRepoAndRef(t *testing.T) {
	tests := []struct {
		path     string
		wantRepo string
		wantRef  string
		wantOK   bool
	}{
		{"/v2/library/alpine/manifests/3.18", "alpine", "3.18", true},
		{"/v2/bitnami/redis/manifests/latest", "bitnami/redis", "latest", true},
		{"/v2/alpine/manifests/latest", "alpine", "latest", true},
		{"/v2/library/alpine/blobs/sha256:abc", "", "", false},
	}
	for _, tt := range tests {
		repo, ref, ok := manifestRepoAndRef(tt.path)
		if ok != tt.wantOK || repo != tt.wantRepo || ref != tt.wantRef {
			t.Errorf("manifestRepoAndRef(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.path, repo, ref, ok, tt.wantRepo, tt.wantRef, tt.wantOK)
		}
	}
}
