package canonical

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name        string
		registryKey string
		path        string
		want        string
	}{
		{"already canonical", "docker", "/v2/library/nginx/manifests/latest", "/v2/library/nginx/manifests/latest"},
		{"library shorthand", "docker", "/library/nginx/manifests/latest", "/v2/library/nginx/manifests/latest"},
		{"bare image defaults to library", "docker", "/nginx", "/v2/library/nginx"},
		{"namespaced image two separators", "docker", "/bitnami/redis", "/v2/bitnami/redis"},
		{"v2 key root", "v2", "/", "/v2/"},
		{"v2 key catalog", "v2", "/_catalog", "/v2/_catalog"},
		{"path without leading slash", "docker", "nginx", "/v2/nginx"},
		{"v2 key manifest path", "v2", "/library/alpine/manifests/3.18", "/v2/library/alpine/manifests/3.18"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Canonicalize(tt.registryKey, tt.path); got != tt.want {
				t.Errorf("Canonicalize(%q, %q) = %q, want %q", tt.registryKey, tt.path, got, tt.want)
			}
		})
	}
}

func TestCanonicalize_AlwaysStartsWithV2(t *testing.T) {
	inputs := []struct{ key, path string }{
		{"docker", "/nginx"},
		{"docker", "/bitnami/redis"},
		{"docker", "/v2/x/y"},
		{"v2", "/"},
		{"v2", "/_catalog"},
	}
	for _, in := range inputs {
		got := Canonicalize(in.key, in.path)
		if len(got) < 3 || got[:3] != "/v2" {
			t.Errorf("Canonicalize(%q, %q) = %q, does not start with /v2", in.key, in.path, got)
		}
	}
}

func TestCanonicalize_IdempotentForNonV2Key(t *testing.T) {
	// For a non-"v2" registry key, canonicalizing an already-canonical path
	// must be a no-op: rule 3 (already /v2-prefixed) shortcuts every other
	// rule, so a second pass with the same key is identical to the first.
	paths := []string{
		"/nginx", "/bitnami/redis", "/library/nginx/manifests/latest",
	}
	for _, p := range paths {
		once := Canonicalize("docker", p)
		twice := Canonicalize("docker", once)
		if once != twice {
			t.Errorf("Canonicalize not idempotent for %q: once=%q twice=%q", p, once, twice)
		}
	}
}
