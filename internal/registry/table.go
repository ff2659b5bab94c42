// Package registry holds the static mapping from short registry keys to
// upstream registry hostnames, and the Docker Hub credential pair resolved
// from the environment at startup.
package registry

import "fmt"

// Key identifies a configured upstream registry, or the reserved key "v2"
// which routes to Docker Hub without a Table lookup.
type Key = string

// DockerHub is the reserved key that routes directly to Docker Hub,
// bypassing the Table. The engine recognises it before calling Lookup.
const DockerHub Key = "v2"

// dockerHubHost is the canonical Docker Hub registry host (no scheme).
const dockerHubHost = "registry-1.docker.io"

// Table is an immutable mapping from registry key to upstream hostname.
// Lookup is O(1) and never resolves the reserved DockerHub key; the engine
// handles that one separately.
type Table struct {
	hosts map[string]string
}

// defaults lists the built-in registries this proxy fronts.
func defaults() map[string]string {
	return map[string]string{
		"docker":     dockerHubHost,
		"quay":       "quay.io",
		"gcr":        "gcr.io",
		"k8s-gcr":    "k8s.gcr.io",
		"k8s":        "registry.k8s.io",
		"ghcr":       "ghcr.io",
		"cloudsmith": "docker.cloudsmith.io",
		"nvcr":       "nvcr.io",
		"gitlab":     "registry.gitlab.com",
	}
}

// NewTable builds a Table from the built-in defaults, with overrides (new
// keys or host replacements) layered on top. Pass a nil or empty overrides
// map to get the stock set.
func NewTable(overrides map[string]string) *Table {
	hosts := defaults()
	for k, v := range overrides {
		if k == DockerHub {
			continue // the engine owns this key, never the table
		}
		hosts[k] = v
	}
	return &Table{hosts: hosts}
}

// ErrNotFound indicates a registry key absent from both the table and the
// reserved DockerHub key.
var ErrNotFound = fmt.Errorf("unsupported registry")

// Lookup returns the upstream host for key, or ErrNotFound. The reserved
// DockerHub key ("v2") is never present in the table; the engine must check
// for it before calling Lookup.
func (t *Table) Lookup(key Key) (string, error) {
	host, ok := t.hosts[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return host, nil
}

// DockerHubHost returns the canonical Docker Hub host.
func DockerHubHost() string { return dockerHubHost }
