// Package engine implements the proxy's state machine: resolving a
// registry key to an upstream host, canonicalizing Docker Hub paths,
// preparing headers, and dispatching either the general request flow or
// the specialised blob-fetch pipeline.
package engine

import "net/http"

// ProxyRequest is what the Listener hands the engine for a single inbound
// call: a registry key, the path tail (with its leading slash restored),
// an optional raw query string (including its leading '?' when present),
// the inbound header set, an optional body, and the uppercase verb.
type ProxyRequest struct {
	RegistryKey string
	Path        string
	Query       string
	Headers     http.Header
	Body        []byte
	Method      string
}

// ProxyResponse is the (status, headers, body) triple the engine hands
// back to the Listener.
type ProxyResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// supportedMethods is the set of verbs the engine accepts from a
// ProxyRequest. Anything else fails with *UnsupportedMethodError.
var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodHead:   true,
	http.MethodPatch:  true,
}
