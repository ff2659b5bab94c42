package engine

import (
	"errors"
	"fmt"
)

// UnsupportedRegistryError reports a registry key that is neither the
// literal "v2" nor present in the Registry Table.
type UnsupportedRegistryError struct {
	Key string
}

func (e *UnsupportedRegistryError) Error() string {
	return fmt.Sprintf("Unsupported registry: %s", e.Key)
}

// UnsupportedMethodError reports a verb outside GET/POST/PUT/DELETE/HEAD/PATCH.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("Unsupported method: %s", e.Method)
}

// ErrTooManyRedirects is returned by the Blob Pipeline once it has
// followed more than maxRedirects location hops for a single request.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrUpstreamTransport wraps a network-level failure talking to an
// upstream registry or CDN host.
var ErrUpstreamTransport = errors.New("upstream transport error")

// ErrBodyReadFailed wraps a failure reading an inbound or upstream body.
var ErrBodyReadFailed = errors.New("body read failed")
