// Package canonical rewrites inbound request paths into the /v2/... form
// Docker Hub expects. It is only invoked for Docker Hub targets; other
// upstreams pass their paths through unchanged.
package canonical

import "strings"

// Canonicalize returns path rewritten into a valid Registry v2 path for
// Docker Hub, given the registry key the client addressed. The result
// always begins with "/v2". For any key other than "v2" the function is
// idempotent: canonicalizing an already-canonical path is a no-op. For the
// "v2" key it is not, since rule 2 prefixes "/v2" unconditionally.
//
// Rules, first match wins:
//  1. registryKey == "v2" and path == "/"        -> "/v2/"
//  2. registryKey == "v2" and any other path      -> "/v2" + path
//  3. path already begins with "/v2"              -> path unchanged
//  4. path begins with "/library/"                -> "/v2" + path
//  5. path begins with "/" and has >= 2 "/" separators -> "/v2" + path
//     otherwise                                   -> "/v2/library" + path
//  6. anything else                               -> "/v2/" + path
func Canonicalize(registryKey, path string) string {
	if registryKey == "v2" {
		if path == "/" {
			return "/v2/"
		}
		return "/v2" + path
	}

	if strings.HasPrefix(path, "/v2") {
		return path
	}

	if strings.HasPrefix(path, "/library/") {
		return "/v2" + path
	}

	if strings.HasPrefix(path, "/") {
		if strings.Count(path, "/") >= 2 {
			return "/v2" + path
		}
		return "/v2/library" + path
	}

	return "/v2/" + path
}
