// Package challenge parses the WWW-Authenticate header Docker Hub sends on
// a 401, extracting the scheme and the realm/service/scope parameters the
// Token Client needs.
package challenge

import "strings"

// Params holds a parsed challenge: the auth scheme (e.g. "Bearer") and its
// comma-separated parameters, keyed by lowercase name.
type Params struct {
	Scheme string
	Values map[string]string
}

// Get looks up a parameter case-insensitively against the stored (already
// lowercase) keys.
func (p Params) Get(name string) string {
	return p.Values[strings.ToLower(name)]
}

// IsBearer reports whether the parsed scheme is "Bearer", case-insensitive.
func (p Params) IsBearer() bool {
	return strings.EqualFold(p.Scheme, "bearer")
}

// Parse parses a raw WWW-Authenticate header value such as:
//
//	Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/ubuntu:pull"
//
// It splits once on the first space into (scheme, rest), then splits rest
// on commas and each term once on '='. Surrounding whitespace is trimmed and
// one matching pair of double quotes is stripped from each value. Terms
// missing '=' are dropped silently. Commas or '=' inside quoted values are
// not handled specially — this mirrors the source's behaviour exactly.
//
// Returns a zero Params (empty scheme, nil map) if header has no space.
func Parse(header string) Params {
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok {
		return Params{}
	}

	values := make(map[string]string)
	for _, term := range strings.Split(rest, ",") {
		name, value, ok := strings.Cut(term, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		value = unquote(value)
		values[strings.ToLower(name)] = value
	}

	return Params{Scheme: scheme, Values: values}
}

// unquote strips one matching pair of surrounding double quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
