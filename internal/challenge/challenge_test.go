package challenge

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantScheme string
		wantValues map[string]string
	}{
		{
			name:       "docker hub bearer challenge",
			header:     `Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/ubuntu:pull"`,
			wantScheme: "Bearer",
			wantValues: map[string]string{
				"realm":   "https://auth.docker.io/token",
				"service": "registry.docker.io",
				"scope":   "repository:library/ubuntu:pull",
			},
		},
		{
			name:       "round trip example from spec",
			header:     `Bearer realm="R",service="S",scope="X"`,
			wantScheme: "Bearer",
			wantValues: map[string]string{"realm": "R", "service": "S", "scope": "X"},
		},
		{
			name:       "no space means empty result",
			header:     "Bearer",
			wantScheme: "",
			wantValues: nil,
		},
		{
			name:       "term missing equals is dropped",
			header:     `Bearer realm="R",junk,service="S"`,
			wantScheme: "Bearer",
			wantValues: map[string]string{"realm": "R", "service": "S"},
		},
		{
			name:       "unquoted value kept as is",
			header:     `Basic realm=example`,
			wantScheme: "Basic",
			wantValues: map[string]string{"realm": "example"},
		},
		{
			name:       "value containing equals splits on first only",
			header:     `Bearer scope="repository:foo:pull&bar=baz"`,
			wantScheme: "Bearer",
			wantValues: map[string]string{"scope": "repository:foo:pull&bar=baz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.header)
			if got.Scheme != tt.wantScheme {
				t.Errorf("Scheme = %q, want %q", got.Scheme, tt.wantScheme)
			}
			if !reflect.DeepEqual(map[string]string(got.Values), tt.wantValues) {
				t.Errorf("Values = %#v, want %#v", got.Values, tt.wantValues)
			}
		})
	}
}

func TestParams_IsBearer(t *testing.T) {
	tests := []struct {
		scheme string
		want   bool
	}{
		{"Bearer", true},
		{"bearer", true},
		{"BEARER", true},
		{"Basic", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := (Params{Scheme: tt.scheme}).IsBearer(); got != tt.want {
			t.Errorf("IsBearer(%q) = %v, want %v", tt.scheme, got, tt.want)
		}
	}
}

func TestParams_Get(t *testing.T) {
	p := Parse(`Bearer realm="R",Service="S"`)
	if got := p.Get("realm"); got != "R" {
		t.Errorf("Get(realm) = %q, want R", got)
	}
	if got := p.Get("SERVICE"); got != "S" {
		t.Errorf("Get(SERVICE) case-insensitive = %q, want S", got)
	}
	if got := p.Get("scope"); got != "" {
		t.Errorf("Get(scope) missing = %q, want empty", got)
	}
}
