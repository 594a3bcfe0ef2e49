package util

import (
	"net"
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than maxLen", input: "short", maxLen: 10, want: "short"},
		{name: "equal to maxLen", input: "exactly10c", maxLen: 10, want: "exactly10c"},
		{name: "longer than maxLen", input: "this-is-a-very-long-token-string", maxLen: 8, want: "this-is-"},
		{name: "empty string", input: "", maxLen: 5, want: ""},
		{name: "zero maxLen", input: "test", maxLen: 0, want: ""},
		{name: "negative maxLen", input: "test", maxLen: -1, want: ""},
		{name: "multibyte boundary", input: "hello世界test", maxLen: 8, want: "hello世"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "whitespace only", input: "   ", want: nil},
		{name: "single", input: "read", want: []string{"read"}},
		{name: "multiple with extra spaces", input: " read  write ", want: []string{"read", "write"}},
		{name: "duplicates removed", input: "read write read", want: []string{"read", "write"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseScopes(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScopes(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsSubset(t *testing.T) {
	tests := []struct {
		name     string
		subset   []string
		superset []string
		want     bool
	}{
		{name: "empty subset", subset: nil, superset: []string{"read"}, want: true},
		{name: "equal sets", subset: []string{"read", "write"}, superset: []string{"write", "read"}, want: true},
		{name: "proper subset", subset: []string{"read"}, superset: []string{"read", "write"}, want: true},
		{name: "not a subset", subset: []string{"read", "create", "update"}, superset: []string{"read"}, want: false},
		{name: "empty superset", subset: []string{"read"}, superset: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSubset(tt.subset, tt.superset); got != tt.want {
				t.Errorf("IsSubset(%v, %v) = %v, want %v", tt.subset, tt.superset, got, tt.want)
			}
		})
	}
}

func TestMissing(t *testing.T) {
	got := Missing([]string{"administrator", "auditor", "other"}, []string{"other"})
	want := []string{"administrator", "auditor"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Missing() = %v, want %v", got, want)
	}
	if got := Missing([]string{"a"}, []string{"a", "b"}); got != nil {
		t.Errorf("Missing() = %v, want nil", got)
	}
}

func TestClassifyIP(t *testing.T) {
	tests := []struct {
		ip   string
		want IPClassification
	}{
		{ip: "8.8.8.8", want: IPClassificationPublic},
		{ip: "127.0.0.1", want: IPClassificationLoopback},
		{ip: "::1", want: IPClassificationLoopback},
		{ip: "10.0.0.1", want: IPClassificationPrivate},
		{ip: "192.168.1.1", want: IPClassificationPrivate},
		{ip: "169.254.169.254", want: IPClassificationLinkLocal},
		{ip: "0.0.0.0", want: IPClassificationUnspecified},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := ClassifyIP(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("ClassifyIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestIsInternalHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{host: "localhost", want: true},
		{host: "api.localhost", want: true},
		{host: "127.0.0.1", want: true},
		{host: "[::1]", want: true},
		{host: "169.254.169.254", want: true},
		{host: "example.com", want: false},
		{host: "93.184.216.34", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := IsInternalHost(tt.host); got != tt.want {
				t.Errorf("IsInternalHost(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"https://auth.example.com":    "https://auth.example.com",
		"https://auth.example.com/":   "https://auth.example.com",
		"https://auth.example.com//":  "https://auth.example.com",
		"https://auth.example.com/t/": "https://auth.example.com/t",
		"":                            "",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}
