package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xForwardedFor     string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{name: "direct connection", remoteAddr: "192.168.1.100:12345", want: "192.168.1.100"},
		{name: "XFF with trust", remoteAddr: "10.0.0.1:1", xForwardedFor: "203.0.113.1, 10.0.0.2", trustProxy: true, want: "203.0.113.1"},
		{name: "XFF without trust", remoteAddr: "10.0.0.1:1", xForwardedFor: "203.0.113.1", want: "10.0.0.1"},
		{name: "X-Real-IP with trust", remoteAddr: "10.0.0.1:1", xRealIP: "203.0.113.1", trustProxy: true, want: "203.0.113.1"},
		{name: "X-Real-IP without trust", remoteAddr: "10.0.0.1:1", xRealIP: "203.0.113.1", want: "10.0.0.1"},
		{name: "two trusted proxies", remoteAddr: "10.0.0.1:1", xForwardedFor: "203.0.113.1, 10.0.0.2, 10.0.0.3", trustProxy: true, trustedProxyCount: 2, want: "203.0.113.1"},
		{name: "spoofed leftmost entry ignored", remoteAddr: "10.0.0.1:1", xForwardedFor: "6.6.6.6, 203.0.113.1, 10.0.0.2", trustProxy: true, want: "203.0.113.1"},
		{name: "invalid XFF falls back", remoteAddr: "10.0.0.1:1", xForwardedFor: "not-an-ip", trustProxy: true, want: "10.0.0.1"},
		{name: "remote addr without port", remoteAddr: "10.0.0.9", want: "10.0.0.9"},
		{name: "IPv6", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}
			assert.Equal(t, tt.want, GetClientIP(r, tt.trustProxy, tt.trustedProxyCount))
		})
	}
}

func TestClientIPResolver_Middleware(t *testing.T) {
	var got string
	h := ClientIPResolver{}.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "198.51.100.7", got)
	assert.Empty(t, ClientIPFromContext(r.Context()))
}
