package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		issuer   string
		wantHSTS bool
	}{
		{name: "HTTPS issuer", issuer: "https://as.example.com", wantHSTS: true},
		{name: "HTTP issuer", issuer: "http://localhost:8080", wantHSTS: false},
		{name: "empty issuer", issuer: "", wantHSTS: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.issuer)

			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
			assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			assert.Equal(t, tt.wantHSTS, w.Header().Get("Strict-Transport-Security") != "")
		})
	}
}

func TestSetCacheableHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetCacheableHeaders(w, "https://as.example.com", 300)

	assert.Equal(t, "public, max-age=300", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Pragma"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestHeadersMiddleware(t *testing.T) {
	h := HeadersMiddleware("https://as.example.com")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
