package security

import (
	"net/http"
	"strconv"
	"strings"
)

// SetSecurityHeaders sets the response headers every OAuth endpoint carries.
// Responses hold credentials, so caching is disabled and framing denied.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	if strings.HasPrefix(issuer, "https://") {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}

// SetCacheableHeaders is the variant for public metadata (discovery
// documents and JWKS) that clients are allowed to cache.
func SetCacheableHeaders(w http.ResponseWriter, issuer string, maxAge int) {
	SetSecurityHeaders(w, issuer)
	w.Header().Del("Pragma")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
}

// HeadersMiddleware applies SetSecurityHeaders before the wrapped handler runs.
func HeadersMiddleware(issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetSecurityHeaders(w, issuer)
			next.ServeHTTP(w, r)
		})
	}
}
