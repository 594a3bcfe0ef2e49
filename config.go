package oauth

import (
	"log/slog"
	"time"
)

// Config holds the HTTP handler configuration.
// Authorization server behaviour is configured on server.Config.
type Config struct {
	// RateLimit configures per-IP rate limiting of the OAuth endpoints
	RateLimit RateLimitConfig

	// Interaction configures where resource owners sign in and consent
	Interaction InteractionConfig

	// ScopesSupported is advertised in the discovery documents
	ScopesSupported []string

	// MaxRequestBodyBytes bounds form and JSON request bodies
	// Default: 1 MiB
	MaxRequestBodyBytes int64

	// DiscoveryCacheMaxAge is the Cache-Control max-age of the discovery
	// documents and the JWKS, in seconds
	// Default: 3600
	DiscoveryCacheMaxAge int

	// RequestTimeout bounds the handling time of one request
	// Default: 30 seconds
	RequestTimeout time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Negative disables limiting.
	// Default: 10
	Rate int

	// Burst is the maximum burst size allowed per IP.
	// Default: 20
	Burst int

	// LoginRate is login attempts per second allowed per IP.
	// Default: 1
	LoginRate int

	// LoginBurst is the maximum login burst allowed per IP.
	// Default: 5
	LoginBurst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of the server
	// Default: 1
	TrustedProxyCount int
}

// InteractionConfig points the authorization endpoint at an external login
// and consent UI. Without it the endpoint answers with a JSON description of
// the required interaction.
type InteractionConfig struct {
	// LoginURL receives the user agent when nobody is signed in; the
	// authorization request to resume is passed as the return_to parameter
	LoginURL string

	// ConsentURL receives the user agent when consent is missing; client_id,
	// scope and return_to are passed as parameters
	ConsentURL string
}

// applyDefaults fills in zero values
func (c *Config) applyDefaults() {
	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = DefaultRateLimitRate
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.RateLimit.LoginRate == 0 {
		c.RateLimit.LoginRate = DefaultLoginRateLimitRate
	}
	if c.RateLimit.LoginBurst == 0 {
		c.RateLimit.LoginBurst = DefaultLoginRateLimitBurst
	}
	if c.RateLimit.TrustProxy && c.RateLimit.TrustedProxyCount == 0 {
		c.RateLimit.TrustedProxyCount = 1
	}
	if c.MaxRequestBodyBytes <= 0 {
		c.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	if c.DiscoveryCacheMaxAge <= 0 {
		c.DiscoveryCacheMaxAge = DefaultDiscoveryCacheMaxAge
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// rateLimitingEnabled reports whether the OAuth endpoints are rate limited
func (c *Config) rateLimitingEnabled() bool {
	return c.RateLimit.Rate > 0
}
