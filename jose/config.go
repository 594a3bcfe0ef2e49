package jose

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds a single jwks_uri request
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxJWKSSize caps the body of a remote key set (1 MiB)
	DefaultMaxJWKSSize int64 = 1 << 20
)

// Config controls how JOSE artifacts are accepted.
type Config struct {
	// Issuer is the server's own issuer. Tokens from this issuer are checked
	// against the server key set instead of a discovered jwks_uri.
	Issuer string

	// AllowInternalJWKSURIs permits fetching key sets from loopback, private
	// and link-local addresses. Off by default; tests and single-host
	// deployments turn it on.
	AllowInternalJWKSURIs bool

	// HTTPClient fetches remote key sets. Defaults to a client with FetchTimeout.
	HTTPClient *http.Client

	// FetchTimeout bounds each remote key set fetch (default: 10s)
	FetchTimeout time.Duration

	// MaxJWKSSize caps the size of a remote key set body (default: 1 MiB)
	MaxJWKSSize int64

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

func (c *Config) applySecureDefaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MaxJWKSSize <= 0 {
		c.MaxJWKSSize = DefaultMaxJWKSSize
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.FetchTimeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
