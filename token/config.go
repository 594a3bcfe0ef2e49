package token

import (
	"log/slog"
	"time"
)

// Access token formats
const (
	// ModeOpaque issues random access token values
	ModeOpaque = "opaque"

	// ModeJWT issues self-contained signed access tokens
	ModeJWT = "jwt"
)

// Default validity windows
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Config holds issuer configuration
type Config struct {
	// Issuer is the iss value of signed tokens and introspection responses
	Issuer string

	// Mode selects the access token format: ModeOpaque or ModeJWT
	// Default: ModeOpaque
	Mode string

	// AccessTokenTTL is the default access token lifetime
	// Default: 1 hour
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the default refresh token lifetime
	// Default: 30 days
	RefreshTokenTTL time.Duration

	// IDTokenTTL is the ID token lifetime
	// Default: the effective access token lifetime of the grant
	IDTokenTTL time.Duration

	// ScopeLifetimes caps the access token lifetime when a scope is granted.
	// The shortest cap among the granted scopes wins.
	ScopeLifetimes map[string]time.Duration

	// Logger for issuer events
	// Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) applySecureDefaults() {
	if c.Mode == "" {
		c.Mode = ModeOpaque
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
