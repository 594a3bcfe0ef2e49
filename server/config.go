package server

import (
	"log/slog"
	"time"

	"github.com/giantswarm/uma-oauth/jose"
	"github.com/giantswarm/uma-oauth/token"
	"github.com/giantswarm/uma-oauth/uma"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// TokenEndpoint is the absolute token endpoint URL accepted as the
	// audience of client assertions, in addition to Issuer.
	// Default: Issuer + "/token"
	TokenEndpoint string

	// AuthorizationCodeTTL is how long authorization codes are valid
	// Default: 10 minutes
	AuthorizationCodeTTL time.Duration

	// TicketTTL is how long UMA permission tickets are valid
	// Default: 5 minutes
	TicketTTL time.Duration

	// DisableRefreshTokenRotation keeps refresh tokens valid after use.
	// With rotation on (the default) every refresh token is single use
	// (OAuth 2.1) and presenting a rotated token again revokes its family.
	// WARNING: stolen refresh tokens stay usable until they expire
	// Default: false
	DisableRefreshTokenRotation bool

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// Default: false
	AllowPKCEPlain bool

	// AllowInsecureHTTP permits an http issuer outside localhost
	// WARNING: exposes every token and credential on the network
	// Default: false
	AllowInsecureHTTP bool

	// ClientAssertionMaxAge bounds how long a client assertion jti is
	// remembered and how far in the future its exp may lie
	// Default: 10 minutes
	ClientAssertionMaxAge time.Duration

	// ProtectionScope is the scope a protection API access token (PAT) needs
	// Default: "uma_protection"
	ProtectionScope string

	// Token configures the token issuer; its Issuer defaults to Issuer
	Token token.Config

	// JOSE configures claim token and client assertion processing
	JOSE jose.Config

	// UMA configures the policy evaluator
	UMA uma.Config
}

// Defaults
const (
	DefaultAuthorizationCodeTTL  = 10 * time.Minute
	DefaultTicketTTL             = 5 * time.Minute
	DefaultClientAssertionMaxAge = 10 * time.Minute
	DefaultProtectionScope       = "uma_protection"
)

// applySecureDefaults applies secure-by-default configuration values
// This follows the principle: secure by default, opt-in for less secure options
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applySecurityDefaults(config, logger)

	if config.TokenEndpoint == "" && config.Issuer != "" {
		config.TokenEndpoint = config.Issuer + "/token"
	}
	if config.ProtectionScope == "" {
		config.ProtectionScope = DefaultProtectionScope
	}
	if config.Token.Issuer == "" {
		config.Token.Issuer = config.Issuer
	}
	if config.Token.Logger == nil {
		config.Token.Logger = logger
	}
	if config.JOSE.Issuer == "" {
		config.JOSE.Issuer = config.Issuer
	}
	if config.JOSE.Logger == nil {
		config.JOSE.Logger = logger
	}
	if config.UMA.Logger == nil {
		config.UMA.Logger = logger
	}
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.TicketTTL <= 0 {
		config.TicketTTL = DefaultTicketTTL
	}
	if config.ClientAssertionMaxAge <= 0 {
		config.ClientAssertionMaxAge = DefaultClientAssertionMaxAge
	}
}

// applySecurityDefaults logs warnings for insecure settings. Every security
// flag defaults to its secure zero value, so nothing needs to be set here.
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.DisableRefreshTokenRotation {
		logger.Warn("⚠️  SECURITY WARNING: Refresh token rotation is DISABLED",
			"risk", "Stolen refresh tokens stay usable until they expire",
			"recommendation", "Set DisableRefreshTokenRotation=false for OAuth 2.1 compliance")
	}
	if config.AllowPKCEPlain {
		logger.Warn("⚠️  SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if config.UMA.AllowUnsignedClaimTokens {
		logger.Warn("⚠️  SECURITY WARNING: Unsigned claim tokens (alg=none) are ACCEPTED",
			"risk", "Requesting parties can present any claim they like",
			"recommendation", "Set UMA.AllowUnsignedClaimTokens=false")
	}
	if config.JOSE.AllowInternalJWKSURIs {
		logger.Warn("⚠️  SECURITY NOTICE: jwks_uri may point at internal hosts",
			"risk", "Server-side request forgery through client registrations",
			"recommendation", "Only enable for development or trusted client registries")
	}
}
