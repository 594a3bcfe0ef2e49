package oauth

import "time"

// Endpoint paths relative to the issuer
const (
	PathToken               = "/token"
	PathIntrospection       = "/introspect"
	PathRevocation          = "/token/revoke"
	PathAuthorize           = "/authorize"
	PathPermission          = "/permission"
	PathPermissionBulk      = "/permission/bulk"
	PathResourceSet         = "/resource_set"
	PathLogin               = "/login"
	PathLogout              = "/logout"
	PathConsent             = "/consent"
	PathTicket              = "/ticket"
	PathJWKS                = "/jwks"
	PathUMAConfiguration    = "/.well-known/uma2-configuration"
	PathOpenIDConfiguration = "/.well-known/openid-configuration"
	PathMetrics             = "/metrics"
)

// Handler defaults
const (
	// DefaultRateLimitRate is the default requests per second per client IP
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the default burst per client IP
	DefaultRateLimitBurst = 20

	// DefaultLoginRateLimitRate is the default login attempts per second per client IP
	DefaultLoginRateLimitRate = 1

	// DefaultLoginRateLimitBurst is the default login burst per client IP
	DefaultLoginRateLimitBurst = 5

	// DefaultMaxRequestBodyBytes bounds form and JSON request bodies (1 MiB)
	DefaultMaxRequestBodyBytes = 1 << 20

	// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age of discovery
	// documents and the JWKS, in seconds
	DefaultDiscoveryCacheMaxAge = 3600

	// DefaultRequestTimeout bounds the handling time of one request
	DefaultRequestTimeout = 30 * time.Second
)

const (
	tokenTypeBearer = "Bearer"

	contentTypeJSON = "application/json"
)
