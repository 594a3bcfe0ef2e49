// Package security provides the security infrastructure shared by the
// authorization server: audit logging with hashed subjects, AES-256-GCM
// encryption at rest, per-identifier rate limiting, response security
// headers, client IP resolution and request IDs.
//
// # Rate Limiting
//
// RateLimiter is a token bucket per identifier (usually the client IP).
// Identifiers live in an LRU list capped at DefaultRateLimiterMaxEntries so a
// distributed flood cannot grow memory without bound; entries idle for 30
// minutes are purged every 5 minutes.
//
//	limiter := security.NewRateLimiter("token", 10, 20, logger)
//	defer limiter.Stop()
//
//	router.With(limiter.Middleware(func(r *http.Request) string {
//		return security.ClientIPFromContext(r.Context())
//	})).Post("/token", h.ServeToken)
//
// # Encryption
//
// Encryptor seals records before they reach an external store and protects
// session cookies. An empty key disables it and values pass through.
package security
