package security

import "time"

// DefaultClockSkewGracePeriod tolerates small clock differences between the
// server and the stores or clients it talks to. Expiry checks treat a value
// as expired only once it is older than this.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired reports whether expiresAt has passed, allowing the default
// clock skew. A zero time never expires.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod is IsTokenExpired with a custom grace period
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

// RemainingLifetime returns how long until expiresAt, or zero if it passed.
func RemainingLifetime(expiresAt time.Time) time.Duration {
	d := time.Until(expiresAt)
	if d < 0 {
		return 0
	}
	return d
}
