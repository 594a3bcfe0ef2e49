package uma

import "log/slog"

// Config holds evaluator configuration
type Config struct {
	// FriendlyNames overrides the display names reported for missing claims
	FriendlyNames map[string]string

	// AllowUnsignedClaimTokens accepts claim tokens with alg "none".
	// WARNING: anyone can then present any claim
	// Default: false
	AllowUnsignedClaimTokens bool

	// Logger for evaluation events
	// Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) applySecureDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
