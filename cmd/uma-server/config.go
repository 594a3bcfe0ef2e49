package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/giantswarm/uma-oauth/token"
)

// Storage backends
const (
	storageMemory = "memory"
	storageValkey = "valkey"
)

// Config holds the server settings, read from UMA_ prefixed environment variables.
type Config struct {
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`
	TLSCertFile     string        `env:"TLS_CERT_FILE"`
	TLSKeyFile      string        `env:"TLS_KEY_FILE"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Issuer            string   `env:"ISSUER,required"`
	AllowInsecureHTTP bool     `env:"ALLOW_INSECURE_HTTP" envDefault:"false"`
	AllowPKCEPlain    bool     `env:"ALLOW_PKCE_PLAIN" envDefault:"false"`
	ScopesSupported   []string `env:"SCOPES_SUPPORTED" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	AuditLog  bool   `env:"AUDIT_LOG" envDefault:"true"`

	Storage            string `env:"STORAGE" envDefault:"memory"`
	ValkeyAddr         string `env:"VALKEY_ADDR"`
	ValkeyPassword     string `env:"VALKEY_PASSWORD"`
	ValkeyDB           int    `env:"VALKEY_DB" envDefault:"0"`
	ValkeyKeyPrefix    string `env:"VALKEY_KEY_PREFIX" envDefault:"{uma}:"`
	SQLiteDSN          string `env:"SQLITE_DSN"`
	OwnerEncryptionKey string `env:"OWNER_ENCRYPTION_KEY"`
	BootstrapFile      string `env:"BOOTSTRAP_FILE"`

	KeyDir            string   `env:"KEY_DIR"`
	SigningKeyFile    string   `env:"SIGNING_KEY_FILE"`
	FallbackKeyFiles  []string `env:"FALLBACK_KEY_FILES" envSeparator:","`
	EncryptionKeyFile string   `env:"ENCRYPTION_KEY_FILE"`

	TokenMode           string        `env:"TOKEN_MODE" envDefault:"opaque"`
	AccessTokenTTL      time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL     time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	RotateRefreshTokens bool          `env:"ROTATE_REFRESH_TOKENS" envDefault:"true"`

	SessionKey    string        `env:"SESSION_KEY"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"8h"`
	SessionCookie string        `env:"SESSION_COOKIE"`
	LoginURL      string        `env:"LOGIN_URL"`
	ConsentURL    string        `env:"CONSENT_URL"`

	RateLimit         int  `env:"RATE_LIMIT" envDefault:"10"`
	RateBurst         int  `env:"RATE_BURST" envDefault:"20"`
	LoginRateLimit    int  `env:"LOGIN_RATE_LIMIT" envDefault:"1"`
	LoginRateBurst    int  `env:"LOGIN_RATE_BURST" envDefault:"5"`
	TrustProxy        bool `env:"TRUST_PROXY" envDefault:"false"`
	TrustedProxyCount int  `env:"TRUSTED_PROXY_COUNT" envDefault:"1"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"false"`
	LogClientIPs   bool `env:"METRICS_LOG_CLIENT_IPS" envDefault:"false"`
}

// loadConfig reads an optional .env file and then the environment.
func loadConfig() (*Config, error) {
	_ = godotenv.Load()
	return parseConfig(nil)
}

// parseConfig parses cfg from environ, or from the process environment when environ is nil.
func parseConfig(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: "UMA_"}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case storageMemory:
	case storageValkey:
		if c.ValkeyAddr == "" {
			return fmt.Errorf("UMA_VALKEY_ADDR is required with valkey storage")
		}
		if c.SQLiteDSN == "" {
			return fmt.Errorf("UMA_SQLITE_DSN is required with valkey storage")
		}
	default:
		return fmt.Errorf("unsupported storage %q, want memory or valkey", c.Storage)
	}

	switch c.TokenMode {
	case token.ModeOpaque, token.ModeJWT:
	default:
		return fmt.Errorf("unsupported token mode %q, want opaque or jwt", c.TokenMode)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q, want json or text", c.LogFormat)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("UMA_TLS_CERT_FILE and UMA_TLS_KEY_FILE must be set together")
	}
	if len(c.FallbackKeyFiles) > 0 && c.SigningKeyFile == "" {
		return fmt.Errorf("UMA_FALLBACK_KEY_FILES requires UMA_SIGNING_KEY_FILE")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("UMA_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
