// Command uma-server runs the UMA 2.0 authorization server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	oauth "github.com/giantswarm/uma-oauth"
	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/jose"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/server"
	"github.com/giantswarm/uma-oauth/session"
	"github.com/giantswarm/uma-oauth/storage/memory"
	"github.com/giantswarm/uma-oauth/storage/sqlstore"
	"github.com/giantswarm/uma-oauth/storage/valkey"
	"github.com/giantswarm/uma-oauth/token"
)

// version is set at build time
var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-password":
			if err := hashPassword(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		case "generate-key":
			key, err := security.GenerateKey()
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(security.KeyToBase64(key))
			return
		case "version":
			fmt.Println(version)
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashPassword reads a password from stdin and prints its bcrypt hash, for
// client secrets and owner passwords in the bootstrap file.
func hashPassword() error {
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

func newLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var inst *instrumentation.Instrumentation
	if cfg.MetricsEnabled {
		inst, err = instrumentation.New(instrumentation.Config{
			Enabled:        true,
			ServiceName:    "uma-server",
			ServiceVersion: version,
			LogClientIPs:   cfg.LogClientIPs,
		})
		if err != nil {
			return fmt.Errorf("initializing instrumentation: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := inst.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to shut down instrumentation", "error", err)
			}
		}()
	}

	stores, closeStores, err := openStores(ctx, cfg, logger, inst)
	if err != nil {
		return err
	}
	defer closeStores()

	if cfg.BootstrapFile != "" {
		b, err := loadBootstrap(cfg.BootstrapFile)
		if err != nil {
			return err
		}
		if err := b.apply(ctx, stores); err != nil {
			return fmt.Errorf("applying bootstrap file: %w", err)
		}
		logger.Info("Bootstrap file applied", "clients", len(b.Clients), "owners", len(b.Owners))
	}

	keys, err := newKeyProvider(cfg, logger)
	if err != nil {
		return err
	}

	sessionKey, err := loadSessionKey(cfg, logger)
	if err != nil {
		return err
	}

	svc, err := oauth.NewService(stores, keys, oauth.ServiceConfig{
		Server: &server.Config{
			Issuer:            cfg.Issuer,
			AllowInsecureHTTP: cfg.AllowInsecureHTTP,
			AllowPKCEPlain:    cfg.AllowPKCEPlain,

			DisableRefreshTokenRotation: !cfg.RotateRefreshTokens,
			Token: token.Config{
				Mode:            cfg.TokenMode,
				AccessTokenTTL:  cfg.AccessTokenTTL,
				RefreshTokenTTL: cfg.RefreshTokenTTL,
			},
		},
		HTTP: &oauth.Config{
			ScopesSupported: cfg.ScopesSupported,
			RateLimit: oauth.RateLimitConfig{
				Rate:              cfg.RateLimit,
				Burst:             cfg.RateBurst,
				LoginRate:         cfg.LoginRateLimit,
				LoginBurst:        cfg.LoginRateBurst,
				TrustProxy:        cfg.TrustProxy,
				TrustedProxyCount: cfg.TrustedProxyCount,
			},
			Interaction: oauth.InteractionConfig{
				LoginURL:   cfg.LoginURL,
				ConsentURL: cfg.ConsentURL,
			},
		},
		Session: session.Config{
			CookieName: cfg.SessionCookie,
			TTL:        cfg.SessionTTL,
			Insecure:   strings.HasPrefix(cfg.Issuer, "http://"),
		},
		SessionKey:      sessionKey,
		Audit:           cfg.AuditLog,
		Instrumentation: inst,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Mount("/", svc.Handler.Routes())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting authorization server",
			"addr", cfg.ListenAddr,
			"issuer", cfg.Issuer,
			"storage", cfg.Storage,
			"token_mode", cfg.TokenMode,
			"tls", cfg.TLSCertFile != "",
		)
		var err error
		if cfg.TLSCertFile != "" {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down authorization server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// openStores builds the storage for cfg.Storage. Valkey holds clients, owners
// and the short-lived grant state; resource sets and policies live in SQLite.
func openStores(ctx context.Context, cfg *Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (server.Stores, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var stores server.Stores
	switch cfg.Storage {
	case storageValkey:
		vs, err := valkey.New(valkey.Config{
			Address:   cfg.ValkeyAddr,
			Password:  cfg.ValkeyPassword,
			DB:        cfg.ValkeyDB,
			KeyPrefix: cfg.ValkeyKeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return server.Stores{}, nil, fmt.Errorf("connecting to valkey: %w", err)
		}
		closers = append(closers, vs.Close)

		if cfg.OwnerEncryptionKey != "" {
			key, err := security.KeyFromBase64(cfg.OwnerEncryptionKey)
			if err != nil {
				closeAll()
				return server.Stores{}, nil, fmt.Errorf("UMA_OWNER_ENCRYPTION_KEY: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				closeAll()
				return server.Stores{}, nil, err
			}
			enc.SetInstrumentation(inst)
			vs.SetEncryptor(enc)
		}

		stores = server.Stores{
			Clients:        vs,
			ResourceOwners: vs,
			Tokens:         vs,
			Flows:          vs,
			Tickets:        vs,
			Consents:       vs,
			Replay:         vs,
		}
	default:
		ms := memory.New()
		ms.SetLogger(logger)
		ms.SetInstrumentation(inst)
		closers = append(closers, ms.Stop)
		stores = server.NewStores(ms)
	}

	if cfg.SQLiteDSN != "" {
		sq, err := sqlstore.Open(ctx, cfg.SQLiteDSN)
		if err != nil {
			closeAll()
			return server.Stores{}, nil, fmt.Errorf("opening sqlite: %w", err)
		}
		sq.SetLogger(logger)
		sq.SetInstrumentation(inst)
		closers = append(closers, func() {
			if err := sq.Close(); err != nil {
				logger.Warn("Failed to close sqlite", "error", err)
			}
		})
		stores.ResourceSets = sq
		stores.Policies = sq
	}

	return stores, closeAll, nil
}

func newKeyProvider(cfg *Config, logger *slog.Logger) (jose.KeyProvider, error) {
	if cfg.SigningKeyFile == "" {
		logger.Warn("No signing key configured, generating an ephemeral key; tokens will not survive a restart")
		p := jose.NewGeneratingProvider()
		p.SetLogger(logger)
		return p, nil
	}
	keys, err := jose.NewProviderFromConfig(jose.KeyConfig{
		KeyDir:            cfg.KeyDir,
		SigningKeyFile:    cfg.SigningKeyFile,
		FallbackKeyFiles:  cfg.FallbackKeyFiles,
		EncryptionKeyFile: cfg.EncryptionKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("loading keys: %w", err)
	}
	return keys, nil
}

func loadSessionKey(cfg *Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionKey != "" {
		key, err := security.KeyFromBase64(cfg.SessionKey)
		if err != nil {
			return nil, fmt.Errorf("UMA_SESSION_KEY: %w", err)
		}
		return key, nil
	}
	logger.Warn("No session key configured, generating an ephemeral key; sessions will not survive a restart")
	return security.GenerateKey()
}
