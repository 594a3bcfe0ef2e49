package oauth

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/jose"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/server"
	"github.com/giantswarm/uma-oauth/session"
)

// Service wires an authorization server to its session manager and HTTP handler
type Service struct {
	Server   *server.Server
	Sessions *session.Manager
	Handler  *Handler
	Auditor  *security.Auditor
}

// ServiceConfig holds everything NewService needs besides storage and keys
type ServiceConfig struct {
	// Server configures the authorization server
	Server *server.Config

	// HTTP configures the handler
	HTTP *Config

	// Session configures the login cookie
	Session session.Config

	// SessionKey is the 32-byte cookie encryption key.
	// Without it the login, consent and ticket approval endpoints are disabled.
	SessionKey []byte

	// Audit enables security audit logging
	// Default: false
	Audit bool

	// Instrumentation enables metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// NewService creates the authorization server over stores and keys and the
// HTTP handler serving it. Use server.NewStores for a single backend.
func NewService(stores server.Stores, keys jose.KeyProvider, config ServiceConfig) (*Service, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := server.New(stores, keys, config.Server, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization server: %w", err)
	}

	auditor := security.NewAuditor(logger, config.Audit)
	auditor.SetInstrumentation(config.Instrumentation)
	srv.SetAuditor(auditor)
	srv.SetInstrumentation(config.Instrumentation)

	var sessions *session.Manager
	if len(config.SessionKey) > 0 {
		sessionConfig := config.Session
		if sessionConfig.Logger == nil {
			sessionConfig.Logger = logger
		}
		sessions, err = session.NewManager(sessionConfig, config.SessionKey, srv.Authenticator)
		if err != nil {
			return nil, fmt.Errorf("failed to create session manager: %w", err)
		}
		sessions.SetAuditor(auditor)
	}

	httpConfig := config.HTTP
	if httpConfig == nil {
		httpConfig = &Config{}
	}
	if httpConfig.Logger == nil {
		httpConfig.Logger = logger
	}
	handler := NewHandler(srv, sessions, httpConfig)
	handler.SetInstrumentation(config.Instrumentation)

	return &Service{
		Server:   srv,
		Sessions: sessions,
		Handler:  handler,
		Auditor:  auditor,
	}, nil
}

// Close stops the background work of the handler
func (s *Service) Close() {
	s.Handler.Close()
}
