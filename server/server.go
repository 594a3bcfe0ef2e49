package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/jose"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
	"github.com/giantswarm/uma-oauth/token"
	"github.com/giantswarm/uma-oauth/uma"
)

// Stores groups the repositories the server works on. Every field is
// required; one backend may serve several of them.
type Stores struct {
	Clients        storage.ClientStore
	ResourceOwners storage.ResourceOwnerStore
	Tokens         storage.TokenStore
	Flows          storage.FlowStore
	Tickets        storage.TicketStore
	Consents       storage.ConsentStore
	ResourceSets   storage.ResourceSetStore
	Policies       storage.PolicyStore
	Replay         storage.ReplayCache
}

// Backend is a storage implementation covering every repository, such as
// memory.Store.
type Backend interface {
	storage.ClientStore
	storage.ResourceOwnerStore
	storage.TokenStore
	storage.FlowStore
	storage.TicketStore
	storage.ConsentStore
	storage.ResourceSetStore
	storage.PolicyStore
	storage.ReplayCache
}

// NewStores uses b for every repository
func NewStores(b Backend) Stores {
	return Stores{
		Clients:        b,
		ResourceOwners: b,
		Tokens:         b,
		Flows:          b,
		Tickets:        b,
		Consents:       b,
		ResourceSets:   b,
		Policies:       b,
		Replay:         b,
	}
}

func (st Stores) validate() error {
	switch {
	case st.Clients == nil:
		return fmt.Errorf("client store is required")
	case st.ResourceOwners == nil:
		return fmt.Errorf("resource owner store is required")
	case st.Tokens == nil:
		return fmt.Errorf("token store is required")
	case st.Flows == nil:
		return fmt.Errorf("flow store is required")
	case st.Tickets == nil:
		return fmt.Errorf("ticket store is required")
	case st.Consents == nil:
		return fmt.Errorf("consent store is required")
	case st.ResourceSets == nil:
		return fmt.Errorf("resource set store is required")
	case st.Policies == nil:
		return fmt.Errorf("policy store is required")
	case st.Replay == nil:
		return fmt.Errorf("replay cache is required")
	}
	return nil
}

// Server implements the authorization server logic independent of HTTP.
type Server struct {
	stores Stores
	keys   jose.KeyProvider

	Issuer        *token.Issuer
	Codec         *jose.Codec
	Evaluator     *uma.Evaluator
	Authenticator ResourceOwnerAuthenticator
	Auditor       *security.Auditor
	Logger        *slog.Logger
	Config        *Config

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// New creates a new authorization server. keys signs ID tokens and
// self-contained access tokens and decrypts claim tokens.
func New(stores Stores, keys jose.KeyProvider, config *Config, logger *slog.Logger) (*Server, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	srv := &Server{
		stores: stores,
		keys:   keys,
		Config: config,
		Logger: logger,
	}

	// Validate HTTPS enforcement (OAuth 2.1 security requirement)
	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	resolver := jose.NewKeyResolver(config.JOSE, keys)
	srv.Codec = jose.NewCodec(config.JOSE, resolver, keys, stores.Clients)
	srv.Issuer = token.NewIssuer(config.Token, stores.Tokens, keys)
	srv.Evaluator = uma.NewEvaluator(config.UMA, stores.Policies, srv.Codec)
	srv.Authenticator = NewPasswordAuthenticator(stores.ResourceOwners)

	return srv, nil
}

// SetAuditor sets the security auditor of the server and its components
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	s.Issuer.SetAuditor(aud)
	s.Evaluator.SetAuditor(aud)
}

// SetInstrumentation enables tracing and metrics for the server and its components
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
	s.Issuer.SetInstrumentation(inst)
	s.Codec.SetInstrumentation(inst)
	s.Evaluator.SetInstrumentation(inst)
}

// SetAuthenticator replaces the resource owner authenticator of the password grant
func (s *Server) SetAuthenticator(a ResourceOwnerAuthenticator) {
	if a != nil {
		s.Authenticator = a
	}
}

// Keys returns the server key provider
func (s *Server) Keys() jose.KeyProvider {
	return s.keys
}

// Stores returns the repositories the server was created with
func (s *Server) Stores() Stores {
	return s.stores
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "server."+name)
}
