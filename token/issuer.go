package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/jose"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// TokenTypeBearer is the token_type of every issued access token
const TokenTypeBearer = "Bearer"

var (
	// ErrInvalidToken is returned for unknown, expired or revoked tokens and
	// for tokens presented by a client they were not issued to.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSubjectRequired is returned when an ID token is requested for a
	// grant without a resource owner.
	ErrSubjectRequired = errors.New("id token requires a subject")

	errNoKeys = errors.New("no signing keys configured")
)

// Grant describes what a grant type decided to issue.
type Grant struct {
	// Client receives the tokens; its lifetime overrides apply
	Client *storage.Client

	// Subject is the resource owner, empty for client credentials
	Subject string

	Scopes         []string
	IncludeRefresh bool
	IncludeIDToken bool

	// Nonce and AuthTime are copied into the ID token
	Nonce    string
	AuthTime time.Time

	// FamilyID groups tokens that descend from one authorization. A new
	// family is started when empty.
	FamilyID   string
	Generation int

	// Permissions are the UMA permissions of a requesting party token
	Permissions []storage.Permission

	// Owner supplies the claims of the ID token
	Owner *storage.ResourceOwner

	// ExtraClaims are added to self-contained access tokens
	ExtraClaims map[string]any
}

// Issued is the outcome of a successful grant, in token response shape.
type Issued struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// Access and Refresh are the persisted records
	Access  *storage.Token `json:"-"`
	Refresh *storage.Token `json:"-"`
}

// Issuer mints and validates tokens.
type Issuer struct {
	config  Config
	store   storage.TokenStore
	keys    jose.KeyProvider
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
	auditor *security.Auditor
}

// NewIssuer creates an issuer. keys signs ID tokens and, in jwt mode,
// access tokens; it may be nil for an opaque-only issuer.
func NewIssuer(cfg Config, store storage.TokenStore, keys jose.KeyProvider) *Issuer {
	cfg.applySecureDefaults()
	return &Issuer{
		config: cfg,
		store:  store,
		keys:   keys,
		logger: cfg.Logger,
	}
}

// SetInstrumentation enables tracing and metrics
func (i *Issuer) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	i.tracer = inst.Tracer("token")
	i.metrics = inst.Metrics()
}

// Config returns the effective configuration
func (i *Issuer) Config() Config {
	return i.config
}

// IssueTokens mints the tokens described by g and persists them atomically.
// On error nothing was stored.
func (i *Issuer) IssueTokens(ctx context.Context, g Grant) (*Issued, error) {
	ctx, span := i.startSpan(ctx, "issue")
	defer span.End()

	if g.Client == nil {
		return nil, fmt.Errorf("%w: grant has no client", storage.ErrInvalidInput)
	}
	if g.IncludeIDToken && g.Subject == "" {
		return nil, ErrSubjectRequired
	}

	now := time.Now()
	familyID := g.FamilyID
	if familyID == "" {
		familyID = uuid.NewString()
	}
	accessTTL := i.accessLifetime(g.Client, g.Scopes)

	access := &storage.Token{
		Type:        storage.TokenTypeAccess,
		ClientID:    g.Client.ClientID,
		Subject:     g.Subject,
		Scopes:      slices.Clone(g.Scopes),
		IssuedAt:    now,
		ExpiresIn:   accessTTL,
		FamilyID:    familyID,
		Generation:  g.Generation,
		Permissions: g.Permissions,
	}

	accessValue, err := i.mintAccessToken(ctx, access, g.ExtraClaims)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	out := &Issued{
		AccessToken: accessValue,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(accessTTL / time.Second),
		Scope:       util.FormatScopes(g.Scopes),
		Access:      access,
	}
	tokens := []*storage.Token{access}

	if g.IncludeRefresh {
		refresh := &storage.Token{
			Value:       oauth2.GenerateVerifier(),
			Type:        storage.TokenTypeRefresh,
			ClientID:    g.Client.ClientID,
			Subject:     g.Subject,
			Scopes:      slices.Clone(g.Scopes),
			IssuedAt:    now,
			ExpiresIn:   i.refreshLifetime(g.Client),
			ParentValue: access.Value,
			FamilyID:    familyID,
			Generation:  g.Generation,
			Permissions: g.Permissions,
		}
		tokens = append(tokens, refresh)
		out.RefreshToken = refresh.Value
		out.Refresh = refresh
	}

	if g.IncludeIDToken {
		idToken, err := i.signIDToken(ctx, g, accessValue, now, accessTTL)
		if err != nil {
			instrumentation.RecordError(span, err)
			return nil, err
		}
		out.IDToken = idToken
	}

	if err := i.store.SaveTokens(ctx, tokens...); err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to save tokens: %w", err)
	}

	span.SetAttributes(attribute.Int("token.count", len(tokens)))
	instrumentation.AddTokenFamilyAttributes(span, familyID, g.Generation)
	instrumentation.SetSpanSuccess(span)

	i.logger.Debug("Issued tokens",
		"client_id", g.Client.ClientID,
		"mode", i.config.Mode,
		"refresh", g.IncludeRefresh,
		"id_token", g.IncludeIDToken,
		"family_id", util.SafeTruncate(familyID, 8),
		"generation", g.Generation)

	return out, nil
}

// mintAccessToken sets access.Value and returns the value handed to the
// client: the same random string in opaque mode, a signed JWT keyed by its
// jti in jwt mode.
func (i *Issuer) mintAccessToken(ctx context.Context, access *storage.Token, extra map[string]any) (string, error) {
	if i.config.Mode != ModeJWT {
		access.Value = oauth2.GenerateVerifier()
		return access.Value, nil
	}

	access.Value = uuid.NewString()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["iss"] = i.config.Issuer
	claims["aud"] = access.ClientID
	claims["client_id"] = access.ClientID
	claims["iat"] = access.IssuedAt.Unix()
	claims["exp"] = access.ExpiresAt().Unix()
	claims["jti"] = access.Value
	if access.Subject != "" {
		claims["sub"] = access.Subject
	}
	if len(access.Scopes) > 0 {
		claims["scope"] = util.FormatScopes(access.Scopes)
	}
	if len(access.Permissions) > 0 {
		claims["permissions"] = access.Permissions
	}

	signed, err := i.sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// sign serializes claims as a JWT signed with the current server key.
func (i *Issuer) sign(ctx context.Context, claims jwt.Claims) (string, error) {
	if i.keys == nil {
		return "", errNoKeys
	}
	key, err := i.keys.SigningKey(ctx)
	if err != nil {
		return "", err
	}
	method := jwt.GetSigningMethod(key.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm %q", key.Algorithm)
	}
	t := jwt.NewWithClaims(method, claims)
	t.Header["kid"] = key.KeyID
	return t.SignedString(key.Key)
}

// accessLifetime applies the client override, then the scope caps.
func (i *Issuer) accessLifetime(client *storage.Client, scopes []string) time.Duration {
	ttl := i.config.AccessTokenTTL
	if client.AccessTokenLifetime > 0 {
		ttl = client.AccessTokenLifetime
	}
	for _, s := range scopes {
		if limit, ok := i.config.ScopeLifetimes[s]; ok && limit > 0 && limit < ttl {
			ttl = limit
		}
	}
	return ttl
}

func (i *Issuer) refreshLifetime(client *storage.Client) time.Duration {
	if client.RefreshTokenLifetime > 0 {
		return client.RefreshTokenLifetime
	}
	return i.config.RefreshTokenTTL
}

func (i *Issuer) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	if i.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return i.tracer.Start(ctx, "token."+op)
}
