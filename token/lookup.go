package token

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

var serverSigningMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Introspection is an RFC 7662 introspection response.
type Introspection struct {
	Active      bool                 `json:"active"`
	Scope       string               `json:"scope,omitempty"`
	ClientID    string               `json:"client_id,omitempty"`
	Subject     string               `json:"sub,omitempty"`
	TokenType   string               `json:"token_type,omitempty"`
	ExpiresAt   int64                `json:"exp,omitempty"`
	IssuedAt    int64                `json:"iat,omitempty"`
	Issuer      string               `json:"iss,omitempty"`
	JTI         string               `json:"jti,omitempty"`
	Permissions []storage.Permission `json:"permissions,omitempty"`
}

// SetAuditor enables security audit events for revocations
func (i *Issuer) SetAuditor(a *security.Auditor) {
	i.auditor = a
}

// Lookup resolves a presented token to its live record. Signed access
// tokens are verified against the server keys and resolved by jti. Unknown,
// expired, revoked and forged tokens yield ErrInvalidToken.
func (i *Issuer) Lookup(ctx context.Context, value string) (*storage.Token, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	key := value
	signed := isJWT(value)
	if signed {
		jti, err := i.verifyJWT(ctx, value)
		if err != nil {
			i.logger.Debug("Signed token rejected", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		key = jti
	} else if _, err := uuid.Parse(value); err == nil {
		// a jti alone is not a bearer credential
		return nil, fmt.Errorf("%w: unknown token", ErrInvalidToken)
	}

	tok, err := i.store.GetToken(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if signed && tok.Type != storage.TokenTypeAccess {
		return nil, fmt.Errorf("%w: unknown token", ErrInvalidToken)
	}
	return tok, nil
}

// Revoke deletes the token value presented by clientID. Revoking a refresh
// token leaves the access token issued with it valid and the other way
// round. typeHint only informs logging; the stored type is authoritative.
func (i *Issuer) Revoke(ctx context.Context, value, typeHint, clientID string) error {
	ctx, span := i.startSpan(ctx, "revoke")
	defer span.End()

	tok, err := i.Lookup(ctx, value)
	if err != nil {
		return err
	}
	if tok.ClientID != clientID {
		// SECURITY: a client may only revoke its own tokens; the response
		// does not reveal that the token exists.
		i.logger.Warn("Token revocation by foreign client",
			"client_id", clientID,
			"token_type", tok.Type)
		i.auditor.LogAuthFailure(tok.Subject, clientID, "", "revocation_client_mismatch")
		return fmt.Errorf("%w: client mismatch", ErrInvalidToken)
	}

	if err := i.store.DeleteToken(ctx, tok.Value); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	if i.metrics != nil {
		i.metrics.RecordTokenRevocation(ctx, clientID)
	}
	i.auditor.LogTokenRevoked(tok.Subject, clientID, "", tok.Type)
	i.logger.Info("Token revoked",
		"client_id", clientID,
		"token_type", tok.Type,
		"type_hint", typeHint,
		"family_id", util.SafeTruncate(tok.FamilyID, 8))
	return nil
}

// Introspect reports the state of a token. Expired, revoked and unknown
// tokens are inactive and carry no other field.
func (i *Issuer) Introspect(ctx context.Context, value, typeHint string) Introspection {
	ctx, span := i.startSpan(ctx, "introspect")
	defer span.End()

	tok, err := i.Lookup(ctx, value)
	active := err == nil
	if i.metrics != nil {
		i.metrics.RecordTokenIntrospection(ctx, active)
	}
	if !active {
		i.logger.Debug("Inactive token introspected", "type_hint", typeHint, "error", err)
		return Introspection{Active: false}
	}

	out := Introspection{
		Active:      true,
		Scope:       util.FormatScopes(tok.Scopes),
		ClientID:    tok.ClientID,
		Subject:     tok.Subject,
		TokenType:   tok.Type,
		ExpiresAt:   tok.ExpiresAt().Unix(),
		IssuedAt:    tok.IssuedAt.Unix(),
		Issuer:      i.config.Issuer,
		Permissions: tok.Permissions,
	}
	if isJWT(value) {
		out.JTI = tok.Value
	}
	return out
}

// verifyJWT checks a self-contained access token and returns its jti.
func (i *Issuer) verifyJWT(ctx context.Context, value string) (string, error) {
	if i.keys == nil {
		return "", errNoKeys
	}
	set, err := i.keys.PublicJWKS(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load server keys: %w", err)
	}

	parsed, err := jwt.Parse(value, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		for _, k := range set.Key(kid) {
			if k.Use == "" || k.Use == "sig" {
				return k.Key, nil
			}
		}
		return nil, fmt.Errorf("unknown key id %q", kid)
	},
		jwt.WithValidMethods(serverSigningMethods),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(security.DefaultClockSkewGracePeriod),
	)
	if err != nil {
		return "", err
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	jti, _ := mc["jti"].(string)
	if jti == "" {
		return "", errors.New("missing jti")
	}
	return jti, nil
}

func isJWT(value string) bool {
	return strings.Count(value, ".") == 2
}
