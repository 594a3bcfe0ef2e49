package token

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/uma-oauth/claims"
	"github.com/giantswarm/uma-oauth/internal/util"
)

// scopeClaims lists the resource owner claims each OpenID scope releases.
var scopeClaims = map[string][]string{
	"profile": {claims.Name, claims.GivenName, claims.FamilyName, claims.UpdatedAt},
	"email":   {claims.Email, claims.EmailVerified},
	"role":    {claims.Role},
}

func (i *Issuer) signIDToken(ctx context.Context, g Grant, accessToken string, now time.Time, accessTTL time.Duration) (string, error) {
	ttl := i.config.IDTokenTTL
	if ttl <= 0 {
		ttl = accessTTL
	}

	out := jwt.MapClaims{}
	if g.Owner != nil {
		for k, v := range releasedClaims(g.Owner.NormalizedClaims(), g.Scopes) {
			out[k] = v
		}
	}
	out["iss"] = i.config.Issuer
	out["sub"] = g.Subject
	out["aud"] = g.Client.ClientID
	out["iat"] = now.Unix()
	out["exp"] = now.Add(ttl).Unix()
	if !g.AuthTime.IsZero() {
		out["auth_time"] = g.AuthTime.Unix()
	}
	if g.Nonce != "" {
		out["nonce"] = g.Nonce
	}

	if i.keys == nil {
		return "", errNoKeys
	}
	key, err := i.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load signing key: %w", err)
	}
	atHash, err := AccessTokenHash(key.Algorithm, accessToken)
	if err != nil {
		return "", err
	}
	out["at_hash"] = atHash

	signed, err := i.sign(ctx, out)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return signed, nil
}

// releasedClaims keeps the claims granted scopes allow and types
// email_verified and updated_at as the OpenID Connect registry does.
func releasedClaims(set claims.Set, scopes []string) map[string]any {
	var types []string
	for scope, names := range scopeClaims {
		if util.ContainsString(scopes, scope) {
			types = append(types, names...)
		}
	}
	out := set.Filter(types...).Map()

	if v, ok := out[claims.EmailVerified].(string); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			out[claims.EmailVerified] = b
		}
	}
	if v, ok := out[claims.UpdatedAt].(string); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[claims.UpdatedAt] = n
		}
	}
	return out
}

// AccessTokenHash computes the at_hash of an access token: the left half of
// its hash with the ID token's algorithm, base64url encoded.
func AccessTokenHash(alg, accessToken string) (string, error) {
	var h hash.Hash
	switch alg {
	case "RS256", "PS256", "ES256", "HS256":
		h = sha256.New()
	case "RS384", "PS384", "ES384", "HS384":
		h = sha512.New384()
	case "RS512", "PS512", "ES512", "HS512", "EdDSA":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	h.Write([]byte(accessToken))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
