package oauth

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/giantswarm/uma-oauth/claims"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/server"
	"github.com/giantswarm/uma-oauth/storage"
	"github.com/giantswarm/uma-oauth/uma"
)

// responseTypesSupported lists every accepted combination of code, token and id_token
var responseTypesSupported = []string{
	"code",
	"token",
	"id_token",
	"code token",
	"code id_token",
	"id_token token",
	"code id_token token",
}

var authMethodsSupported = []string{
	storage.AuthMethodClientSecretBasic,
	storage.AuthMethodClientSecretPost,
	storage.AuthMethodClientSecretJWT,
	storage.AuthMethodPrivateKeyJWT,
	storage.AuthMethodTLSClientAuth,
	storage.AuthMethodNone,
}

var claimsSupported = []string{
	claims.Subject,
	claims.Name,
	claims.GivenName,
	claims.FamilyName,
	claims.Email,
	claims.EmailVerified,
	claims.Role,
	claims.UpdatedAt,
}

// ServeUMAConfiguration serves /.well-known/uma2-configuration
func (h *Handler) ServeUMAConfiguration(w http.ResponseWriter, r *http.Request) {
	h.serveMetadata(w, r)
}

// ServeOpenIDConfiguration serves /.well-known/openid-configuration.
// It carries the same document as the UMA configuration.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	h.serveMetadata(w, r)
}

func (h *Handler) serveMetadata(w http.ResponseWriter, r *http.Request) {
	metadata, err := h.buildMetadata(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	security.SetCacheableHeaders(w, h.issuer(), h.config.DiscoveryCacheMaxAge)
	h.writeJSON(w, http.StatusOK, metadata)
}

func (h *Handler) buildMetadata(r *http.Request) (*AuthorizationServerMetadata, error) {
	algs, err := h.signingAlgorithms(r)
	if err != nil {
		return nil, err
	}

	pkce := []string{server.PKCEMethodS256}
	if h.server.Config.AllowPKCEPlain {
		pkce = append(pkce, server.PKCEMethodPlain)
	}

	return &AuthorizationServerMetadata{
		Issuer:                            h.issuer(),
		AuthorizationEndpoint:             h.endpoint(PathAuthorize),
		TokenEndpoint:                     h.endpoint(PathToken),
		JWKSURI:                           h.endpoint(PathJWKS),
		IntrospectionEndpoint:             h.endpoint(PathIntrospection),
		RevocationEndpoint:                h.endpoint(PathRevocation),
		ScopesSupported:                   h.config.ScopesSupported,
		ResponseTypesSupported:            responseTypesSupported,
		GrantTypesSupported:               server.SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: authMethodsSupported,
		CodeChallengeMethodsSupported:     pkce,
		ResourceRegistrationEndpoint:      h.endpoint(PathResourceSet),
		PermissionEndpoint:                h.endpoint(PathPermission),
		ClaimTokenProfilesSupported:       []string{uma.ClaimTokenFormatIDToken, uma.ClaimTokenFormatJWT},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  algs,
		ClaimsSupported:                   claimsSupported,
	}, nil
}

// signingAlgorithms returns the algorithms of the published signing keys
func (h *Handler) signingAlgorithms(r *http.Request) ([]string, error) {
	set, err := h.server.Keys().PublicJWKS(r.Context())
	if err != nil {
		return nil, err
	}
	var algs []string
	for _, key := range set.Keys {
		if key.Use != "sig" || key.Algorithm == "" || slices.Contains(algs, key.Algorithm) {
			continue
		}
		algs = append(algs, key.Algorithm)
	}
	return algs, nil
}

// ServeJWKS publishes the public signing and encryption keys
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := h.server.Keys().PublicJWKS(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	security.SetCacheableHeaders(w, h.issuer(), h.config.DiscoveryCacheMaxAge)
	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(set); err != nil {
		h.logger.Warn("Failed to encode JWKS", "error", err)
	}
}
