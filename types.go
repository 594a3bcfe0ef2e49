package oauth

import (
	"github.com/giantswarm/uma-oauth/storage"
	"github.com/giantswarm/uma-oauth/uma"
)

// ErrorResponse represents an OAuth or UMA error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorDetails lists the claims a need_info response asks for
	ErrorDetails *uma.ErrorDetails `json:"error_details,omitempty"`

	// Ticket is the permission ticket to retry a uma-ticket grant with
	Ticket string `json:"ticket,omitempty"`
}

// ==================== Discovery ====================

// AuthorizationServerMetadata is served at /.well-known/uma2-configuration
// and /.well-known/openid-configuration (RFC 8414, OpenID Connect
// Discovery 1.0, UMA 2.0 Grant section 2).
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// JWKSURI is the URL of the server's public keys
	JWKSURI string `json:"jwks_uri"`

	// IntrospectionEndpoint is the URL of the RFC 7662 introspection endpoint
	IntrospectionEndpoint string `json:"introspection_endpoint"`

	// RevocationEndpoint is the URL of the RFC 7009 revocation endpoint
	RevocationEndpoint string `json:"revocation_endpoint"`

	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`

	// UMA 2.0

	// ResourceRegistrationEndpoint is the URL of the resource set registration API
	ResourceRegistrationEndpoint string `json:"resource_registration_endpoint,omitempty"`

	// PermissionEndpoint is the URL resource servers request tickets at
	PermissionEndpoint string `json:"permission_endpoint,omitempty"`

	// ClaimTokenProfilesSupported lists the accepted claim_token_format values
	ClaimTokenProfilesSupported []string `json:"claim_token_profiles_supported,omitempty"`

	// OpenID Connect

	SubjectTypesSupported            []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	ClaimsSupported                  []string `json:"claims_supported,omitempty"`
}

// ==================== Protection API ====================

// ResourceSetResponse answers resource set registration and update
type ResourceSetResponse struct {
	ID                  string `json:"_id"`
	UserAccessPolicyURI string `json:"user_access_policy_uri,omitempty"`
}

// ResourceSetDescription is a registered resource set
type ResourceSetDescription struct {
	ID      string   `json:"_id"`
	Name    string   `json:"name"`
	URI     string   `json:"uri,omitempty"`
	Type    string   `json:"type,omitempty"`
	IconURI string   `json:"icon_uri,omitempty"`
	Scopes  []string `json:"scopes"`
}

func newResourceSetDescription(rs *storage.ResourceSet) ResourceSetDescription {
	return ResourceSetDescription{
		ID:      rs.ID,
		Name:    rs.Name,
		URI:     rs.URI,
		Type:    rs.Type,
		IconURI: rs.IconURI,
		Scopes:  rs.Scopes,
	}
}

// PermissionResponse carries the ticket of a permission request
type PermissionResponse struct {
	Ticket string `json:"ticket"`
}

// BulkPermissionResponse carries one ticket per permission request, in order
type BulkPermissionResponse struct {
	Tickets []string `json:"tickets"`
}

// PolicyRequest replaces the rules of a resource set's policy
type PolicyRequest struct {
	Rules []storage.PolicyRule `json:"rules"`
}

// PolicyResponse is a policy attached to a resource set
type PolicyResponse struct {
	ID             string               `json:"id"`
	ResourceSetIDs []string             `json:"resource_set_ids"`
	Rules          []storage.PolicyRule `json:"rules"`
}

func newPolicyResponse(p *storage.Policy) PolicyResponse {
	return PolicyResponse{
		ID:             p.ID,
		ResourceSetIDs: p.ResourceSetIDs,
		Rules:          p.Rules,
	}
}

// ==================== Interaction ====================

// InteractionRequired tells a user agent that the authorization request
// can only continue after the resource owner signs in or consents.
type InteractionRequired struct {
	// Interaction is "login" or "consent"
	Interaction string `json:"interaction"`

	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name,omitempty"`
	Scope      string `json:"scope,omitempty"`

	// ReturnTo resumes the authorization request
	ReturnTo string `json:"return_to"`
}

// LoginResponse is returned by a login without a return_to target
type LoginResponse struct {
	Subject  string `json:"sub"`
	AuthTime int64  `json:"auth_time"`
}
