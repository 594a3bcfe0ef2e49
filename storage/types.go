package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/giantswarm/uma-oauth/claims"
)

// Token types
const (
	TokenTypeAccess  = "access_token"
	TokenTypeRefresh = "refresh_token"
)

// Token endpoint authentication methods
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretJWT   = "client_secret_jwt"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodTLSClientAuth     = "tls_client_auth"
	AuthMethodNone              = "none"
)

// Client secret types
const (
	SecretTypeSharedSecret   = "shared_secret"
	SecretTypeX509Thumbprint = "x509_thumbprint"
	SecretTypeX509Name       = "x509_name"
)

// ClientSecret is one credential of a client. Shared secrets hold a bcrypt
// hash; certificate secrets hold a hex SHA-256 thumbprint or a subject DN.
type ClientSecret struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Client represents a registered OAuth client
type Client struct {
	ClientID                string
	ClientName              string
	Secrets                 []ClientSecret
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	AllowedScopes           []string
	JSONWebKeys             jose.JSONWebKeySet
	JwksURI                 string
	RedirectURIs            []string
	RequirePKCE             bool

	// Lifetime overrides; zero uses the server defaults.
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration

	CreatedAt time.Time
}

// HasLocalKeys reports whether the client registered keys inline.
func (c *Client) HasLocalKeys() bool {
	return len(c.JSONWebKeys.Keys) > 0
}

// SecretsOfType returns the client's secrets of the given type.
func (c *Client) SecretsOfType(secretType string) []ClientSecret {
	var out []ClientSecret
	for _, s := range c.Secrets {
		if s.Type == secretType {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the write-time invariants of a client.
func (c *Client) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidInput)
	}
	switch c.TokenEndpointAuthMethod {
	case AuthMethodClientSecretBasic, AuthMethodClientSecretPost:
		if len(c.SecretsOfType(SecretTypeSharedSecret)) == 0 {
			return fmt.Errorf("%w: %s requires a shared secret", ErrInvalidInput, c.TokenEndpointAuthMethod)
		}
	case AuthMethodClientSecretJWT, AuthMethodPrivateKeyJWT:
		if !c.HasLocalKeys() && c.JwksURI == "" {
			return fmt.Errorf("%w: %s requires json web keys or a jwks_uri", ErrInvalidInput, c.TokenEndpointAuthMethod)
		}
	case AuthMethodTLSClientAuth:
		if len(c.SecretsOfType(SecretTypeX509Thumbprint)) == 0 && len(c.SecretsOfType(SecretTypeX509Name)) == 0 {
			return fmt.Errorf("%w: tls_client_auth requires a certificate thumbprint or name", ErrInvalidInput)
		}
	case AuthMethodNone:
	default:
		return fmt.Errorf("%w: unsupported token endpoint auth method %q", ErrInvalidInput, c.TokenEndpointAuthMethod)
	}
	return nil
}

// ExternalLogin links a resource owner to an account at another identity provider.
type ExternalLogin struct {
	Issuer  string `json:"issuer" yaml:"issuer"`
	Subject string `json:"subject" yaml:"subject"`
}

// ResourceOwner is an end user able to grant access.
type ResourceOwner struct {
	ID                      string
	PasswordHash            string
	Claims                  claims.Set
	IsLocalAccount          bool
	TwoFactorAuthentication string
	ExternalLogins          []ExternalLogin
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NormalizedClaims returns the owner's claims with the sub claim forced to ID.
func (o *ResourceOwner) NormalizedClaims() claims.Set {
	return o.Claims.Replace(claims.Subject, o.ID)
}

// Permission is a resource set and the scopes granted on it (UMA RPT claim).
type Permission struct {
	ResourceSetID string   `json:"resource_id"`
	Scopes        []string `json:"resource_scopes"`
}

// Token is an issued access or refresh token. For self-contained tokens
// Value holds the jti of the signed JWT.
type Token struct {
	Value       string
	Type        string
	ClientID    string
	Subject     string // empty for client credentials
	Scopes      []string
	IssuedAt    time.Time
	ExpiresIn   time.Duration
	ParentValue string // refresh tokens: the access token issued in the same grant
	FamilyID    string
	Generation  int
	Permissions []Permission
}

// ExpiresAt returns the absolute expiry time.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.ExpiresIn)
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	Subject             string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	AuthTime            time.Time
	IssuedAt            time.Time
	ExpiresAt           time.Time
	Used                bool
}

// TicketLine is one resource set and the scopes requested on it.
type TicketLine struct {
	ResourceSetID string   `json:"resource_set_id"`
	Scopes        []string `json:"scopes"`
}

// Ticket is a UMA permission ticket: a pending permission request.
type Ticket struct {
	ID               string
	ClientID         string // resource server that requested the ticket
	Owner            string // resource owner of every line's resource set
	Lines            []TicketLine
	IsAuthorizedByRO bool
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Used             bool
}

// Consent records the scopes a resource owner granted to a client.
type Consent struct {
	Subject   string
	ClientID  string
	Scopes    []string
	GrantedAt time.Time
}

// ResourceSet is a protected resource registered by a resource server.
type ResourceSet struct {
	ID        string
	Name      string
	URI       string
	Type      string
	IconURI   string
	Scopes    []string
	Owner     string
	PolicyIDs []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClaimRequirement is a claim a requesting party must present.
type ClaimRequirement struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// PolicyRule is one alternative of a policy. Every condition of a rule must
// hold for it to match.
type PolicyRule struct {
	ID                           string             `json:"id"`
	ClientIDsAllowed             []string           `json:"clients,omitempty"`
	Scopes                       []string           `json:"scopes"`
	Claims                       []ClaimRequirement `json:"claims,omitempty"`
	IsResourceOwnerConsentNeeded bool               `json:"consent_needed"`
	OpenIDProvider               string             `json:"openid_provider,omitempty"`
	Script                       string             `json:"script,omitempty"`
}

// Policy is an ordered list of rules attached to one or more resource sets.
type Policy struct {
	ID             string
	ResourceSetIDs []string
	Rules          []PolicyRule
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of c.
func (c *Client) Clone() *Client {
	cp := *c
	cp.Secrets = slices.Clone(c.Secrets)
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	cp.ResponseTypes = slices.Clone(c.ResponseTypes)
	cp.AllowedScopes = slices.Clone(c.AllowedScopes)
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.JSONWebKeys.Keys = slices.Clone(c.JSONWebKeys.Keys)
	return &cp
}

// Clone returns a copy of o. Claims are immutable and shared.
func (o *ResourceOwner) Clone() *ResourceOwner {
	cp := *o
	cp.ExternalLogins = slices.Clone(o.ExternalLogins)
	return &cp
}

// Clone returns a deep copy of t.
func (t *Token) Clone() *Token {
	cp := *t
	cp.Scopes = slices.Clone(t.Scopes)
	if t.Permissions != nil {
		cp.Permissions = make([]Permission, len(t.Permissions))
		for i, p := range t.Permissions {
			cp.Permissions[i] = Permission{ResourceSetID: p.ResourceSetID, Scopes: slices.Clone(p.Scopes)}
		}
	}
	return &cp
}

// Clone returns a deep copy of c.
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// Clone returns a deep copy of t.
func (t *Ticket) Clone() *Ticket {
	cp := *t
	if t.Lines != nil {
		cp.Lines = make([]TicketLine, len(t.Lines))
		for i, l := range t.Lines {
			cp.Lines[i] = TicketLine{ResourceSetID: l.ResourceSetID, Scopes: slices.Clone(l.Scopes)}
		}
	}
	return &cp
}

// Clone returns a deep copy of c.
func (c *Consent) Clone() *Consent {
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// Clone returns a deep copy of rs.
func (rs *ResourceSet) Clone() *ResourceSet {
	cp := *rs
	cp.Scopes = slices.Clone(rs.Scopes)
	cp.PolicyIDs = slices.Clone(rs.PolicyIDs)
	return &cp
}

// ScopesOutside returns the scopes used by the policy's rules that are not
// in scopes, without duplicates.
func (p *Policy) ScopesOutside(scopes []string) []string {
	var out []string
	for _, rule := range p.Rules {
		for _, scope := range rule.Scopes {
			if !slices.Contains(scopes, scope) && !slices.Contains(out, scope) {
				out = append(out, scope)
			}
		}
	}
	return out
}

// Clone returns a deep copy of p.
func (p *Policy) Clone() *Policy {
	cp := *p
	cp.ResourceSetIDs = slices.Clone(p.ResourceSetIDs)
	if p.Rules != nil {
		cp.Rules = make([]PolicyRule, len(p.Rules))
		for i, r := range p.Rules {
			r.ClientIDsAllowed = slices.Clone(r.ClientIDsAllowed)
			r.Scopes = slices.Clone(r.Scopes)
			r.Claims = slices.Clone(r.Claims)
			cp.Rules[i] = r
		}
	}
	return &cp
}
