package storage

import (
	"context"
	"time"

	"github.com/giantswarm/uma-oauth/claims"
)

//go:generate mockgen -destination=mock/mock_storage.go -package=mock -source=storage.go ClientStore,TokenStore,ResourceSetStore,PolicyStore,ReplayCache

// ClientStore manages registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient creates or replaces a client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client. Tokens that still reference it are
	// tolerated and treated as invalid on lookup.
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients lists all registered clients
	ListClients(ctx context.Context) ([]*Client, error)
}

// ResourceOwnerStore manages resource owners.
type ResourceOwnerStore interface {
	// SaveResourceOwner creates or replaces a resource owner
	SaveResourceOwner(ctx context.Context, owner *ResourceOwner) error

	// GetResourceOwner retrieves a resource owner by subject
	GetResourceOwner(ctx context.Context, subject string) (*ResourceOwner, error)

	// UpdateClaims replaces the claims of a resource owner
	UpdateClaims(ctx context.Context, subject string, set claims.Set) error

	// UpdatePassword replaces the bcrypt password hash of a resource owner
	UpdatePassword(ctx context.Context, subject, passwordHash string) error
}

// TokenStore persists issued access and refresh tokens.
type TokenStore interface {
	// SaveTokens persists all tokens of one grant. Either every token is
	// stored or none is.
	SaveTokens(ctx context.Context, tokens ...*Token) error

	// GetToken retrieves a token by value. Expired tokens yield ErrTokenExpired.
	GetToken(ctx context.Context, value string) (*Token, error)

	// DeleteToken removes a token. A missing token yields ErrTokenNotFound.
	DeleteToken(ctx context.Context, value string) error

	// ConsumeRefreshToken atomically retrieves and deletes a refresh token.
	// The consumed value is remembered until it would have expired: a second
	// call returns the original token together with ErrTokenReused so the
	// caller can revoke the family.
	// SECURITY: This operation MUST be atomic.
	ConsumeRefreshToken(ctx context.Context, value string) (*Token, error)

	// RevokeFamily deletes every token carrying familyID and returns how
	// many were removed.
	RevokeFamily(ctx context.Context, familyID string) (int, error)
}

// FlowStore manages authorization codes.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without modifying it
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// AtomicCheckAndMarkAuthCodeUsed atomically checks that a code is unused
	// and marks it as used. On reuse it returns the code together with
	// ErrAuthorizationCodeUsed; otherwise errors carry no code.
	// SECURITY: This operation MUST be atomic.
	AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TicketStore manages UMA permission tickets.
type TicketStore interface {
	// SaveTicket saves a permission ticket
	SaveTicket(ctx context.Context, ticket *Ticket) error

	// GetTicket retrieves a ticket without modifying it
	GetTicket(ctx context.Context, id string) (*Ticket, error)

	// AtomicCheckAndMarkTicketUsed atomically redeems a ticket.
	// SECURITY: This operation MUST be atomic.
	AtomicCheckAndMarkTicketUsed(ctx context.Context, id string) (*Ticket, error)

	// AuthorizeTicket records the resource owner's approval of a pending ticket
	AuthorizeTicket(ctx context.Context, id string) error

	// DeleteTicket removes a ticket
	DeleteTicket(ctx context.Context, id string) error
}

// ConsentStore records which scopes a resource owner granted to a client.
type ConsentStore interface {
	// SaveConsent creates or replaces the consent for consent.Subject and consent.ClientID
	SaveConsent(ctx context.Context, consent *Consent) error

	// GetConsent retrieves the consent of subject for clientID
	GetConsent(ctx context.Context, subject, clientID string) (*Consent, error)

	// DeleteConsent removes the consent of subject for clientID
	DeleteConsent(ctx context.Context, subject, clientID string) error
}

// ResourceSetStore manages UMA resource sets.
type ResourceSetStore interface {
	SaveResourceSet(ctx context.Context, rs *ResourceSet) error
	GetResourceSet(ctx context.Context, id string) (*ResourceSet, error)
	UpdateResourceSet(ctx context.Context, rs *ResourceSet) error
	DeleteResourceSet(ctx context.Context, id string) error
	ListResourceSets(ctx context.Context, owner string) ([]*ResourceSet, error)
}

// PolicyStore manages the authorization policies attached to resource sets.
type PolicyStore interface {
	SavePolicy(ctx context.Context, policy *Policy) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	UpdatePolicy(ctx context.Context, policy *Policy) error
	DeletePolicy(ctx context.Context, id string) error

	// ListPoliciesByResourceSet returns the policies attached to a resource
	// set, in attachment order.
	ListPoliciesByResourceSet(ctx context.Context, resourceSetID string) ([]*Policy, error)
}

// ReplayCache remembers one-time identifiers such as client assertion jti values.
type ReplayCache interface {
	// MarkUsed records id until expiresAt. It returns false if id was
	// already recorded.
	MarkUsed(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}
