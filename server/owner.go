package server

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/uma-oauth/storage"
)

// ErrInvalidCredentials is returned by a ResourceOwnerAuthenticator when
// the username or password is wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ResourceOwnerAuthenticator verifies resource owner credentials for the
// password grant and the login endpoint.
type ResourceOwnerAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*storage.ResourceOwner, error)
}

// PasswordAuthenticator checks bcrypt password hashes of local accounts.
type PasswordAuthenticator struct {
	owners storage.ResourceOwnerStore
}

var _ ResourceOwnerAuthenticator = (*PasswordAuthenticator)(nil)

// NewPasswordAuthenticator creates an authenticator backed by owners
func NewPasswordAuthenticator(owners storage.ResourceOwnerStore) *PasswordAuthenticator {
	return &PasswordAuthenticator{owners: owners}
}

// Authenticate returns the owner whose id is username if password matches.
// Unknown owners, external accounts and wrong passwords all yield
// ErrInvalidCredentials after one bcrypt comparison.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, username, password string) (*storage.ResourceOwner, error) {
	owner, err := a.owners.GetResourceOwner(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrResourceOwnerNotFound) {
		return nil, fmt.Errorf("failed to load resource owner: %w", err)
	}

	hash := dummySecretHash
	if owner != nil && owner.IsLocalAccount && owner.PasswordHash != "" {
		hash = owner.PasswordHash
	}

	// SECURITY: always compare, even for unknown owners, to avoid a timing oracle
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil || hash == dummySecretHash {
		return nil, ErrInvalidCredentials
	}
	return owner, nil
}
