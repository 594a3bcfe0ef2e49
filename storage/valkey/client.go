package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/giantswarm/uma-oauth/claims"
	"github.com/giantswarm/uma-oauth/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient creates or replaces a client after validating it
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("%w: client cannot be nil", storage.ErrInvalidInput)
	}
	if err := client.Validate(); err != nil {
		return err
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client_id"); err != nil {
		return err
	}

	cp := client.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	data, err := json.Marshal(toClientJSON(cp))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	for _, resp := range s.client.DoMulti(ctx,
		s.client.B().Set().Key(s.clientKey(cp.ClientID)).Value(string(data)).Build(),
		s.client.B().Sadd().Key(s.clientIndexKey()).Member(cp.ClientID).Build(),
	) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to save client: %w", err)
		}
	}

	s.logger.Debug("Saved client", "client_id", cp.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	j, err := getAndUnmarshal[clientJSON](ctx, s, s.clientKey(clientID),
		fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID))
	if err != nil {
		return nil, err
	}
	return fromClientJSON(j), nil
}

// DeleteClient removes a client
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	removed, err := s.client.Do(ctx, s.client.B().Del().Key(s.clientKey(clientID)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Srem().Key(s.clientIndexKey()).Member(clientID).Build()).Error(); err != nil {
		return fmt.Errorf("failed to update client index: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// ListClients lists all registered clients, sorted by client ID
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.clientIndexKey()).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	sort.Strings(ids)

	clients := make([]*storage.Client, 0, len(ids))
	for _, id := range ids {
		client, err := s.GetClient(ctx, id)
		if err != nil {
			// index entry outlived its client
			s.logger.Debug("Skipping stale client index entry", "client_id", id, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

// ============================================================
// ResourceOwnerStore Implementation
// ============================================================

// SaveResourceOwner creates or replaces a resource owner. The sub claim is
// forced to the owner ID.
func (s *Store) SaveResourceOwner(ctx context.Context, owner *storage.ResourceOwner) error {
	if owner == nil || owner.ID == "" {
		return fmt.Errorf("%w: resource owner id is required", storage.ErrInvalidInput)
	}
	if err := validateStringLength(owner.ID, MaxIDLength, "subject"); err != nil {
		return err
	}

	cp := owner.Clone()
	cp.Claims = cp.NormalizedClaims()
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	return s.putOwner(ctx, cp)
}

// GetResourceOwner retrieves a resource owner by subject
func (s *Store) GetResourceOwner(ctx context.Context, subject string) (*storage.ResourceOwner, error) {
	key := s.ownerKey(subject)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrResourceOwnerNotFound
		}
		return nil, fmt.Errorf("failed to get resource owner: %w", err)
	}

	if enc := s.getEncryptor(); enc.IsEnabled() {
		data, err = enc.Open(data, []byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt resource owner: %w", err)
		}
	}

	var j ownerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resource owner: %w", err)
	}
	return fromOwnerJSON(&j), nil
}

// UpdateClaims replaces the claims of a resource owner
func (s *Store) UpdateClaims(ctx context.Context, subject string, set claims.Set) error {
	owner, err := s.GetResourceOwner(ctx, subject)
	if err != nil {
		return err
	}
	owner.Claims = set.Replace(claims.Subject, subject)
	owner.UpdatedAt = time.Now()
	return s.putOwner(ctx, owner)
}

// UpdatePassword replaces the password hash of a resource owner
func (s *Store) UpdatePassword(ctx context.Context, subject, passwordHash string) error {
	owner, err := s.GetResourceOwner(ctx, subject)
	if err != nil {
		return err
	}
	owner.PasswordHash = passwordHash
	owner.UpdatedAt = time.Now()
	return s.putOwner(ctx, owner)
}

// putOwner writes an owner record, sealed with the key name as additional
// data when encryption is enabled so a record cannot be moved to another key.
func (s *Store) putOwner(ctx context.Context, owner *storage.ResourceOwner) error {
	key := s.ownerKey(owner.ID)

	data, err := json.Marshal(toOwnerJSON(owner))
	if err != nil {
		return fmt.Errorf("failed to marshal resource owner: %w", err)
	}

	if enc := s.getEncryptor(); enc.IsEnabled() {
		data, err = enc.Seal(data, []byte(key))
		if err != nil {
			return fmt.Errorf("failed to encrypt resource owner: %w", err)
		}
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save resource owner: %w", err)
	}
	return nil
}
