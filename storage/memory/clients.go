package memory

import (
	"context"
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
	return s.observe(ctx, "save_client", func(context.Context) error {
		if client == nil {
			return invalidInput("client cannot be nil")
		}
		if err := client.Validate(); err != nil {
			return err
		}

		cp := client.Clone()
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.clients[cp.ClientID] = cp
		s.clientsCount.Store(int64(len(s.clients)))

		s.logger.Debug("Saved client", "client_id", cp.ClientID)
		return nil
	})
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var out *storage.Client
	err := s.observe(ctx, "get_client", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		client, ok := s.clients[clientID]
		if !ok {
			return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		out = client.Clone()
		return nil
	})
	return out, err
}

// DeleteClient removes a client
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	return s.observe(ctx, "delete_client", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.clients[clientID]; !ok {
			return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		delete(s.clients, clientID)
		s.clientsCount.Store(int64(len(s.clients)))
		return nil
	})
}

// ListClients lists all registered clients ordered by client ID
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	var out []*storage.Client
	err := s.observe(ctx, "list_clients", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		out = make([]*storage.Client, 0, len(s.clients))
		for _, c := range s.clients {
			out = append(out, c.Clone())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
		return nil
	})
	return out, err
}

// ============================================================
// ResourceOwnerStore Implementation
// ============================================================

// SaveResourceOwner creates or replaces a resource owner. The sub claim is
// forced to the owner ID.
func (s *Store) SaveResourceOwner(ctx context.Context, owner *storage.ResourceOwner) error {
	return s.observe(ctx, "save_resource_owner", func(context.Context) error {
		if owner == nil || owner.ID == "" {
			return invalidInput("resource owner id is required")
		}

		cp := owner.Clone()
		cp.Claims = cp.NormalizedClaims()
		now := time.Now()
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now

		s.mu.Lock()
		defer s.mu.Unlock()
		s.owners[cp.ID] = cp
		return nil
	})
}

// GetResourceOwner retrieves a resource owner by subject
func (s *Store) GetResourceOwner(ctx context.Context, subject string) (*storage.ResourceOwner, error) {
	var out *storage.ResourceOwner
	err := s.observe(ctx, "get_resource_owner", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		owner, ok := s.owners[subject]
		if !ok {
			return storage.ErrResourceOwnerNotFound
		}
		out = owner.Clone()
		return nil
	})
	return out, err
}

// UpdateClaims replaces the claims of a resource owner
func (s *Store) UpdateClaims(ctx context.Context, subject string, set claims.Set) error {
	return s.observe(ctx, "update_claims", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		owner, ok := s.owners[subject]
		if !ok {
			return storage.ErrResourceOwnerNotFound
		}
		cp := owner.Clone()
		cp.Claims = set.Replace(claims.Subject, subject)
		cp.UpdatedAt = time.Now()
		s.owners[subject] = cp
		return nil
	})
}

// UpdatePassword replaces the password hash of a resource owner
func (s *Store) UpdatePassword(ctx context.Context, subject, passwordHash string) error {
	return s.observe(ctx, "update_password", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		owner, ok := s.owners[subject]
		if !ok {
			return storage.ErrResourceOwnerNotFound
		}
		cp := owner.Clone()
		cp.PasswordHash = passwordHash
		cp.UpdatedAt = time.Now()
		s.owners[subject] = cp
		return nil
	})
}
