package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/giantswarm/uma-oauth/storage"
)

// ============================================================
// ResourceSetStore Implementation
// ============================================================

// SaveResourceSet stores a new resource set. PolicyIDs is ignored; policies
// are attached through SavePolicy.
func (s *Store) SaveResourceSet(ctx context.Context, rs *storage.ResourceSet) error {
	return s.observe(ctx, "save_resource_set", func(context.Context) error {
		if rs == nil || rs.ID == "" {
			return invalidInput("resource set id cannot be empty")
		}
		cp := rs.Clone()
		cp.PolicyIDs = nil
		now := time.Now()
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now

		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.resourceSets[cp.ID]; exists {
			return invalidInput("resource set %s already exists", cp.ID)
		}
		s.resourceSets[cp.ID] = cp
		return nil
	})
}

// GetResourceSet retrieves a resource set by ID
func (s *Store) GetResourceSet(ctx context.Context, id string) (*storage.ResourceSet, error) {
	var out *storage.ResourceSet
	err := s.observe(ctx, "get_resource_set", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		rs, ok := s.resourceSets[id]
		if !ok {
			return storage.ErrResourceSetNotFound
		}
		out = rs.Clone()
		return nil
	})
	return out, err
}

// UpdateResourceSet replaces an existing resource set. Its policy
// attachments are kept and must still fit the new scopes.
func (s *Store) UpdateResourceSet(ctx context.Context, rs *storage.ResourceSet) error {
	return s.observe(ctx, "update_resource_set", func(context.Context) error {
		if rs == nil {
			return invalidInput("resource set cannot be nil")
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		existing, ok := s.resourceSets[rs.ID]
		if !ok {
			return storage.ErrResourceSetNotFound
		}
		for _, pid := range existing.PolicyIDs {
			if p, ok := s.policies[pid]; ok {
				if outside := p.ScopesOutside(rs.Scopes); len(outside) > 0 {
					return fmt.Errorf("%w: policy %s uses %v", storage.ErrScopeInUse, pid, outside)
				}
			}
		}
		cp := rs.Clone()
		cp.PolicyIDs = slices.Clone(existing.PolicyIDs)
		cp.CreatedAt = existing.CreatedAt
		cp.UpdatedAt = time.Now()
		s.resourceSets[cp.ID] = cp
		return nil
	})
}

// DeleteResourceSet removes a resource set and the policies attached to it
// alone. Policies shared with other resource sets are detached.
func (s *Store) DeleteResourceSet(ctx context.Context, id string) error {
	return s.observe(ctx, "delete_resource_set", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		rs, ok := s.resourceSets[id]
		if !ok {
			return storage.ErrResourceSetNotFound
		}
		delete(s.resourceSets, id)

		for _, pid := range rs.PolicyIDs {
			p, ok := s.policies[pid]
			if !ok {
				continue
			}
			remaining := slices.DeleteFunc(slices.Clone(p.ResourceSetIDs), func(r string) bool { return r == id })
			if len(remaining) == 0 {
				delete(s.policies, pid)
				continue
			}
			cp := p.Clone()
			cp.ResourceSetIDs = remaining
			s.policies[pid] = cp
		}
		return nil
	})
}

// ListResourceSets lists the resource sets of owner, or all of them when
// owner is empty, oldest first.
func (s *Store) ListResourceSets(ctx context.Context, owner string) ([]*storage.ResourceSet, error) {
	var out []*storage.ResourceSet
	err := s.observe(ctx, "list_resource_sets", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		out = []*storage.ResourceSet{}
		for _, rs := range s.resourceSets {
			if owner == "" || rs.Owner == owner {
				out = append(out, rs.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

// ============================================================
// PolicyStore Implementation
// ============================================================

// SavePolicy stores a new policy and attaches it to its resource sets
func (s *Store) SavePolicy(ctx context.Context, policy *storage.Policy) error {
	return s.observe(ctx, "save_policy", func(context.Context) error {
		if policy == nil || policy.ID == "" {
			return invalidInput("policy id cannot be empty")
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if _, exists := s.policies[policy.ID]; exists {
			return invalidInput("policy %s already exists", policy.ID)
		}
		if err := s.checkScopesLocked(policy); err != nil {
			return err
		}

		cp := policy.Clone()
		now := time.Now()
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		s.policies[cp.ID] = cp
		s.attachLocked(cp.ID, cp.ResourceSetIDs)
		return nil
	})
}

// GetPolicy retrieves a policy by ID
func (s *Store) GetPolicy(ctx context.Context, id string) (*storage.Policy, error) {
	var out *storage.Policy
	err := s.observe(ctx, "get_policy", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		p, ok := s.policies[id]
		if !ok {
			return storage.ErrPolicyNotFound
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

// UpdatePolicy replaces an existing policy and re-syncs its attachments
func (s *Store) UpdatePolicy(ctx context.Context, policy *storage.Policy) error {
	return s.observe(ctx, "update_policy", func(context.Context) error {
		if policy == nil {
			return invalidInput("policy cannot be nil")
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		existing, ok := s.policies[policy.ID]
		if !ok {
			return storage.ErrPolicyNotFound
		}
		if err := s.checkScopesLocked(policy); err != nil {
			return err
		}

		cp := policy.Clone()
		cp.CreatedAt = existing.CreatedAt
		cp.UpdatedAt = time.Now()
		s.policies[cp.ID] = cp

		s.detachLocked(cp.ID, cp.ResourceSetIDs)
		s.attachLocked(cp.ID, cp.ResourceSetIDs)
		return nil
	})
}

// DeletePolicy removes a policy and detaches it from every resource set
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	return s.observe(ctx, "delete_policy", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.policies[id]; !ok {
			return storage.ErrPolicyNotFound
		}
		delete(s.policies, id)
		s.detachLocked(id, nil)
		return nil
	})
}

// ListPoliciesByResourceSet returns the policies attached to a resource set
// in attachment order
func (s *Store) ListPoliciesByResourceSet(ctx context.Context, resourceSetID string) ([]*storage.Policy, error) {
	var out []*storage.Policy
	err := s.observe(ctx, "list_policies", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		rs, ok := s.resourceSets[resourceSetID]
		if !ok {
			return storage.ErrResourceSetNotFound
		}
		out = make([]*storage.Policy, 0, len(rs.PolicyIDs))
		for _, pid := range rs.PolicyIDs {
			if p, ok := s.policies[pid]; ok {
				out = append(out, p.Clone())
			}
		}
		return nil
	})
	return out, err
}

// checkScopesLocked requires every resource set of policy to exist and to
// register the scopes its rules use. Caller holds mu.
func (s *Store) checkScopesLocked(policy *storage.Policy) error {
	for _, rsID := range policy.ResourceSetIDs {
		rs, ok := s.resourceSets[rsID]
		if !ok {
			return storage.ErrResourceSetNotFound
		}
		if outside := policy.ScopesOutside(rs.Scopes); len(outside) > 0 {
			return fmt.Errorf("%w: resource set %s lacks %v", storage.ErrScopeInUse, rsID, outside)
		}
	}
	return nil
}

// attachLocked appends policyID to the PolicyIDs of each resource set. Caller holds mu.
func (s *Store) attachLocked(policyID string, resourceSetIDs []string) {
	for _, rsID := range resourceSetIDs {
		rs := s.resourceSets[rsID]
		if rs == nil || slices.Contains(rs.PolicyIDs, policyID) {
			continue
		}
		cp := rs.Clone()
		cp.PolicyIDs = append(cp.PolicyIDs, policyID)
		s.resourceSets[rsID] = cp
	}
}

// detachLocked removes policyID from every resource set except those in
// keep, which retain their position. Caller holds mu.
func (s *Store) detachLocked(policyID string, keep []string) {
	for id, rs := range s.resourceSets {
		if slices.Contains(keep, id) || !slices.Contains(rs.PolicyIDs, policyID) {
			continue
		}
		cp := rs.Clone()
		cp.PolicyIDs = slices.DeleteFunc(cp.PolicyIDs, func(p string) bool { return p == policyID })
		s.resourceSets[id] = cp
	}
}
