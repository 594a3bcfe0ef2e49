package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// ResourceSetRequest describes a resource set to register or update
type ResourceSetRequest struct {
	Name    string   `json:"name"`
	URI     string   `json:"uri,omitempty"`
	Type    string   `json:"type,omitempty"`
	IconURI string   `json:"icon_uri,omitempty"`
	Scopes  []string `json:"scopes"`
}

func (r *ResourceSetRequest) validate() error {
	if r.Name == "" {
		return ErrInvalidRequest("name is required")
	}
	if len(r.Scopes) == 0 {
		return ErrInvalidRequest("scopes are required")
	}
	for _, sc := range r.Scopes {
		if sc == "" {
			return ErrInvalidRequest("scopes must not be empty")
		}
	}
	return nil
}

// CreateResourceSet registers a resource set owned by the PAT's owner
func (s *Server) CreateResourceSet(ctx context.Context, pat string, req ResourceSetRequest) (*storage.ResourceSet, error) {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	rs := &storage.ResourceSet{
		ID:      uuid.NewString(),
		Name:    req.Name,
		URI:     req.URI,
		Type:    req.Type,
		IconURI: req.IconURI,
		Scopes:  slices.Clone(req.Scopes),
		Owner:   p.owner,
	}
	if err := s.stores.ResourceSets.SaveResourceSet(ctx, rs); err != nil {
		s.Logger.Error("Failed to save resource set", "error", err)
		return nil, AsOAuthError(err)
	}
	s.Auditor.LogEvent(security.Event{
		Type:     security.EventResourceSetRegistered,
		UserID:   p.owner,
		ClientID: p.token.ClientID,
		Details:  map[string]any{"resource_set_id": rs.ID},
	})
	return s.stores.ResourceSets.GetResourceSet(ctx, rs.ID)
}

// GetResourceSet returns a resource set of the PAT's owner
func (s *Server) GetResourceSet(ctx context.Context, pat, id string) (*storage.ResourceSet, error) {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return nil, err
	}
	return s.ownedResourceSet(ctx, p, id)
}

// ListResourceSets returns the ids of the PAT owner's resource sets
func (s *Server) ListResourceSets(ctx context.Context, pat string) ([]string, error) {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return nil, err
	}
	sets, err := s.stores.ResourceSets.ListResourceSets(ctx, p.owner)
	if err != nil {
		return nil, AsOAuthError(err)
	}
	ids := make([]string, 0, len(sets))
	for _, rs := range sets {
		ids = append(ids, rs.ID)
	}
	return ids, nil
}

// UpdateResourceSet replaces the description of a resource set. Policies
// attached to it must still fit the new scopes; the store checks this in the
// same write.
func (s *Server) UpdateResourceSet(ctx context.Context, pat, id string, req ResourceSetRequest) (*storage.ResourceSet, error) {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	rs, err := s.ownedResourceSet(ctx, p, id)
	if err != nil {
		return nil, err
	}

	// the store rejects scopes still used by an attached policy
	rs.Name = req.Name
	rs.URI = req.URI
	rs.Type = req.Type
	rs.IconURI = req.IconURI
	rs.Scopes = slices.Clone(req.Scopes)
	if err := s.stores.ResourceSets.UpdateResourceSet(ctx, rs); err != nil {
		return nil, s.resourceSetError(err)
	}
	return s.stores.ResourceSets.GetResourceSet(ctx, id)
}

// DeleteResourceSet removes a resource set and the policies only it uses
func (s *Server) DeleteResourceSet(ctx context.Context, pat, id string) error {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return err
	}
	if _, err := s.ownedResourceSet(ctx, p, id); err != nil {
		return err
	}
	if err := s.stores.ResourceSets.DeleteResourceSet(ctx, id); err != nil {
		return s.resourceSetError(err)
	}
	return nil
}

// GetPolicies returns the policies of a resource set in evaluation order
func (s *Server) GetPolicies(ctx context.Context, pat, resourceSetID string) ([]*storage.Policy, error) {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedResourceSet(ctx, p, resourceSetID); err != nil {
		return nil, err
	}
	policies, err := s.stores.Policies.ListPoliciesByResourceSet(ctx, resourceSetID)
	if err != nil {
		return nil, s.resourceSetError(err)
	}
	return policies, nil
}

// PutPolicy replaces the rules of the resource set's own policy, creating
// it on first use. Every rule needs scopes within the resource set's scopes.
func (s *Server) PutPolicy(ctx context.Context, pat, resourceSetID string, rules []storage.PolicyRule) (*storage.Policy, error) {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return nil, err
	}
	rs, err := s.ownedResourceSet(ctx, p, resourceSetID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrInvalidRequest("at least one rule is required")
	}
	if err := validateRules(rules, rs.Scopes); err != nil {
		return nil, err
	}

	rules = slices.Clone(rules)
	for i := range rules {
		if rules[i].ID == "" {
			rules[i].ID = uuid.NewString()
		}
	}

	existing, err := s.ownPolicy(ctx, rs)
	if err != nil {
		return nil, err
	}
	var policy *storage.Policy
	if existing != nil {
		existing.Rules = rules
		err = s.stores.Policies.UpdatePolicy(ctx, existing)
		policy = existing
	} else {
		policy = &storage.Policy{
			ID:             uuid.NewString(),
			ResourceSetIDs: []string{rs.ID},
			Rules:          rules,
		}
		err = s.stores.Policies.SavePolicy(ctx, policy)
	}
	if err != nil {
		return nil, s.resourceSetError(err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:     security.EventPolicyUpdated,
		UserID:   p.owner,
		ClientID: p.token.ClientID,
		Details:  map[string]any{"resource_set_id": rs.ID, "policy_id": policy.ID, "rules": len(rules)},
	})
	return s.stores.Policies.GetPolicy(ctx, policy.ID)
}

// ownPolicy returns the first policy attached to rs alone, or nil.
func (s *Server) ownPolicy(ctx context.Context, rs *storage.ResourceSet) (*storage.Policy, error) {
	policies, err := s.stores.Policies.ListPoliciesByResourceSet(ctx, rs.ID)
	if err != nil {
		return nil, s.resourceSetError(err)
	}
	for _, policy := range policies {
		if len(policy.ResourceSetIDs) == 1 && policy.ResourceSetIDs[0] == rs.ID {
			return policy, nil
		}
	}
	return nil, nil
}

// ownedResourceSet loads a resource set of the PAT's owner. Resource sets
// of other owners are reported as missing.
func (s *Server) ownedResourceSet(ctx context.Context, p *protection, id string) (*storage.ResourceSet, error) {
	rs, err := s.stores.ResourceSets.GetResourceSet(ctx, id)
	if err != nil {
		return nil, s.resourceSetError(err)
	}
	if rs.Owner != p.owner {
		return nil, ErrNotFound("The resource set does not exist")
	}
	return rs, nil
}

func (s *Server) resourceSetError(err error) error {
	switch {
	case errors.Is(err, storage.ErrResourceSetNotFound):
		return ErrNotFound("The resource set does not exist")
	case errors.Is(err, storage.ErrPolicyNotFound):
		return ErrNotFound("The policy does not exist")
	case errors.Is(err, storage.ErrScopeInUse):
		return ErrInvalidScope("A policy attached to the resource set uses a scope that is not registered")
	case errors.Is(err, storage.ErrInvalidInput):
		return ErrInvalidRequest("The request is invalid")
	}
	s.Logger.Error("Resource set operation failed", "error", err)
	return AsOAuthError(err)
}

// validateRules requires every rule to name scopes, all of them registered
// for the resource set.
func validateRules(rules []storage.PolicyRule, resourceScopes []string) error {
	for i, rule := range rules {
		if len(rule.Scopes) == 0 {
			return ErrInvalidScope(fmt.Sprintf("rule %d has no scopes", i))
		}
		if !util.IsSubset(rule.Scopes, resourceScopes) {
			return ErrInvalidScope(fmt.Sprintf("rule %d uses scopes not registered for the resource set", i))
		}
		for _, c := range rule.Claims {
			if c.Type == "" {
				return ErrInvalidRequest(fmt.Sprintf("rule %d has a claim without a type", i))
			}
		}
	}
	return nil
}
