package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/giantswarm/uma-oauth/storage"
)

// ============================================================
// ResourceSetStore Implementation
// ============================================================

// SaveResourceSet stores a new resource set. PolicyIDs is ignored; policies
// are attached through SavePolicy.
func (s *Store) SaveResourceSet(ctx context.Context, rs *storage.ResourceSet) error {
	return s.observe(ctx, "save_resource_set", func(ctx context.Context) error {
		if rs == nil || rs.ID == "" {
			return invalidInput("resource set id cannot be empty")
		}
		scopes, err := encodeJSON(rs.Scopes)
		if err != nil {
			return fmt.Errorf("failed to encode scopes: %w", err)
		}

		now := time.Now()
		created := rs.CreatedAt
		if created.IsZero() {
			created = now
		}

		return s.withTx(ctx, func(tx *sqlx.Tx) error {
			found, err := exists(ctx, tx, `SELECT COUNT(*) FROM resource_sets WHERE id = ?`, rs.ID)
			if err != nil {
				return fmt.Errorf("failed to check resource set: %w", err)
			}
			if found {
				return invalidInput("resource set %s already exists", rs.ID)
			}

			_, err = tx.NamedExecContext(ctx, `
				INSERT INTO resource_sets (id, name, uri, type, icon_uri, scopes, owner, created_at, updated_at)
				VALUES (:id, :name, :uri, :type, :icon_uri, :scopes, :owner, :created_at, :updated_at)`,
				&resourceSetRow{
					ID:        rs.ID,
					Name:      rs.Name,
					URI:       rs.URI,
					Type:      rs.Type,
					IconURI:   rs.IconURI,
					Scopes:    scopes,
					Owner:     rs.Owner,
					CreatedAt: created.UnixNano(),
					UpdatedAt: now.UnixNano(),
				})
			if err != nil {
				return fmt.Errorf("failed to insert resource set: %w", err)
			}
			return nil
		})
	})
}

// GetResourceSet retrieves a resource set by ID
func (s *Store) GetResourceSet(ctx context.Context, id string) (*storage.ResourceSet, error) {
	var out *storage.ResourceSet
	err := s.observe(ctx, "get_resource_set", func(ctx context.Context) error {
		rs, err := s.getResourceSet(ctx, s.db, id)
		out = rs
		return err
	})
	return out, err
}

func (s *Store) getResourceSet(ctx context.Context, q sqlx.QueryerContext, id string) (*storage.ResourceSet, error) {
	var row resourceSetRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT * FROM resource_sets WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrResourceSetNotFound
		}
		return nil, fmt.Errorf("failed to get resource set: %w", err)
	}

	policyIDs, err := policyIDsOf(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return row.toResourceSet(policyIDs)
}

// UpdateResourceSet replaces an existing resource set. Its policy
// attachments and creation time are kept, and the attached policies must
// still fit the new scopes.
func (s *Store) UpdateResourceSet(ctx context.Context, rs *storage.ResourceSet) error {
	return s.observe(ctx, "update_resource_set", func(ctx context.Context) error {
		if rs == nil {
			return invalidInput("resource set cannot be nil")
		}
		scopes, err := encodeJSON(rs.Scopes)
		if err != nil {
			return fmt.Errorf("failed to encode scopes: %w", err)
		}

		return s.withTx(ctx, func(tx *sqlx.Tx) error {
			policies, err := attachedPolicies(ctx, tx, rs.ID)
			if err != nil {
				return err
			}
			for _, p := range policies {
				if outside := p.ScopesOutside(rs.Scopes); len(outside) > 0 {
					return fmt.Errorf("%w: policy %s uses %v", storage.ErrScopeInUse, p.ID, outside)
				}
			}

			res, err := tx.NamedExecContext(ctx, `
				UPDATE resource_sets
				SET name = :name, uri = :uri, type = :type, icon_uri = :icon_uri,
				    scopes = :scopes, owner = :owner, updated_at = :updated_at
				WHERE id = :id`,
				&resourceSetRow{
					ID:        rs.ID,
					Name:      rs.Name,
					URI:       rs.URI,
					Type:      rs.Type,
					IconURI:   rs.IconURI,
					Scopes:    scopes,
					Owner:     rs.Owner,
					UpdatedAt: time.Now().UnixNano(),
				})
			if err != nil {
				return fmt.Errorf("failed to update resource set: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return storage.ErrResourceSetNotFound
			}
			return nil
		})
	})
}

// DeleteResourceSet removes a resource set and the policies attached to it
// alone. Policies shared with other resource sets are detached.
func (s *Store) DeleteResourceSet(ctx context.Context, id string) error {
	return s.observe(ctx, "delete_resource_set", func(ctx context.Context) error {
		return s.withTx(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, `DELETE FROM resource_sets WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("failed to delete resource set: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return storage.ErrResourceSetNotFound
			}

			policyIDs, err := policyIDsOf(ctx, tx, id)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM policy_attachments WHERE resource_set_id = ?`, id); err != nil {
				return fmt.Errorf("failed to detach policies: %w", err)
			}

			for _, pid := range policyIDs {
				var row policyRow
				if err := tx.GetContext(ctx, &row, `SELECT * FROM policies WHERE id = ?`, pid); err != nil {
					if isNoRows(err) {
						continue
					}
					return fmt.Errorf("failed to load policy %s: %w", pid, err)
				}
				p, err := row.toPolicy()
				if err != nil {
					return err
				}

				remaining := slices.DeleteFunc(p.ResourceSetIDs, func(r string) bool { return r == id })
				if len(remaining) == 0 {
					if _, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, pid); err != nil {
						return fmt.Errorf("failed to delete policy %s: %w", pid, err)
					}
					continue
				}
				encoded, err := encodeJSON(remaining)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx,
					`UPDATE policies SET resource_set_ids = ?, updated_at = ? WHERE id = ?`,
					encoded, time.Now().UnixNano(), pid); err != nil {
					return fmt.Errorf("failed to update policy %s: %w", pid, err)
				}
			}

			s.logger.Debug("Deleted resource set", "resource_set_id", id, "policies", len(policyIDs))
			return nil
		})
	})
}

// ListResourceSets lists the resource sets of owner, or all of them when
// owner is empty, oldest first.
func (s *Store) ListResourceSets(ctx context.Context, owner string) ([]*storage.ResourceSet, error) {
	var out []*storage.ResourceSet
	err := s.observe(ctx, "list_resource_sets", func(ctx context.Context) error {
		query := `SELECT * FROM resource_sets ORDER BY created_at, id`
		args := []any{}
		if owner != "" {
			query = `SELECT * FROM resource_sets WHERE owner = ? ORDER BY created_at, id`
			args = append(args, owner)
		}

		var rows []resourceSetRow
		if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return fmt.Errorf("failed to list resource sets: %w", err)
		}

		out = make([]*storage.ResourceSet, 0, len(rows))
		for i := range rows {
			policyIDs, err := policyIDsOf(ctx, s.db, rows[i].ID)
			if err != nil {
				return err
			}
			rs, err := rows[i].toResourceSet(policyIDs)
			if err != nil {
				return err
			}
			out = append(out, rs)
		}
		return nil
	})
	return out, err
}

// ============================================================
// PolicyStore Implementation
// ============================================================

// SavePolicy stores a new policy and attaches it to its resource sets
func (s *Store) SavePolicy(ctx context.Context, policy *storage.Policy) error {
	return s.observe(ctx, "save_policy", func(ctx context.Context) error {
		if policy == nil || policy.ID == "" {
			return invalidInput("policy id cannot be empty")
		}
		row, err := newPolicyRow(policy)
		if err != nil {
			return err
		}
		if !policy.CreatedAt.IsZero() {
			row.CreatedAt = policy.CreatedAt.UnixNano()
		}

		return s.withTx(ctx, func(tx *sqlx.Tx) error {
			found, err := exists(ctx, tx, `SELECT COUNT(*) FROM policies WHERE id = ?`, policy.ID)
			if err != nil {
				return fmt.Errorf("failed to check policy: %w", err)
			}
			if found {
				return invalidInput("policy %s already exists", policy.ID)
			}
			if err := requireResourceSets(ctx, tx, policy); err != nil {
				return err
			}

			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO policies (id, resource_set_ids, rules, created_at, updated_at)
				VALUES (:id, :resource_set_ids, :rules, :created_at, :updated_at)`, row); err != nil {
				return fmt.Errorf("failed to insert policy: %w", err)
			}
			return attach(ctx, tx, policy.ID, policy.ResourceSetIDs)
		})
	})
}

// GetPolicy retrieves a policy by ID
func (s *Store) GetPolicy(ctx context.Context, id string) (*storage.Policy, error) {
	var out *storage.Policy
	err := s.observe(ctx, "get_policy", func(ctx context.Context) error {
		var row policyRow
		if err := s.db.GetContext(ctx, &row, `SELECT * FROM policies WHERE id = ?`, id); err != nil {
			if isNoRows(err) {
				return storage.ErrPolicyNotFound
			}
			return fmt.Errorf("failed to get policy: %w", err)
		}
		p, err := row.toPolicy()
		out = p
		return err
	})
	return out, err
}

// UpdatePolicy replaces an existing policy and re-syncs its attachments.
// Resource sets that keep the policy keep its position.
func (s *Store) UpdatePolicy(ctx context.Context, policy *storage.Policy) error {
	return s.observe(ctx, "update_policy", func(ctx context.Context) error {
		if policy == nil {
			return invalidInput("policy cannot be nil")
		}
		row, err := newPolicyRow(policy)
		if err != nil {
			return err
		}

		return s.withTx(ctx, func(tx *sqlx.Tx) error {
			if err := requireResourceSets(ctx, tx, policy); err != nil {
				return err
			}

			res, err := tx.ExecContext(ctx,
				`UPDATE policies SET resource_set_ids = ?, rules = ?, updated_at = ? WHERE id = ?`,
				row.ResourceSetIDs, row.Rules, row.UpdatedAt, policy.ID)
			if err != nil {
				return fmt.Errorf("failed to update policy: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return storage.ErrPolicyNotFound
			}

			if err := detach(ctx, tx, policy.ID, policy.ResourceSetIDs); err != nil {
				return err
			}
			return attach(ctx, tx, policy.ID, policy.ResourceSetIDs)
		})
	})
}

// DeletePolicy removes a policy and detaches it from every resource set
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	return s.observe(ctx, "delete_policy", func(ctx context.Context) error {
		return s.withTx(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("failed to delete policy: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return storage.ErrPolicyNotFound
			}
			return detach(ctx, tx, id, nil)
		})
	})
}

// ListPoliciesByResourceSet returns the policies attached to a resource set
// in attachment order
func (s *Store) ListPoliciesByResourceSet(ctx context.Context, resourceSetID string) ([]*storage.Policy, error) {
	var out []*storage.Policy
	err := s.observe(ctx, "list_policies", func(ctx context.Context) error {
		found, err := exists(ctx, s.db, `SELECT COUNT(*) FROM resource_sets WHERE id = ?`, resourceSetID)
		if err != nil {
			return fmt.Errorf("failed to check resource set: %w", err)
		}
		if !found {
			return storage.ErrResourceSetNotFound
		}
		out, err = attachedPolicies(ctx, s.db, resourceSetID)
		return err
	})
	return out, err
}

// attachedPolicies loads the policies of a resource set in attachment order.
func attachedPolicies(ctx context.Context, q sqlx.QueryerContext, resourceSetID string) ([]*storage.Policy, error) {
	var rows []policyRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT p.id, p.resource_set_ids, p.rules, p.created_at, p.updated_at
		FROM policies p
		JOIN policy_attachments a ON a.policy_id = p.id
		WHERE a.resource_set_id = ?
		ORDER BY a.position`, resourceSetID); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}

	out := make([]*storage.Policy, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toPolicy()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func newPolicyRow(p *storage.Policy) (*policyRow, error) {
	rsIDs, err := encodeJSON(p.ResourceSetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource set ids: %w", err)
	}
	rules, err := encodeJSON(p.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rules: %w", err)
	}
	now := time.Now().UnixNano()
	return &policyRow{
		ID:             p.ID,
		ResourceSetIDs: rsIDs,
		Rules:          rules,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// requireResourceSets requires every resource set of policy to exist and to
// register the scopes its rules use.
func requireResourceSets(ctx context.Context, tx *sqlx.Tx, policy *storage.Policy) error {
	for _, id := range policy.ResourceSetIDs {
		rs, err := getResourceSetScopes(ctx, tx, id)
		if err != nil {
			return err
		}
		if outside := policy.ScopesOutside(rs); len(outside) > 0 {
			return fmt.Errorf("%w: resource set %s lacks %v", storage.ErrScopeInUse, id, outside)
		}
	}
	return nil
}

// getResourceSetScopes returns the registered scopes of a resource set.
func getResourceSetScopes(ctx context.Context, tx *sqlx.Tx, id string) ([]string, error) {
	var raw string
	if err := tx.GetContext(ctx, &raw, `SELECT scopes FROM resource_sets WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrResourceSetNotFound, id)
		}
		return nil, fmt.Errorf("failed to check resource set: %w", err)
	}
	var scopes []string
	if err := json.Unmarshal([]byte(raw), &scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes of resource set %s: %w", id, err)
	}
	return scopes, nil
}

// attach appends policyID to the end of each resource set's policy list.
// Existing attachments keep their position.
func attach(ctx context.Context, tx *sqlx.Tx, policyID string, resourceSetIDs []string) error {
	for _, rsID := range resourceSetIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO policy_attachments (resource_set_id, policy_id, position)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM policy_attachments WHERE resource_set_id = ?))`,
			rsID, policyID, rsID); err != nil {
			return fmt.Errorf("failed to attach policy %s to %s: %w", policyID, rsID, err)
		}
	}
	return nil
}

// detach removes policyID from every resource set except those in keep.
func detach(ctx context.Context, tx *sqlx.Tx, policyID string, keep []string) error {
	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM policy_attachments WHERE policy_id = ?`, policyID); err != nil {
			return fmt.Errorf("failed to detach policy %s: %w", policyID, err)
		}
		return nil
	}

	query, args, err := sqlx.In(`DELETE FROM policy_attachments WHERE policy_id = ? AND resource_set_id NOT IN (?)`, policyID, keep)
	if err != nil {
		return fmt.Errorf("failed to build detach query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to detach policy %s: %w", policyID, err)
	}
	return nil
}
