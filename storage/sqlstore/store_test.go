package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ResourceSets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rs := &storage.ResourceSet{
		ID:        "rs1",
		Name:      "photos",
		URI:       "https://photos.example.com/albums",
		Type:      "album",
		Scopes:    []string{"read", "write"},
		Owner:     "alice",
		PolicyIDs: []string{"ignored"},
	}
	require.NoError(t, s.SaveResourceSet(ctx, rs))
	assert.ErrorIs(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1"}), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.SaveResourceSet(ctx, &storage.ResourceSet{}), storage.ErrInvalidInput)

	got, err := s.GetResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Equal(t, "photos", got.Name)
	assert.Equal(t, "album", got.Type)
	assert.Equal(t, []string{"read", "write"}, got.Scopes)
	assert.Empty(t, got.PolicyIDs)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetResourceSet(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrResourceSetNotFound)

	// update keeps the creation time
	require.NoError(t, s.UpdateResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Name: "pictures", Owner: "alice"}))
	updated, err := s.GetResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Equal(t, "pictures", updated.Name)
	assert.Empty(t, updated.Scopes)
	assert.True(t, updated.CreatedAt.Equal(got.CreatedAt))
	assert.ErrorIs(t, s.UpdateResourceSet(ctx, &storage.ResourceSet{ID: "missing"}), storage.ErrResourceSetNotFound)

	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs2", Owner: "bob"}))

	tests := []struct {
		owner string
		want  []string
	}{
		{owner: "alice", want: []string{"rs1"}},
		{owner: "bob", want: []string{"rs2"}},
		{owner: "", want: []string{"rs1", "rs2"}},
		{owner: "carol", want: []string{}},
	}
	for _, tt := range tests {
		t.Run("owner="+tt.owner, func(t *testing.T) {
			list, err := s.ListResourceSets(ctx, tt.owner)
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, rs := range list {
				ids = append(ids, rs.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	require.NoError(t, s.DeleteResourceSet(ctx, "rs2"))
	assert.ErrorIs(t, s.DeleteResourceSet(ctx, "rs2"), storage.ErrResourceSetNotFound)
}

func TestStore_ResourceSetsAndPolicies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Scopes: []string{"read", "write"}, Owner: "alice"}))
	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs2", Scopes: []string{"read"}, Owner: "alice"}))

	rule := storage.PolicyRule{
		ID:               "r",
		ClientIDsAllowed: []string{"app"},
		Scopes:           []string{"read"},
		Claims:           []storage.ClaimRequirement{{Type: "email", Value: "alice@example.com"}},
	}
	require.NoError(t, s.SavePolicy(ctx, &storage.Policy{ID: "p1", ResourceSetIDs: []string{"rs1"}, Rules: []storage.PolicyRule{rule}}))
	require.NoError(t, s.SavePolicy(ctx, &storage.Policy{ID: "p2", ResourceSetIDs: []string{"rs1", "rs2"}, Rules: []storage.PolicyRule{rule}}))
	assert.ErrorIs(t, s.SavePolicy(ctx, &storage.Policy{ID: "p1"}), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.SavePolicy(ctx, &storage.Policy{ID: "p3", ResourceSetIDs: []string{"missing"}}), storage.ErrResourceSetNotFound)

	p1, err := s.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, p1.Rules, 1)
	assert.Equal(t, rule, p1.Rules[0])

	rs1, err := s.GetResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, rs1.PolicyIDs)

	policies, err := s.ListPoliciesByResourceSet(ctx, "rs1")
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "p1", policies[0].ID)
	assert.Equal(t, "p2", policies[1].ID)

	// updating p1 keeps its position on rs1 and adds it to the end of rs2
	require.NoError(t, s.UpdatePolicy(ctx, &storage.Policy{
		ID:             "p1",
		ResourceSetIDs: []string{"rs1", "rs2"},
		Rules:          []storage.PolicyRule{{ID: "r2", Scopes: []string{"read"}}},
	}))
	rs1, err = s.GetResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, rs1.PolicyIDs)
	rs2, err := s.GetResourceSet(ctx, "rs2")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1"}, rs2.PolicyIDs)

	// and narrowing it detaches it from rs2 again
	require.NoError(t, s.UpdatePolicy(ctx, &storage.Policy{
		ID:             "p1",
		ResourceSetIDs: []string{"rs1"},
		Rules:          []storage.PolicyRule{{ID: "r2", Scopes: []string{"write"}}},
	}))
	rs2, err = s.GetResourceSet(ctx, "rs2")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, rs2.PolicyIDs)
	assert.ErrorIs(t, s.UpdatePolicy(ctx, &storage.Policy{ID: "missing"}), storage.ErrPolicyNotFound)

	// resource set writes leave attachments alone
	require.NoError(t, s.UpdateResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Scopes: []string{"read", "write"}, Owner: "alice"}))
	rs1, err = s.GetResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, rs1.PolicyIDs)

	// deleting rs1 removes p1 (attached only to rs1) and detaches p2
	require.NoError(t, s.DeleteResourceSet(ctx, "rs1"))
	_, err = s.GetPolicy(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrPolicyNotFound)
	p2, err := s.GetPolicy(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"rs2"}, p2.ResourceSetIDs)

	require.NoError(t, s.DeletePolicy(ctx, "p2"))
	assert.ErrorIs(t, s.DeletePolicy(ctx, "p2"), storage.ErrPolicyNotFound)
	rs2, err = s.GetResourceSet(ctx, "rs2")
	require.NoError(t, err)
	assert.Empty(t, rs2.PolicyIDs)

	_, err = s.ListPoliciesByResourceSet(ctx, "rs1")
	assert.ErrorIs(t, err, storage.ErrResourceSetNotFound)
}

func TestStore_ScopesInUse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Scopes: []string{"read", "write"}, Owner: "alice"}))
	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs2", Scopes: []string{"read"}, Owner: "alice"}))
	require.NoError(t, s.SavePolicy(ctx, &storage.Policy{
		ID:             "p1",
		ResourceSetIDs: []string{"rs1"},
		Rules:          []storage.PolicyRule{{ID: "r", Scopes: []string{"write"}}},
	}))

	err := s.UpdateResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Name: "renamed", Scopes: []string{"read"}, Owner: "alice"})
	assert.ErrorIs(t, err, storage.ErrScopeInUse)
	rs, err := s.GetResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Empty(t, rs.Name, "a rejected update is rolled back")
	assert.Equal(t, []string{"read", "write"}, rs.Scopes)

	// widening is fine
	require.NoError(t, s.UpdateResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Scopes: []string{"read", "write", "delete"}, Owner: "alice"}))

	err = s.UpdatePolicy(ctx, &storage.Policy{
		ID:             "p1",
		ResourceSetIDs: []string{"rs1", "rs2"},
		Rules:          []storage.PolicyRule{{ID: "r", Scopes: []string{"write"}}},
	})
	assert.ErrorIs(t, err, storage.ErrScopeInUse)
	rs2, err := s.GetResourceSet(ctx, "rs2")
	require.NoError(t, err)
	assert.Empty(t, rs2.PolicyIDs)

	err = s.SavePolicy(ctx, &storage.Policy{
		ID:             "p2",
		ResourceSetIDs: []string{"rs2"},
		Rules:          []storage.PolicyRule{{ID: "r", Scopes: []string{"write"}}},
	})
	assert.ErrorIs(t, err, storage.ErrScopeInUse)
}

func TestStore_ReopenFile(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "uma.db")

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Owner: "alice"}))
	require.NoError(t, s.SavePolicy(ctx, &storage.Policy{ID: "p1", ResourceSetIDs: []string{"rs1"}}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	rs, err := s.GetResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, rs.PolicyIDs)
}

func TestStore_WithInstrumentation(t *testing.T) {
	ctx := context.Background()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(ctx) }()

	s := newTestStore(t)
	s.SetInstrumentation(inst)

	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1"}))
	_, err = s.GetPolicy(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrPolicyNotFound)
}
