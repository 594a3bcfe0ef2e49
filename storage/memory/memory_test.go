package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/uma-oauth/claims"
	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func publicClient(id string) *storage.Client {
	return &storage.Client{
		ClientID:                id,
		TokenEndpointAuthMethod: storage.AuthMethodNone,
		GrantTypes:              []string{"authorization_code"},
		RedirectURIs:            []string{"https://app.example.com/cb"},
		AllowedScopes:           []string{"openid"},
	}
}

func TestStore_Clients(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveClient(ctx, publicClient("b")))
	require.NoError(t, s.SaveClient(ctx, publicClient("a")))

	got, err := s.GetClient(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ClientID)
	assert.False(t, got.CreatedAt.IsZero())

	// returned values are copies
	got.RedirectURIs[0] = "https://evil.example.com"
	again, err := s.GetClient(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/cb", again.RedirectURIs[0])

	list, err := s.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ClientID)

	require.NoError(t, s.DeleteClient(ctx, "a"))
	_, err = s.GetClient(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
	assert.ErrorIs(t, s.DeleteClient(ctx, "a"), storage.ErrClientNotFound)
}

func TestStore_SaveClient_Validates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name   string
		client *storage.Client
	}{
		{name: "nil", client: nil},
		{name: "no id", client: &storage.Client{TokenEndpointAuthMethod: storage.AuthMethodNone}},
		{name: "private_key_jwt without keys", client: &storage.Client{ClientID: "x", TokenEndpointAuthMethod: storage.AuthMethodPrivateKeyJWT}},
		{name: "basic without secret", client: &storage.Client{ClientID: "x", TokenEndpointAuthMethod: storage.AuthMethodClientSecretBasic}},
		{name: "unknown method", client: &storage.Client{ClientID: "x", TokenEndpointAuthMethod: "magic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.SaveClient(ctx, tt.client), storage.ErrInvalidInput)
		})
	}
}

func TestStore_ResourceOwners(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner := &storage.ResourceOwner{
		ID:     "alice",
		Claims: claims.New(claims.Claim{Type: claims.Subject, Value: "mallory"}, claims.Claim{Type: claims.Email, Value: "alice@example.com"}),
	}
	require.NoError(t, s.SaveResourceOwner(ctx, owner))

	got, err := s.GetResourceOwner(ctx, "alice")
	require.NoError(t, err)
	sub, _ := got.Claims.First(claims.Subject)
	assert.Equal(t, "alice", sub, "sub claim must equal the owner id")

	require.NoError(t, s.UpdateClaims(ctx, "alice", claims.New(claims.Claim{Type: claims.Role, Value: "admin"})))
	got, err = s.GetResourceOwner(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Claims.Has(claims.Role, "admin"))
	assert.True(t, got.Claims.Has(claims.Subject, "alice"))

	require.NoError(t, s.UpdatePassword(ctx, "alice", "$2a$10$hash"))
	got, err = s.GetResourceOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)

	_, err = s.GetResourceOwner(ctx, "bob")
	assert.ErrorIs(t, err, storage.ErrResourceOwnerNotFound)
	assert.ErrorIs(t, s.UpdatePassword(ctx, "bob", "x"), storage.ErrResourceOwnerNotFound)
}

func tokenPair(access, refresh, family string) (*storage.Token, *storage.Token) {
	now := time.Now()
	at := &storage.Token{Value: access, Type: storage.TokenTypeAccess, ClientID: "c1", Subject: "alice", Scopes: []string{"openid"}, IssuedAt: now, ExpiresIn: time.Hour, FamilyID: family}
	rt := &storage.Token{Value: refresh, Type: storage.TokenTypeRefresh, ClientID: "c1", Subject: "alice", Scopes: []string{"openid"}, IssuedAt: now, ExpiresIn: 24 * time.Hour, ParentValue: access, FamilyID: family}
	return at, rt
}

func TestStore_SaveTokens_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at, rt := tokenPair("at-1", "rt-1", "fam")
	require.NoError(t, s.SaveTokens(ctx, at, rt))

	// second grant collides on one value: nothing of it is stored
	at2, _ := tokenPair("at-2", "", "fam2")
	dup := &storage.Token{Value: "rt-1", Type: storage.TokenTypeRefresh, IssuedAt: time.Now(), ExpiresIn: time.Hour}
	assert.ErrorIs(t, s.SaveTokens(ctx, at2, dup), storage.ErrInvalidInput)
	_, err := s.GetToken(ctx, "at-2")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	assert.ErrorIs(t, s.SaveTokens(ctx), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.SaveTokens(ctx, &storage.Token{Value: "x", Type: "id_token"}), storage.ErrInvalidInput)
}

func TestStore_GetToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	expired := &storage.Token{Value: "old", Type: storage.TokenTypeAccess, IssuedAt: time.Now().Add(-2 * time.Hour), ExpiresIn: time.Hour}
	require.NoError(t, s.SaveTokens(ctx, expired))

	_, err := s.GetToken(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrTokenExpired)
	_, err = s.GetToken(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	require.NoError(t, s.DeleteToken(ctx, "old"))
	assert.ErrorIs(t, s.DeleteToken(ctx, "old"), storage.ErrTokenNotFound)
}

func TestStore_ConsumeRefreshToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at, rt := tokenPair("at", "rt", "fam-1")
	require.NoError(t, s.SaveTokens(ctx, at, rt))

	// access tokens cannot be consumed
	_, err := s.ConsumeRefreshToken(ctx, "at")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	got, err := s.ConsumeRefreshToken(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, "fam-1", got.FamilyID)

	_, err = s.GetToken(ctx, "rt")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	reused, err := s.ConsumeRefreshToken(ctx, "rt")
	assert.ErrorIs(t, err, storage.ErrTokenReused)
	require.NotNil(t, reused)
	assert.Equal(t, "fam-1", reused.FamilyID)

	_, err = s.ConsumeRefreshToken(ctx, "never-issued")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStore_ConsumeRefreshToken_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at, rt := tokenPair("at", "rt", "fam")
	require.NoError(t, s.SaveTokens(ctx, at, rt))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeRefreshToken(ctx, "rt"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStore_RevokeFamily(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at1, rt1 := tokenPair("at1", "rt1", "fam-a")
	at2, rt2 := tokenPair("at2", "rt2", "fam-b")
	require.NoError(t, s.SaveTokens(ctx, at1, rt1))
	require.NoError(t, s.SaveTokens(ctx, at2, rt2))

	n, err := s.RevokeFamily(ctx, "fam-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetToken(ctx, "at1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.GetToken(ctx, "at2")
	assert.NoError(t, err)

	_, err = s.RevokeFamily(ctx, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStore_AuthorizationCodes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	code := &storage.AuthorizationCode{Code: "code-1", ClientID: "c1", Scopes: []string{"openid"}, ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	got, err := s.GetAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.False(t, got.Used)

	redeemed, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, redeemed.Used)

	reused, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, "code-1")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeUsed)
	require.NotNil(t, reused)
	assert.Equal(t, "c1", reused.ClientID)

	expired := &storage.AuthorizationCode{Code: "code-2", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.SaveAuthorizationCode(ctx, expired))
	_, err = s.AtomicCheckAndMarkAuthCodeUsed(ctx, "code-2")
	assert.ErrorIs(t, err, storage.ErrTokenExpired)

	_, err = s.AtomicCheckAndMarkAuthCodeUsed(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)

	require.NoError(t, s.DeleteAuthorizationCode(ctx, "code-1"))
	_, err = s.GetAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func TestStore_AuthorizationCode_ConcurrentRedemption(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "c", ExpiresAt: time.Now().Add(time.Minute)}))

	var wins, reuses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, "c")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, storage.ErrAuthorizationCodeUsed):
				reuses.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(24), reuses.Load())
}

func TestStore_Tickets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ticket := &storage.Ticket{
		ID:        "t1",
		ClientID:  "rs",
		Lines:     []storage.TicketLine{{ResourceSetID: "photos", Scopes: []string{"read"}}},
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, s.SaveTicket(ctx, ticket))
	assert.ErrorIs(t, s.SaveTicket(ctx, &storage.Ticket{ID: "empty"}), storage.ErrInvalidInput)

	require.NoError(t, s.AuthorizeTicket(ctx, "t1"))
	got, err := s.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.IsAuthorizedByRO)

	redeemed, err := s.AtomicCheckAndMarkTicketUsed(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, redeemed.Used)

	_, err = s.AtomicCheckAndMarkTicketUsed(ctx, "t1")
	assert.ErrorIs(t, err, storage.ErrTicketUsed)
	assert.ErrorIs(t, s.AuthorizeTicket(ctx, "t1"), storage.ErrTicketUsed)

	require.NoError(t, s.DeleteTicket(ctx, "t1"))
	_, err = s.GetTicket(ctx, "t1")
	assert.ErrorIs(t, err, storage.ErrTicketNotFound)

	expired := &storage.Ticket{ID: "t2", Lines: ticket.Lines, ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.SaveTicket(ctx, expired))
	_, err = s.AtomicCheckAndMarkTicketUsed(ctx, "t2")
	assert.ErrorIs(t, err, storage.ErrTicketNotFound)
}

func TestStore_Consents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveConsent(ctx, &storage.Consent{Subject: "alice", ClientID: "c1", Scopes: []string{"openid"}}))

	got, err := s.GetConsent(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"openid"}, got.Scopes)
	assert.False(t, got.GrantedAt.IsZero())

	_, err = s.GetConsent(ctx, "alice", "c2")
	assert.ErrorIs(t, err, storage.ErrConsentNotFound)

	require.NoError(t, s.DeleteConsent(ctx, "alice", "c1"))
	assert.ErrorIs(t, s.DeleteConsent(ctx, "alice", "c1"), storage.ErrConsentNotFound)
	assert.ErrorIs(t, s.SaveConsent(ctx, &storage.Consent{Subject: "alice"}), storage.ErrInvalidInput)
}

func TestStore_ReplayCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fresh, err := s.MarkUsed(ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkUsed(ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, fresh)

	// an expired entry may be reused
	_, err = s.MarkUsed(ctx, "jti-2", time.Now().Add(-time.Second))
	require.NoError(t, err)
	fresh, err = s.MarkUsed(ctx, "jti-2", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestStore_ResourceSetsAndPolicies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Name: "photos", Scopes: []string{"read", "write"}, Owner: "alice"}))
	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs2", Name: "docs", Scopes: []string{"read"}, Owner: "alice"}))
	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs3", Name: "bob's", Scopes: []string{"read"}, Owner: "bob"}))
	assert.ErrorIs(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1"}), storage.ErrInvalidInput)

	list, err := s.ListResourceSets(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	rule := storage.PolicyRule{ID: "r", Scopes: []string{"read"}}
	require.NoError(t, s.SavePolicy(ctx, &storage.Policy{ID: "p1", ResourceSetIDs: []string{"rs1"}, Rules: []storage.PolicyRule{rule}}))
	require.NoError(t, s.SavePolicy(ctx, &storage.Policy{ID: "p2", ResourceSetIDs: []string{"rs1", "rs2"}, Rules: []storage.PolicyRule{rule}}))
	assert.ErrorIs(t, s.SavePolicy(ctx, &storage.Policy{ID: "p3", ResourceSetIDs: []string{"missing"}}), storage.ErrResourceSetNotFound)

	policies, err := s.ListPoliciesByResourceSet(ctx, "rs1")
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "p1", policies[0].ID)
	assert.Equal(t, "p2", policies[1].ID)

	// updating p1 keeps its position on rs1
	require.NoError(t, s.UpdatePolicy(ctx, &storage.Policy{ID: "p1", ResourceSetIDs: []string{"rs1"}, Rules: []storage.PolicyRule{{ID: "r2", Scopes: []string{"write"}}}}))
	policies, err = s.ListPoliciesByResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Equal(t, "p1", policies[0].ID)
	assert.Equal(t, []string{"write"}, policies[0].Rules[0].Scopes)

	// deleting rs1 removes p1 (attached only to rs1) and detaches p2
	require.NoError(t, s.DeleteResourceSet(ctx, "rs1"))
	_, err = s.GetPolicy(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrPolicyNotFound)
	p2, err := s.GetPolicy(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"rs2"}, p2.ResourceSetIDs)

	require.NoError(t, s.DeletePolicy(ctx, "p2"))
	rs2, err := s.GetResourceSet(ctx, "rs2")
	require.NoError(t, err)
	assert.Empty(t, rs2.PolicyIDs)

	_, err = s.ListPoliciesByResourceSet(ctx, "rs1")
	assert.ErrorIs(t, err, storage.ErrResourceSetNotFound)
	assert.ErrorIs(t, s.UpdateResourceSet(ctx, &storage.ResourceSet{ID: "rs1"}), storage.ErrResourceSetNotFound)
}

func TestStore_ScopesInUse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Scopes: []string{"read", "write"}, Owner: "alice"}))
	require.NoError(t, s.SavePolicy(ctx, &storage.Policy{
		ID:             "p1",
		ResourceSetIDs: []string{"rs1"},
		Rules:          []storage.PolicyRule{{ID: "r", Scopes: []string{"write"}}},
	}))

	err := s.UpdateResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Scopes: []string{"read"}, Owner: "alice"})
	assert.ErrorIs(t, err, storage.ErrScopeInUse)
	rs, err := s.GetResourceSet(ctx, "rs1")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, rs.Scopes, "a rejected update changes nothing")

	err = s.SavePolicy(ctx, &storage.Policy{
		ID:             "p2",
		ResourceSetIDs: []string{"rs1"},
		Rules:          []storage.PolicyRule{{ID: "r", Scopes: []string{"delete"}}},
	})
	assert.ErrorIs(t, err, storage.ErrScopeInUse)
	err = s.UpdatePolicy(ctx, &storage.Policy{
		ID:             "p1",
		ResourceSetIDs: []string{"rs1"},
		Rules:          []storage.PolicyRule{{ID: "r", Scopes: []string{"delete"}}},
	})
	assert.ErrorIs(t, err, storage.ErrScopeInUse)
}

func TestStore_ScopesInUse_Concurrent(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		s := newTestStore(t)
		require.NoError(t, s.SaveResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Scopes: []string{"read", "write"}, Owner: "alice"}))
		require.NoError(t, s.SavePolicy(ctx, &storage.Policy{
			ID:             "p1",
			ResourceSetIDs: []string{"rs1"},
			Rules:          []storage.PolicyRule{{ID: "r", Scopes: []string{"read"}}},
		}))

		// narrowing the resource set races with widening the policy
		var wg sync.WaitGroup
		var conflicts atomic.Int32
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.UpdateResourceSet(ctx, &storage.ResourceSet{ID: "rs1", Scopes: []string{"read"}, Owner: "alice"}); errors.Is(err, storage.ErrScopeInUse) {
				conflicts.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.UpdatePolicy(ctx, &storage.Policy{
				ID:             "p1",
				ResourceSetIDs: []string{"rs1"},
				Rules:          []storage.PolicyRule{{ID: "r", Scopes: []string{"write"}}},
			}); errors.Is(err, storage.ErrScopeInUse) {
				conflicts.Add(1)
			}
		}()
		wg.Wait()

		assert.Equal(t, int32(1), conflicts.Load())
		rs, err := s.GetResourceSet(ctx, "rs1")
		require.NoError(t, err)
		p, err := s.GetPolicy(ctx, "p1")
		require.NoError(t, err)
		assert.Empty(t, p.ScopesOutside(rs.Scopes))
	}
}

func TestStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveTokens(ctx, &storage.Token{Value: "old", Type: storage.TokenTypeAccess, IssuedAt: time.Now().Add(-time.Hour), ExpiresIn: time.Minute}))
	require.NoError(t, s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "old", ExpiresAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, s.SaveTicket(ctx, &storage.Ticket{ID: "old", Lines: []storage.TicketLine{{ResourceSetID: "x"}}, ExpiresAt: time.Now().Add(-time.Hour)}))

	s.cleanup()

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Empty(t, s.tokens)
	assert.Empty(t, s.codes)
	assert.Empty(t, s.tickets)
	assert.Equal(t, int64(0), s.tokensCount.Load())
}

func TestStore_WithInstrumentation(t *testing.T) {
	ctx := context.Background()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(ctx) }()

	s := newTestStore(t)
	s.SetInstrumentation(inst)

	require.NoError(t, s.SaveClient(ctx, publicClient("c")))
	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
	assert.Equal(t, int64(1), s.clientsCount.Load())
}
