package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/uma-oauth/internal/testutil"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

func TestAuthenticatePAT(t *testing.T) {
	setup := newTestServerSetup(t)
	ctx := context.Background()

	withScope := setup.passwordTokens(t, DefaultProtectionScope)
	withoutScope := setup.passwordTokens(t, "api")

	cc, err := setup.srv.Token(ctx, &TokenRequest{
		GrantType:   GrantTypeClientCredentials,
		Credentials: basicAuth(),
		Scope:       DefaultProtectionScope,
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		pat       string
		wantOwner string
		wantCode  string
	}{
		{name: "resource owner PAT", pat: withScope.AccessToken, wantOwner: "alice"},
		{name: "client credentials PAT acts for the client", pat: cc.AccessToken, wantOwner: "test-client-id"},
		{name: "missing scope", pat: withoutScope.AccessToken, wantCode: ErrorCodeInsufficientScope},
		{name: "refresh token", pat: withScope.RefreshToken, wantCode: ErrorCodeInvalidToken},
		{name: "unknown", pat: "garbage", wantCode: ErrorCodeInvalidToken},
		{name: "empty", pat: "", wantCode: ErrorCodeInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := setup.srv.authenticatePAT(ctx, tt.pat)
			if tt.wantCode != "" {
				requireOAuthError(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, p.owner)
		})
	}
}

func TestCreatePermission(t *testing.T) {
	f := newUMAFixture(t)
	ctx := context.Background()

	ticketID, err := f.srv.CreatePermission(ctx, f.pat, PermissionRequest{
		ResourceSetID: f.resourceSetID,
		Scopes:        []string{"read"},
	})
	require.NoError(t, err)

	ticket, err := f.store.GetTicket(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, "alice", ticket.Owner)
	assert.Equal(t, "test-client-id", ticket.ClientID)
	assert.Equal(t, []storage.TicketLine{{ResourceSetID: f.resourceSetID, Scopes: []string{"read"}}}, ticket.Lines)
	assert.False(t, ticket.IsAuthorizedByRO)
	assert.WithinDuration(t, time.Now().Add(DefaultTicketTTL), ticket.ExpiresAt, 5*time.Second)
	assert.True(t, containsAuditEvent(f.logs(), security.EventTicketIssued))

	// a resource set of another owner
	other := f.passwordTokensFor(t, "bob")
	foreign, err := f.srv.CreateResourceSet(ctx, other, ResourceSetRequest{Name: "Bob's", Scopes: []string{"read"}})
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      PermissionRequest
		wantCode string
	}{
		{name: "unknown resource set", req: PermissionRequest{ResourceSetID: "nope", Scopes: []string{"read"}}, wantCode: ErrorCodeInvalidResourceSetID},
		{name: "resource set of another owner", req: PermissionRequest{ResourceSetID: foreign.ID, Scopes: []string{"read"}}, wantCode: ErrorCodeInvalidResourceSetID},
		{name: "unregistered scope", req: PermissionRequest{ResourceSetID: f.resourceSetID, Scopes: []string{"delete"}}, wantCode: ErrorCodeInvalidScope},
		{name: "no scopes", req: PermissionRequest{ResourceSetID: f.resourceSetID}, wantCode: ErrorCodeInvalidRequest},
		{name: "no resource set", req: PermissionRequest{Scopes: []string{"read"}}, wantCode: ErrorCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.srv.CreatePermission(ctx, f.pat, tt.req)
			requireOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestCreatePermissions(t *testing.T) {
	f := newUMAFixture(t)
	ctx := context.Background()

	second, err := f.srv.CreateResourceSet(ctx, f.pat, ResourceSetRequest{Name: "Calendar", Scopes: []string{"view"}})
	require.NoError(t, err)

	ids, err := f.srv.CreatePermissions(ctx, f.pat, []PermissionRequest{
		{ResourceSetID: f.resourceSetID, Scopes: []string{"read", "write"}},
		{ResourceSetID: second.ID, Scopes: []string{"view"}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	ticket, err := f.store.GetTicket(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, second.ID, ticket.Lines[0].ResourceSetID)

	t.Run("one invalid request stores nothing", func(t *testing.T) {
		before := f.ticketCount(t)
		_, err := f.srv.CreatePermissions(ctx, f.pat, []PermissionRequest{
			{ResourceSetID: f.resourceSetID, Scopes: []string{"read"}},
			{ResourceSetID: "unknown", Scopes: []string{"read"}},
		})
		requireOAuthError(t, err, ErrorCodeInvalidResourceSetID)
		assert.Equal(t, before, f.ticketCount(t))
	})

	t.Run("empty list", func(t *testing.T) {
		_, err := f.srv.CreatePermissions(ctx, f.pat, nil)
		requireOAuthError(t, err, ErrorCodeInvalidRequest)
	})
}

// passwordTokensFor registers owner and returns a PAT issued to them
func (f *umaFixture) passwordTokensFor(t *testing.T, owner string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveResourceOwner(ctx, testutil.GenerateTestOwner(t, owner)))

	issued, err := f.srv.Token(ctx, &TokenRequest{
		GrantType:   GrantTypePassword,
		Credentials: basicAuth(),
		Username:    owner,
		Password:    testutil.OwnerSecret,
		Scope:       DefaultProtectionScope,
	})
	require.NoError(t, err)
	return issued.AccessToken
}

func (f *umaFixture) ticketCount(t *testing.T) int {
	t.Helper()
	return f.store.Stats().Tickets
}
