package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/uma-oauth/internal/testutil"
	"github.com/giantswarm/uma-oauth/storage"
)

func TestIntrospectAndRevoke(t *testing.T) {
	setup := newTestServerSetup(t)
	ctx := context.Background()
	creds := basicAuth()

	issued := setup.passwordTokens(t, "openid api")

	res, err := setup.srv.Introspect(ctx, &creds, issued.AccessToken, "access_token")
	require.NoError(t, err)
	assert.True(t, res.Active)
	assert.Equal(t, testutil.ClientID, res.ClientID)
	assert.Equal(t, "openid api", res.Scope)
	assert.Equal(t, testutil.OwnerID, res.Subject)

	require.NoError(t, setup.srv.Revoke(ctx, &creds, issued.AccessToken, "access_token"))

	res, err = setup.srv.Introspect(ctx, &creds, issued.AccessToken, "")
	require.NoError(t, err)
	assert.False(t, res.Active)
	assert.Empty(t, res.ClientID, "inactive responses carry no claims")

	// the refresh token of the same grant survives
	res, err = setup.srv.Introspect(ctx, &creds, issued.RefreshToken, "refresh_token")
	require.NoError(t, err)
	assert.True(t, res.Active)

	t.Run("revoking twice is invalid_token", func(t *testing.T) {
		err := setup.srv.Revoke(ctx, &creds, issued.AccessToken, "")
		requireOAuthError(t, err, ErrorCodeInvalidToken)
	})

	t.Run("unknown token is invalid_token", func(t *testing.T) {
		err := setup.srv.Revoke(ctx, &creds, "nonexistent-value", "")
		requireOAuthError(t, err, ErrorCodeInvalidToken)
	})

	t.Run("missing token", func(t *testing.T) {
		err := setup.srv.Revoke(ctx, &creds, "", "")
		requireOAuthError(t, err, ErrorCodeInvalidRequest)
		_, err = setup.srv.Introspect(ctx, &creds, "", "")
		requireOAuthError(t, err, ErrorCodeInvalidRequest)
	})
}

func TestRevoke_OtherClient(t *testing.T) {
	setup := newTestServerSetup(t)
	ctx := context.Background()
	setup.saveClient(t, func(c *storage.Client) { c.ClientID = "other" })

	issued := setup.passwordTokens(t, "api")
	other := ClientCredentials{ClientID: "other", ClientSecret: testutil.ClientSecret, FromHeader: true}

	err := setup.srv.Revoke(ctx, &other, issued.AccessToken, "")
	requireOAuthError(t, err, ErrorCodeInvalidToken)
	setup.requireValid(t, issued.AccessToken)
}

func TestIntrospect_RequiresClientAuthentication(t *testing.T) {
	setup := newTestServerSetup(t)
	ctx := context.Background()
	issued := setup.passwordTokens(t, "api")

	tests := []struct {
		name  string
		creds ClientCredentials
	}{
		{name: "no credentials"},
		{name: "client id only", creds: ClientCredentials{ClientID: testutil.ClientID}},
		{name: "wrong secret", creds: ClientCredentials{ClientID: testutil.ClientID, ClientSecret: "nope", FromHeader: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := setup.srv.Introspect(ctx, &tt.creds, issued.AccessToken, "")
			requireOAuthError(t, err, ErrorCodeInvalidClient)

			err = setup.srv.Revoke(ctx, &tt.creds, issued.AccessToken, "")
			requireOAuthError(t, err, ErrorCodeInvalidClient)
		})
	}
	setup.requireValid(t, issued.AccessToken)
}
