package server

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/uma-oauth/internal/testutil"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

func aliceSession() *Session {
	return &Session{Subject: testutil.OwnerID, AuthTime: time.Now()}
}

func codeRequest(scope string) *AuthorizeRequest {
	challenge, _ := testutil.GeneratePKCEPair()
	return &AuthorizeRequest{
		ResponseType:        ResponseTypeCode,
		ClientID:            testutil.ClientID,
		RedirectURI:         testutil.RedirectURI,
		Scope:               scope,
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	}
}

// redirectParams returns the query or fragment parameters of a redirect
func redirectParams(t *testing.T, redirect string, fragment bool) url.Values {
	t.Helper()
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(redirect, testutil.RedirectURI), "redirect went to %s", redirect)
	if fragment {
		v, err := url.ParseQuery(u.Fragment)
		require.NoError(t, err)
		return v
	}
	return u.Query()
}

func TestAuthorize_UntrustedRequestsAreNotRedirected(t *testing.T) {
	setup := newTestServerSetup(t)

	tests := []struct {
		name     string
		mutate   func(*AuthorizeRequest)
		wantCode string
	}{
		{name: "missing client", mutate: func(r *AuthorizeRequest) { r.ClientID = "" }, wantCode: ErrorCodeInvalidRequest},
		{name: "unknown client", mutate: func(r *AuthorizeRequest) { r.ClientID = "nobody" }, wantCode: ErrorCodeInvalidRequest},
		{name: "missing redirect", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "" }, wantCode: ErrorCodeInvalidRedirectURI},
		{name: "unregistered redirect", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "https://evil.example.com/cb" }, wantCode: ErrorCodeInvalidRedirectURI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := codeRequest("api")
			tt.mutate(req)
			res, err := setup.srv.Authorize(context.Background(), req, aliceSession())
			assert.Nil(t, res)
			requireOAuthError(t, err, tt.wantCode)
		})
	}
	assert.True(t, containsAuditEvent(setup.logs(), security.EventInvalidRedirect))
}

func TestAuthorize_ErrorsAreRedirected(t *testing.T) {
	setup := newTestServerSetup(t)
	_, err := setup.srv.GrantConsent(context.Background(), testutil.OwnerID, testutil.ClientID, []string{"openid", "api"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		mutate   func(*AuthorizeRequest)
		fragment bool
		wantCode string
	}{
		{name: "missing response type", mutate: func(r *AuthorizeRequest) { r.ResponseType = "" }, wantCode: ErrorCodeInvalidRequest},
		{name: "unsupported response type", mutate: func(r *AuthorizeRequest) { r.ResponseType = "device" }, wantCode: ErrorCodeUnsupportedResponseType},
		{name: "missing scope", mutate: func(r *AuthorizeRequest) { r.Scope = "" }, wantCode: ErrorCodeInvalidRequest},
		{name: "unknown scope", mutate: func(r *AuthorizeRequest) { r.Scope = "api admin" }, wantCode: ErrorCodeInvalidScope},
		{name: "plain PKCE", mutate: func(r *AuthorizeRequest) { r.CodeChallengeMethod = PKCEMethodPlain }, wantCode: ErrorCodeInvalidRequest},
		{
			name:     "id_token without openid",
			mutate:   func(r *AuthorizeRequest) { r.ResponseType = "id_token"; r.Nonce = "n" },
			fragment: true,
			wantCode: ErrorCodeInvalidScope,
		},
		{
			name:     "id_token without nonce",
			mutate:   func(r *AuthorizeRequest) { r.ResponseType = "id_token"; r.Scope = "openid" },
			fragment: true,
			wantCode: ErrorCodeInvalidRequest,
		},
		{name: "prompt none combined", mutate: func(r *AuthorizeRequest) { r.Prompt = "none consent" }, wantCode: ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := codeRequest("api")
			tt.mutate(req)
			res, err := setup.srv.Authorize(context.Background(), req, aliceSession())
			require.NoError(t, err)
			require.Equal(t, ResultRedirect, res.Kind)

			params := redirectParams(t, res.RedirectURL, tt.fragment)
			assert.Equal(t, tt.wantCode, params.Get("error"))
			assert.Equal(t, "xyz", params.Get("state"))
			assert.Empty(t, params.Get("code"))
		})
	}
}

func TestAuthorize_LoginAndConsent(t *testing.T) {
	setup := newTestServerSetup(t)
	ctx := context.Background()

	t.Run("no session asks for login", func(t *testing.T) {
		res, err := setup.srv.Authorize(ctx, codeRequest("api"), nil)
		require.NoError(t, err)
		assert.Equal(t, ResultLoginRequired, res.Kind)
		assert.Equal(t, []string{"api"}, res.Scopes)
		assert.Equal(t, testutil.ClientID, res.Client.ClientID)
	})

	t.Run("prompt none without session", func(t *testing.T) {
		req := codeRequest("api")
		req.Prompt = PromptNone
		res, err := setup.srv.Authorize(ctx, req, nil)
		require.NoError(t, err)
		assert.Equal(t, ErrorCodeLoginRequired, redirectParams(t, res.RedirectURL, false).Get("error"))
	})

	t.Run("no consent asks for consent", func(t *testing.T) {
		res, err := setup.srv.Authorize(ctx, codeRequest("api"), aliceSession())
		require.NoError(t, err)
		assert.Equal(t, ResultConsentRequired, res.Kind)
	})

	t.Run("prompt none without consent", func(t *testing.T) {
		req := codeRequest("api")
		req.Prompt = PromptNone
		res, err := setup.srv.Authorize(ctx, req, aliceSession())
		require.NoError(t, err)
		assert.Equal(t, ErrorCodeConsentRequired, redirectParams(t, res.RedirectURL, false).Get("error"))
	})

	_, err := setup.srv.GrantConsent(ctx, testutil.OwnerID, testutil.ClientID, []string{"api"})
	require.NoError(t, err)

	t.Run("consent covers the request", func(t *testing.T) {
		req := codeRequest("api")
		req.Prompt = PromptNone
		res, err := setup.srv.Authorize(ctx, req, aliceSession())
		require.NoError(t, err)
		params := redirectParams(t, res.RedirectURL, false)
		assert.NotEmpty(t, params.Get("code"))
		assert.Equal(t, "xyz", params.Get("state"))
	})

	t.Run("prompt consent asks again", func(t *testing.T) {
		req := codeRequest("api")
		req.Prompt = PromptConsent
		res, err := setup.srv.Authorize(ctx, req, aliceSession())
		require.NoError(t, err)
		assert.Equal(t, ResultConsentRequired, res.Kind)
	})

	t.Run("wider scope asks again", func(t *testing.T) {
		res, err := setup.srv.Authorize(ctx, codeRequest("api email"), aliceSession())
		require.NoError(t, err)
		assert.Equal(t, ResultConsentRequired, res.Kind)
	})
}

func TestAuthorize_CodeIsStored(t *testing.T) {
	setup := newTestServerSetup(t)
	ctx := context.Background()
	_, err := setup.srv.GrantConsent(ctx, testutil.OwnerID, testutil.ClientID, []string{"openid", "api"})
	require.NoError(t, err)

	req := codeRequest("openid api")
	req.Nonce = "n-0S6_WzA2Mj"
	res, err := setup.srv.Authorize(ctx, req, aliceSession())
	require.NoError(t, err)

	code := redirectParams(t, res.RedirectURL, false).Get("code")
	stored, err := setup.store.GetAuthorizationCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerID, stored.Subject)
	assert.Equal(t, []string{"openid", "api"}, stored.Scopes)
	assert.Equal(t, req.CodeChallenge, stored.CodeChallenge)
	assert.Equal(t, "n-0S6_WzA2Mj", stored.Nonce)
	testutil.AssertTimeEqual(t, stored.ExpiresAt, time.Now().Add(DefaultAuthorizationCodeTTL), 5*time.Second)
	assert.True(t, containsAuditEvent(setup.logs(), security.EventAuthorizationCodeIssued))
}

func TestAuthorize_RequirePKCE(t *testing.T) {
	setup := newTestServerSetup(t)
	setup.saveClient(t, func(c *storage.Client) { c.RequirePKCE = true })
	_, err := setup.srv.GrantConsent(context.Background(), testutil.OwnerID, testutil.ClientID, []string{"api"})
	require.NoError(t, err)

	req := codeRequest("api")
	req.CodeChallenge = ""
	req.CodeChallengeMethod = ""
	res, err := setup.srv.Authorize(context.Background(), req, aliceSession())
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeInvalidRequest, redirectParams(t, res.RedirectURL, false).Get("error"))
}

func TestAuthorize_ImplicitUsesFragment(t *testing.T) {
	setup := newTestServerSetup(t)
	ctx := context.Background()
	_, err := setup.srv.GrantConsent(ctx, testutil.OwnerID, testutil.ClientID, []string{"openid", "api"})
	require.NoError(t, err)

	res, err := setup.srv.Authorize(ctx, &AuthorizeRequest{
		ResponseType: "token id_token",
		ClientID:     testutil.ClientID,
		RedirectURI:  testutil.RedirectURI,
		Scope:        "openid api",
		State:        "abc",
		Nonce:        "nonce-1",
	}, aliceSession())
	require.NoError(t, err)

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Empty(t, u.RawQuery, "tokens never travel in the query")

	params := redirectParams(t, res.RedirectURL, true)
	assert.NotEmpty(t, params.Get("access_token"))
	assert.Equal(t, "Bearer", params.Get("token_type"))
	assert.Equal(t, "abc", params.Get("state"))
	assert.Equal(t, "openid api", params.Get("scope"))

	setup.requireValid(t, params.Get("access_token"))

	payload := setup.srv.Codec.UnSign(ctx, params.Get("id_token"), nil)
	require.NotNil(t, payload)
	assert.Equal(t, testutil.OwnerID, payload.Subject())
	assert.Equal(t, "nonce-1", payload.Claim("nonce").String())
}

func TestGrantConsent(t *testing.T) {
	setup := newTestServerSetup(t)
	ctx := context.Background()

	_, err := setup.srv.GrantConsent(ctx, testutil.OwnerID, testutil.ClientID, []string{"api"})
	require.NoError(t, err)

	merged, err := setup.srv.GrantConsent(ctx, testutil.OwnerID, testutil.ClientID, []string{"openid", "api"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"openid", "api"}, merged.Scopes)

	stored, err := setup.store.GetConsent(ctx, testutil.OwnerID, testutil.ClientID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"openid", "api"}, stored.Scopes)
	assert.True(t, containsAuditEvent(setup.logs(), security.EventConsentGranted))

	tests := []struct {
		name     string
		subject  string
		clientID string
		scopes   []string
		wantCode string
	}{
		{name: "anonymous", clientID: testutil.ClientID, scopes: []string{"api"}, wantCode: ErrorCodeLoginRequired},
		{name: "no scopes", subject: testutil.OwnerID, clientID: testutil.ClientID, wantCode: ErrorCodeInvalidRequest},
		{name: "unknown client", subject: testutil.OwnerID, clientID: "nobody", scopes: []string{"api"}, wantCode: ErrorCodeInvalidRequest},
		{name: "scope not allowed", subject: testutil.OwnerID, clientID: testutil.ClientID, scopes: []string{"admin"}, wantCode: ErrorCodeInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := setup.srv.GrantConsent(ctx, tt.subject, tt.clientID, tt.scopes)
			requireOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestBuildRedirect(t *testing.T) {
	params := url.Values{"code": {"abc"}, "state": {"s 1"}}

	got := buildRedirect("https://example.com/cb?tenant=7", false, params)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "7", u.Query().Get("tenant"), "registered query parameters are kept")
	assert.Equal(t, "abc", u.Query().Get("code"))
	assert.Equal(t, "s 1", u.Query().Get("state"))

	got = buildRedirect("https://example.com/cb", true, params)
	assert.Equal(t, "https://example.com/cb#code=abc&state=s+1", got)
}
