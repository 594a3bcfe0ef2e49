package server

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/uma-oauth/internal/testutil"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

func TestAuthenticateClient_SharedSecret(t *testing.T) {
	setup := newTestServerSetup(t)
	setup.saveClient(t, func(c *storage.Client) {
		c.ClientID = "post-client"
		c.TokenEndpointAuthMethod = storage.AuthMethodClientSecretPost
	})

	tests := []struct {
		name    string
		creds   ClientCredentials
		wantErr bool
	}{
		{
			name:  "basic with header",
			creds: basicAuth(),
		},
		{
			name:    "basic with wrong secret",
			creds:   ClientCredentials{ClientID: testutil.ClientID, ClientSecret: "wrong", FromHeader: true},
			wantErr: true,
		},
		{
			name:    "basic client using the body",
			creds:   ClientCredentials{ClientID: testutil.ClientID, ClientSecret: testutil.ClientSecret},
			wantErr: true,
		},
		{
			name:  "post with body",
			creds: ClientCredentials{ClientID: "post-client", ClientSecret: testutil.ClientSecret},
		},
		{
			name:    "post client using the header",
			creds:   ClientCredentials{ClientID: "post-client", ClientSecret: testutil.ClientSecret, FromHeader: true},
			wantErr: true,
		},
		{
			name:    "empty secret",
			creds:   ClientCredentials{ClientID: "post-client"},
			wantErr: true,
		},
		{
			name:    "unknown client",
			creds:   ClientCredentials{ClientID: "nobody", ClientSecret: testutil.ClientSecret, FromHeader: true},
			wantErr: true,
		},
		{
			name:    "missing client_id",
			creds:   ClientCredentials{ClientSecret: testutil.ClientSecret},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := setup.srv.AuthenticateClient(context.Background(), &tt.creds)
			if tt.wantErr {
				oe := requireOAuthError(t, err, ErrorCodeInvalidClient)
				assert.Equal(t, "Client authentication failed", oe.Description, "the reason is never disclosed")
				assert.Equal(t, 401, oe.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.creds.ClientID, client.ClientID)
		})
	}
}

func TestAuthenticateClient_FailureIsAudited(t *testing.T) {
	setup := newTestServerSetup(t)

	_, err := setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:     testutil.ClientID,
		ClientSecret: "wrong",
		FromHeader:   true,
		ClientIP:     "203.0.113.7",
	})
	requireOAuthError(t, err, ErrorCodeInvalidClient)

	logs := setup.logs()
	assert.True(t, containsAuditEvent(logs, security.EventAuthFailure))
	assert.Contains(t, logs, "203.0.113.7")
	assert.NotContains(t, logs, "wrong", "presented secrets must never be logged")
}

func TestAuthenticateClient_PublicClient(t *testing.T) {
	setup := newTestServerSetup(t)
	setup.saveClient(t, func(c *storage.Client) {
		c.ClientID = "public-client"
		c.TokenEndpointAuthMethod = storage.AuthMethodNone
		c.Secrets = nil
	})

	client, err := setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{ClientID: "public-client"})
	require.NoError(t, err)
	assert.Equal(t, "public-client", client.ClientID)

	_, err = setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:     "public-client",
		ClientSecret: "anything",
	})
	requireOAuthError(t, err, ErrorCodeInvalidClient)
}

func TestAuthenticateClient_TLSClientAuth(t *testing.T) {
	setup := newTestServerSetup(t)
	cert, thumbprint := testutil.GenerateTestCertificate(t, "rs.example.com")
	other, _ := testutil.GenerateTestCertificate(t, "attacker.example.com")

	// registered with upper case and colons, as copied from openssl output
	var pretty []string
	for i := 0; i < len(thumbprint); i += 2 {
		pretty = append(pretty, strings.ToUpper(thumbprint[i:i+2]))
	}
	setup.saveClient(t, func(c *storage.Client) {
		c.ClientID = "mtls-thumbprint"
		c.TokenEndpointAuthMethod = storage.AuthMethodTLSClientAuth
		c.Secrets = []storage.ClientSecret{{Type: storage.SecretTypeX509Thumbprint, Value: strings.Join(pretty, ":")}}
	})
	setup.saveClient(t, func(c *storage.Client) {
		c.ClientID = "mtls-name"
		c.TokenEndpointAuthMethod = storage.AuthMethodTLSClientAuth
		c.Secrets = []storage.ClientSecret{{Type: storage.SecretTypeX509Name, Value: cert.Subject.String()}}
	})

	tests := []struct {
		name     string
		clientID string
		chain    []*x509.Certificate
		wantErr  bool
	}{
		{name: "thumbprint match", clientID: "mtls-thumbprint", chain: []*x509.Certificate{cert}},
		{name: "subject name match", clientID: "mtls-name", chain: []*x509.Certificate{cert}},
		{name: "thumbprint mismatch", clientID: "mtls-thumbprint", chain: []*x509.Certificate{other}, wantErr: true},
		{name: "subject mismatch", clientID: "mtls-name", chain: []*x509.Certificate{other}, wantErr: true},
		{name: "no certificate", clientID: "mtls-name", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{
				ClientID:         tt.clientID,
				PeerCertificates: tt.chain,
			})
			if tt.wantErr {
				requireOAuthError(t, err, ErrorCodeInvalidClient)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAuthenticateClient_PrivateKeyJWT(t *testing.T) {
	setup := newTestServerSetup(t)
	key := testutil.GenerateSigningKey(t)
	foreign := testutil.GenerateSigningKey(t)
	setup.saveClient(t, func(c *storage.Client) {
		c.ClientID = "jwt-client"
		c.TokenEndpointAuthMethod = storage.AuthMethodPrivateKeyJWT
		c.Secrets = nil
		c.JSONWebKeys = testutil.PublicKeySet(key)
	})
	tokenEndpoint := testIssuer + "/token"

	assertion := func(mutate func(map[string]any)) string {
		claims := testutil.ClientAssertion("jwt-client", tokenEndpoint)
		if mutate != nil {
			mutate(claims)
		}
		return testutil.SignJWT(t, key, claims)
	}

	tests := []struct {
		name      string
		clientID  string
		assertion string
		aType     string
		wantErr   bool
	}{
		{name: "valid", assertion: assertion(nil)},
		{name: "valid with client_id", clientID: "jwt-client", assertion: assertion(nil)},
		{name: "issuer as audience", assertion: assertion(func(c map[string]any) { c["aud"] = testIssuer })},
		{name: "audience list", assertion: assertion(func(c map[string]any) { c["aud"] = []string{"other", tokenEndpoint} })},
		{
			name:      "wrong audience",
			assertion: assertion(func(c map[string]any) { c["aud"] = "https://other.example.com/token" }),
			wantErr:   true,
		},
		{
			name:      "sub differs from iss",
			assertion: assertion(func(c map[string]any) { c["sub"] = "someone-else" }),
			wantErr:   true,
		},
		{
			name:      "expired",
			assertion: assertion(func(c map[string]any) { c["exp"] = time.Now().Add(-time.Minute).Unix() }),
			wantErr:   true,
		},
		{
			name:      "lifetime too long",
			assertion: assertion(func(c map[string]any) { c["exp"] = time.Now().Add(time.Hour).Unix() }),
			wantErr:   true,
		},
		{
			name:      "missing jti",
			assertion: assertion(func(c map[string]any) { delete(c, "jti") }),
			wantErr:   true,
		},
		{
			name:      "signed by a foreign key",
			assertion: testutil.SignJWT(t, foreign, testutil.ClientAssertion("jwt-client", tokenEndpoint)),
			wantErr:   true,
		},
		{
			name:      "client_id disagrees with iss",
			clientID:  testutil.ClientID,
			assertion: assertion(nil),
			wantErr:   true,
		},
		{
			name:      "wrong assertion type",
			assertion: assertion(nil),
			aType:     "urn:ietf:params:oauth:client-assertion-type:saml2-bearer",
			wantErr:   true,
		},
		{name: "malformed", assertion: "not-a-jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aType := tt.aType
			if aType == "" {
				aType = ClientAssertionTypeJWTBearer
			}
			client, err := setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{
				ClientID:            tt.clientID,
				ClientAssertion:     tt.assertion,
				ClientAssertionType: aType,
			})
			if tt.wantErr {
				requireOAuthError(t, err, ErrorCodeInvalidClient)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "jwt-client", client.ClientID)
		})
	}
}

func TestAuthenticateClient_UnsignedAssertionRejected(t *testing.T) {
	// unsigned claim tokens are allowed, client assertions must still be signed
	setup := newTestServerSetup(t, func(c *Config) {
		c.UMA.AllowUnsignedClaimTokens = true
	})
	key := testutil.GenerateSigningKey(t)
	setup.saveClient(t, func(c *storage.Client) {
		c.ClientID = "jwt-client"
		c.TokenEndpointAuthMethod = storage.AuthMethodPrivateKeyJWT
		c.Secrets = nil
		c.JSONWebKeys = testutil.PublicKeySet(key)
	})

	claims, err := json.Marshal(testutil.ClientAssertion("jwt-client", testIssuer+"/token"))
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	unsigned := enc.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)) + "." + enc.EncodeToString(claims) + "."

	for _, clientID := range []string{"", "jwt-client"} {
		client, err := setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{
			ClientID:            clientID,
			ClientAssertion:     unsigned,
			ClientAssertionType: ClientAssertionTypeJWTBearer,
		})
		requireOAuthError(t, err, ErrorCodeInvalidClient)
		assert.Nil(t, client)
	}
}

func TestAuthenticateClient_AssertionReplay(t *testing.T) {
	setup := newTestServerSetup(t)
	key := testutil.GenerateSigningKey(t)
	setup.saveClient(t, func(c *storage.Client) {
		c.ClientID = "jwt-client"
		c.TokenEndpointAuthMethod = storage.AuthMethodPrivateKeyJWT
		c.Secrets = nil
		c.JSONWebKeys = testutil.PublicKeySet(key)
	})

	creds := &ClientCredentials{
		ClientAssertion:     testutil.SignJWT(t, key, testutil.ClientAssertion("jwt-client", testIssuer+"/token")),
		ClientAssertionType: ClientAssertionTypeJWTBearer,
	}

	_, err := setup.srv.AuthenticateClient(context.Background(), creds)
	require.NoError(t, err)

	_, err = setup.srv.AuthenticateClient(context.Background(), creds)
	requireOAuthError(t, err, ErrorCodeInvalidClient)
	assert.True(t, containsAuditEvent(setup.logs(), security.EventAssertionReplayDetected))
}

func TestAuthenticateClient_ClientSecretJWT(t *testing.T) {
	setup := newTestServerSetup(t)
	shared := gojose.JSONWebKey{
		Key:       []byte(testutil.GenerateRandomString(32)),
		KeyID:     "hmac-1",
		Algorithm: string(gojose.HS256),
	}
	setup.saveClient(t, func(c *storage.Client) {
		c.ClientID = "hmac-client"
		c.TokenEndpointAuthMethod = storage.AuthMethodClientSecretJWT
		c.Secrets = nil
		c.JSONWebKeys = gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{shared}}
	})

	_, err := setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientAssertion:     testutil.SignJWT(t, shared, testutil.ClientAssertion("hmac-client", testIssuer)),
		ClientAssertionType: ClientAssertionTypeJWTBearer,
	})
	require.NoError(t, err)

	// a basic client cannot switch to assertions
	key := testutil.GenerateSigningKey(t)
	_, err = setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientAssertion:     testutil.SignJWT(t, key, testutil.ClientAssertion(testutil.ClientID, testIssuer)),
		ClientAssertionType: ClientAssertionTypeJWTBearer,
	})
	requireOAuthError(t, err, ErrorCodeInvalidClient)

	// an assertion client cannot fall back to a secret
	_, err = setup.srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:     "hmac-client",
		ClientSecret: "whatever",
		FromHeader:   true,
	})
	requireOAuthError(t, err, ErrorCodeInvalidClient)
}
