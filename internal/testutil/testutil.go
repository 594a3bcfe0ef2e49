package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/uma-oauth/claims"
	"github.com/giantswarm/uma-oauth/storage"
)

// Fixture values shared by the tests of several packages
const (
	ClientID     = "test-client-id"
	ClientSecret = "test-client-secret"
	RedirectURI  = "https://example.com/callback"
	OwnerID      = "alice"
	OwnerSecret  = "correct horse battery staple"
)

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for testing.
// Returns (challenge, verifier) where challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// HashSecret bcrypt-hashes a secret with the minimum cost to keep tests fast
func HashSecret(t testing.TB, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	return string(h)
}

// GenerateTestClient creates a confidential client authenticating with
// client_secret_basic and allowed every grant type.
func GenerateTestClient(t testing.TB) *storage.Client {
	t.Helper()
	return &storage.Client{
		ClientID:   ClientID,
		ClientName: "Test Client",
		Secrets: []storage.ClientSecret{
			{Type: storage.SecretTypeSharedSecret, Value: HashSecret(t, ClientSecret)},
		},
		TokenEndpointAuthMethod: storage.AuthMethodClientSecretBasic,
		GrantTypes: []string{
			"authorization_code",
			"client_credentials",
			"password",
			"refresh_token",
			"urn:ietf:params:oauth:grant-type:uma-ticket",
		},
		ResponseTypes: []string{"code", "token", "id_token"},
		AllowedScopes: []string{"openid", "profile", "email", "role", "api", "uma_protection"},
		RedirectURIs:  []string{RedirectURI},
		CreatedAt:     time.Now(),
	}
}

// GenerateTestOwner creates a local resource owner whose password is OwnerSecret
func GenerateTestOwner(t testing.TB, id string, extra ...claims.Claim) *storage.ResourceOwner {
	t.Helper()
	set := claims.New(append([]claims.Claim{
		{Type: claims.Name, Value: "Alice Liddell"},
		{Type: claims.Email, Value: id + "@example.com"},
	}, extra...)...)
	return &storage.ResourceOwner{
		ID:             id,
		PasswordHash:   HashSecret(t, OwnerSecret),
		Claims:         set.Replace(claims.Subject, id),
		IsLocalAccount: true,
		CreatedAt:      time.Now(),
	}
}

// GenerateSigningKey creates an ES256 key pair as a JWK with a random kid
func GenerateSigningKey(t testing.TB) gojose.JSONWebKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return gojose.JSONWebKey{
		Key:       priv,
		KeyID:     uuid.NewString(),
		Algorithm: string(gojose.ES256),
		Use:       "sig",
	}
}

// PublicKeySet returns the public halves of keys as a key set
func PublicKeySet(keys ...gojose.JSONWebKey) gojose.JSONWebKeySet {
	set := gojose.JSONWebKeySet{}
	for _, k := range keys {
		set.Keys = append(set.Keys, k.Public())
	}
	return set
}

// SignJWT signs payload as a compact JWS with key
func SignJWT(t testing.TB, key gojose.JSONWebKey, payload map[string]any) string {
	t.Helper()
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	jws, err := signer.Sign(body)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	out, err := jws.CompactSerialize()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	return out
}

// ClientAssertion builds RFC 7523 client assertion claims for clientID
// addressed to audience, valid for five minutes.
func ClientAssertion(clientID, audience string) map[string]any {
	now := time.Now()
	return map[string]any{
		"iss": clientID,
		"sub": clientID,
		"aud": audience,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
}

// GenerateTestCertificate creates a self-signed client certificate and
// returns it with its hex SHA-256 thumbprint.
func GenerateTestCertificate(t testing.TB, commonName string) (*x509.Certificate, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"Example"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	sum := sha256.Sum256(der)
	return cert, hex.EncodeToString(sum[:])
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}
