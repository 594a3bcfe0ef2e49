package jose

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/uma-oauth/storage"
	"github.com/giantswarm/uma-oauth/storage/memory"
)

func signJWS(t *testing.T, alg gojose.SignatureAlgorithm, key any, kid string, claims map[string]any) string {
	t.Helper()
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: alg, Key: &gojose.JSONWebKey{Key: key, KeyID: kid}},
		(&gojose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	obj, err := signer.Sign(payload)
	require.NoError(t, err)
	out, err := obj.CompactSerialize()
	require.NoError(t, err)
	return out
}

func encryptJWE(t *testing.T, rcpt gojose.Recipient, plaintext []byte) string {
	t.Helper()
	enc, err := gojose.NewEncrypter(gojose.A256GCM, rcpt, nil)
	require.NoError(t, err)
	obj, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	out, err := obj.CompactSerialize()
	require.NoError(t, err)
	return out
}

func unsignedJWS(claims string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)) + "." + enc.EncodeToString([]byte(claims)) + "."
}

type codecFixture struct {
	codec  *Codec
	keys   *GeneratingProvider
	store  *memory.Store
	signer testKey
	client *storage.Client
}

func newCodecFixture(t *testing.T, cfg Config) *codecFixture {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	signer := newTestKey(t, "client-sig")
	client := &storage.Client{
		ClientID:                "rp",
		TokenEndpointAuthMethod: storage.AuthMethodPrivateKeyJWT,
		JSONWebKeys:             gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{signer.jwk}},
	}
	require.NoError(t, store.SaveClient(context.Background(), client))

	keys := NewGeneratingProvider()
	return &codecFixture{
		codec:  NewCodec(cfg, NewKeyResolver(cfg, keys), keys, store),
		keys:   keys,
		store:  store,
		signer: signer,
		client: client,
	}
}

func TestCodec_UnSign(t *testing.T) {
	ctx := context.Background()
	f := newCodecFixture(t, Config{})
	other := newTestKey(t, "client-sig")

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	hmacClient := &storage.Client{
		ClientID: "hmac",
		JSONWebKeys: gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{
			{Key: secret, KeyID: "shared", Algorithm: "HS256"},
		}},
	}

	claims := map[string]any{"iss": "rp", "sub": "rp", "exp": time.Now().Add(time.Minute).Unix()}

	tests := []struct {
		name   string
		jws    string
		client *storage.Client
		wantOK bool
	}{
		{name: "ES256 with registered key", jws: signJWS(t, gojose.ES256, f.signer.priv, "client-sig", claims), client: f.client, wantOK: true},
		{name: "signed by another key with the same kid", jws: signJWS(t, gojose.ES256, other.priv, "client-sig", claims), client: f.client},
		{name: "unknown kid", jws: signJWS(t, gojose.ES256, f.signer.priv, "nope", claims), client: f.client},
		{name: "HS256 with shared key", jws: signJWS(t, gojose.HS256, secret, "shared", claims), client: hmacClient, wantOK: true},
		{name: "alg none rejected by default", jws: unsignedJWS(`{"sub":"x"}`), client: f.client},
		{name: "not a JWS", jws: "not-a-jws", client: f.client},
		{name: "garbage header", jws: "!!!.e30.sig", client: f.client},
		{name: "header without alg", jws: base64.RawURLEncoding.EncodeToString([]byte(`{"kid":"x"}`)) + ".e30.sig", client: f.client},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := f.codec.UnSign(ctx, tt.jws, tt.client)
			if !tt.wantOK {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, "rp", p.Subject())
			assert.Equal(t, "rp", p.Issuer())
		})
	}
}

func TestCodec_UnSignWithOptions_AllowNone(t *testing.T) {
	// no key source at all: alg none must not need one
	c := NewCodec(Config{}, NewKeyResolver(Config{}, nil), nil, nil)
	opts := UnSignOptions{AllowNone: true}

	for _, claims := range []string{`{"sub":"alice"}`, `{"sub":"alice","kid":"ignored"}`} {
		p := c.UnSignWithOptions(context.Background(), unsignedJWS(claims), nil, opts)
		require.NotNil(t, p)
		assert.Equal(t, "alice", p.Subject())
	}

	assert.Nil(t, c.UnSignWithOptions(context.Background(), unsignedJWS(`"not an object"`), nil, opts))

	// the issuer still has to match
	withIssuer := UnSignOptions{AllowNone: true, Issuer: "https://op.example.com"}
	assert.NotNil(t, c.UnSignWithOptions(context.Background(), unsignedJWS(`{"iss":"https://op.example.com/"}`), nil, withIssuer))
	assert.Nil(t, c.UnSignWithOptions(context.Background(), unsignedJWS(`{"iss":"https://evil.example.com"}`), nil, withIssuer))
}

func TestCodec_UnSign_NeverAcceptsNone(t *testing.T) {
	ctx := context.Background()
	f := newCodecFixture(t, Config{AllowInternalJWKSURIs: true})
	jws := unsignedJWS(`{"iss":"rp","sub":"rp","aud":"https://auth.example.com/token"}`)

	// the same codec serves claim tokens that may be unsigned
	require.NotNil(t, f.codec.UnSignWithOptions(ctx, jws, f.client, UnSignOptions{AllowNone: true}))

	assert.Nil(t, f.codec.UnSign(ctx, jws, f.client))
	assert.Nil(t, f.codec.UnSign(ctx, jws, nil))

	p, err := f.codec.UnSignWithClient(ctx, jws, "rp")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCodec_UnSignWithOptions_Issuer(t *testing.T) {
	ctx := context.Background()
	opKey := newTestKey(t, "op-key")
	op := providerServer(t, opKey.jwk)

	keys := NewGeneratingProvider()
	cfg := Config{AllowInternalJWKSURIs: true, Issuer: "https://auth.example.com"}
	c := NewCodec(cfg, NewKeyResolver(cfg, keys), keys, nil)

	serverSigned, err := c.Sign(ctx, map[string]any{"iss": "https://auth.example.com", "sub": "alice"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		jws    string
		issuer string
		wantOK bool
	}{
		{
			name:   "signed by the provider",
			jws:    signJWS(t, gojose.ES256, opKey.priv, "op-key", map[string]any{"iss": op.URL, "sub": "alice"}),
			issuer: op.URL,
			wantOK: true,
		},
		{
			name:   "provider key but another iss",
			jws:    signJWS(t, gojose.ES256, opKey.priv, "op-key", map[string]any{"iss": "https://other.example.com", "sub": "alice"}),
			issuer: op.URL,
		},
		{
			name:   "signed by a key the provider does not publish",
			jws:    signJWS(t, gojose.ES256, newTestKey(t, "op-key").priv, "op-key", map[string]any{"iss": op.URL, "sub": "alice"}),
			issuer: op.URL,
		},
		{
			name:   "server token verified against the provider",
			jws:    serverSigned,
			issuer: op.URL,
		},
		{
			name:   "server issuer uses the server keys",
			jws:    serverSigned,
			issuer: "https://auth.example.com/",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := c.UnSignWithOptions(ctx, tt.jws, nil, UnSignOptions{Issuer: tt.issuer})
			if !tt.wantOK {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, "alice", p.Subject())
		})
	}
}

func TestCodec_UnSignWithClient(t *testing.T) {
	ctx := context.Background()
	f := newCodecFixture(t, Config{})
	jws := signJWS(t, gojose.ES256, f.signer.priv, "client-sig", map[string]any{"sub": "rp"})

	p, err := f.codec.UnSignWithClient(ctx, jws, "rp")
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = f.codec.UnSignWithClient(ctx, jws, "unknown")
	assert.ErrorIs(t, err, ErrClientNotValid)

	// verification failure is soft
	p, err = f.codec.UnSignWithClient(ctx, jws+"x", "rp")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCodec_SignRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newCodecFixture(t, Config{})

	jws, err := f.codec.Sign(ctx, map[string]any{"sub": "alice", "role": []string{"admin", "user"}})
	require.NoError(t, err)

	p := f.codec.UnSign(ctx, jws, nil)
	require.NotNil(t, p)
	assert.Equal(t, []string{"admin", "user"}, p.StringValues("role"))

	// a client key set does not verify server signatures
	assert.Nil(t, f.codec.UnSign(ctx, jws, f.client))
}

func TestCodec_Decrypt(t *testing.T) {
	ctx := context.Background()
	f := newCodecFixture(t, Config{})

	dec, err := f.keys.DecryptionKey(ctx, "")
	require.NoError(t, err)
	serverRcpt := gojose.Recipient{Algorithm: gojose.RSA_OAEP, Key: dec.Public().Key, KeyID: dec.KeyID}

	t.Run("plain claims to the server key", func(t *testing.T) {
		jwe := encryptJWE(t, serverRcpt, []byte(`{"sub":"alice"}`))
		p := f.codec.Decrypt(ctx, jwe, nil)
		require.NotNil(t, p)
		assert.Equal(t, "alice", p.Subject())
	})

	t.Run("nested JWS is verified", func(t *testing.T) {
		inner, err := f.codec.Sign(ctx, map[string]any{"sub": "bob"})
		require.NoError(t, err)
		p := f.codec.Decrypt(ctx, encryptJWE(t, serverRcpt, []byte(inner)), nil)
		require.NotNil(t, p)
		assert.Equal(t, "bob", p.Subject())

		// tampered nested signature
		p = f.codec.Decrypt(ctx, encryptJWE(t, serverRcpt, []byte(inner[:len(inner)-4]+"AAAA")), nil)
		assert.Nil(t, p)
	})

	t.Run("unknown server kid", func(t *testing.T) {
		rcpt := serverRcpt
		rcpt.KeyID = "other"
		assert.Nil(t, f.codec.Decrypt(ctx, encryptJWE(t, rcpt, []byte(`{}`)), nil))
	})

	t.Run("client key", func(t *testing.T) {
		kek := make([]byte, 32)
		_, err := rand.Read(kek)
		require.NoError(t, err)
		client := &storage.Client{
			ClientID:                "sym",
			TokenEndpointAuthMethod: storage.AuthMethodClientSecretJWT,
			JSONWebKeys: gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{
				{Key: kek, KeyID: "kek", Algorithm: string(gojose.A256KW), Use: "enc"},
			}},
		}
		require.NoError(t, f.store.SaveClient(ctx, client))

		jwe := encryptJWE(t, gojose.Recipient{Algorithm: gojose.A256KW, Key: kek, KeyID: "kek"}, []byte(`{"sub":"carol"}`))

		p, err := f.codec.DecryptWithClient(ctx, jwe, "sym")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "carol", p.Subject())

		// the server key cannot open it
		assert.Nil(t, f.codec.Decrypt(ctx, jwe, nil))

		_, err = f.codec.DecryptWithClient(ctx, jwe, "unknown")
		assert.ErrorIs(t, err, ErrClientNotValid)
	})

	t.Run("not a JWE", func(t *testing.T) {
		assert.Nil(t, f.codec.Decrypt(ctx, "a.b.c", nil))
		assert.Nil(t, f.codec.Decrypt(ctx, "", nil))
	})
}

func TestCodec_DecryptWithPassword(t *testing.T) {
	ctx := context.Background()
	f := newCodecFixture(t, Config{})
	password := "correct horse battery staple"

	jwe := encryptJWE(t, gojose.Recipient{
		Algorithm:  gojose.PBES2_HS256_A128KW,
		Key:        []byte(password),
		PBES2Count: 4096,
	}, []byte(`{"sub":"dave","scope":"read"}`))

	p := f.codec.DecryptWithPassword(ctx, jwe, password)
	require.NotNil(t, p)
	assert.Equal(t, "dave", p.Subject())
	assert.Equal(t, "read", p.Get("scope").String())

	assert.Nil(t, f.codec.DecryptWithPassword(ctx, jwe, "wrong"))
	assert.Nil(t, f.codec.DecryptWithPassword(ctx, jwe, ""))

	p, err := f.codec.DecryptWithPasswordAndClient(ctx, jwe, "rp", password)
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = f.codec.DecryptWithPasswordAndClient(ctx, jwe, "unknown", password)
	assert.ErrorIs(t, err, ErrClientNotValid)

	// the password is the key itself for dir
	key := []byte("0123456789abcdef0123456789abcdef")
	direct := encryptJWE(t, gojose.Recipient{Algorithm: gojose.DIRECT, Key: key}, []byte(`{"sub":"erin"}`))
	p = f.codec.DecryptWithPassword(ctx, direct, string(key))
	require.NotNil(t, p)
	assert.Equal(t, "erin", p.Subject())
}

func TestPayload(t *testing.T) {
	p := newPayload([]byte(`{
		"iss": "https://issuer.example.com",
		"sub": "alice",
		"aud": "api",
		"exp": 1700000000,
		"jti": "abc",
		"role": ["admin", "user"],
		"email": "alice@example.com",
		"address": {"country": "DE"},
		"https://example.com/tenant": "acme"
	}`))
	require.NotNil(t, p)

	assert.Equal(t, "https://issuer.example.com", p.Issuer())
	assert.Equal(t, "alice", p.Subject())
	assert.Equal(t, []string{"api"}, p.Audience())
	assert.Equal(t, time.Unix(1700000000, 0), p.ExpiresAt())
	assert.True(t, p.IssuedAt().IsZero())
	assert.Equal(t, "abc", p.ID())
	assert.Equal(t, []string{"admin", "user"}, p.StringValues("role"))
	assert.Equal(t, []string{"alice@example.com"}, p.StringValues("email"))
	assert.Nil(t, p.StringValues("missing"))
	assert.Equal(t, "DE", p.Get("address.country").String())
	assert.Equal(t, "acme", p.Claim("https://example.com/tenant").String())
	assert.Equal(t, "alice", p.Claims()["sub"])

	assert.Nil(t, newPayload([]byte(`[1,2]`)))
	assert.Nil(t, newPayload([]byte(`{bad`)))
}
