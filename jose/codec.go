package jose

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/storage"
)

// ErrClientNotValid is returned by the client-bound operations when the
// client does not exist.
var ErrClientNotValid = errors.New("client is not valid")

const algNone = "none"

var signatureAlgorithms = []gojose.SignatureAlgorithm{
	gojose.RS256, gojose.RS384, gojose.RS512,
	gojose.PS256, gojose.PS384, gojose.PS512,
	gojose.ES256, gojose.ES384, gojose.ES512,
	gojose.HS256, gojose.HS384, gojose.HS512,
	gojose.EdDSA,
}

var keyAlgorithms = []gojose.KeyAlgorithm{
	gojose.RSA_OAEP, gojose.RSA_OAEP_256,
	gojose.ECDH_ES, gojose.ECDH_ES_A128KW, gojose.ECDH_ES_A192KW, gojose.ECDH_ES_A256KW,
	gojose.A128KW, gojose.A192KW, gojose.A256KW,
	gojose.A128GCMKW, gojose.A192GCMKW, gojose.A256GCMKW,
	gojose.DIRECT,
}

var passwordKeyAlgorithms = []gojose.KeyAlgorithm{
	gojose.PBES2_HS256_A128KW, gojose.PBES2_HS384_A192KW, gojose.PBES2_HS512_A256KW,
	gojose.A128KW, gojose.A192KW, gojose.A256KW,
	gojose.DIRECT,
}

var contentEncryptions = []gojose.ContentEncryption{
	gojose.A128CBC_HS256, gojose.A192CBC_HS384, gojose.A256CBC_HS512,
	gojose.A128GCM, gojose.A192GCM, gojose.A256GCM,
}

// Codec verifies, decrypts and signs compact JOSE values.
type Codec struct {
	config   Config
	resolver *KeyResolver
	keys     KeyProvider
	clients  storage.ClientStore
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewCodec creates a codec. keys supplies the server's decryption and
// signing keys; clients backs the client-bound operations.
func NewCodec(cfg Config, resolver *KeyResolver, keys KeyProvider, clients storage.ClientStore) *Codec {
	cfg.applySecureDefaults()
	return &Codec{
		config:   cfg,
		resolver: resolver,
		keys:     keys,
		clients:  clients,
		logger:   cfg.Logger,
	}
}

// SetInstrumentation enables tracing of codec operations
func (c *Codec) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		c.tracer = inst.Tracer("jose")
	}
	c.resolver.SetInstrumentation(inst)
}

// ============================================================
// JWS
// ============================================================

// UnSignOptions adjusts how a single JWS is verified.
type UnSignOptions struct {
	// AllowNone accepts alg "none" without a key lookup. Only UMA claim
	// tokens may be unsigned; client assertions never set it.
	AllowNone bool

	// Issuer verifies with the keys published by this OpenID provider
	// instead of the client or server keys, and requires a matching iss.
	Issuer string
}

// UnSign verifies a compact JWS and returns its payload. The key is found
// by the header kid through the KeyResolver: among client's keys, or the
// server's when client is nil. alg "none" is always rejected. Any failure
// yields nil.
func (c *Codec) UnSign(ctx context.Context, jws string, client *storage.Client) *Payload {
	return c.UnSignWithOptions(ctx, jws, client, UnSignOptions{})
}

// UnSignWithOptions is UnSign with per-call verification options.
func (c *Codec) UnSignWithOptions(ctx context.Context, jws string, client *storage.Client, opts UnSignOptions) *Payload {
	ctx, span := c.startSpan(ctx, "unsign")
	defer span.End()

	h, ok := parseHeader(jws, 3)
	if !ok {
		return nil
	}
	span.SetAttributes(attribute.String(instrumentation.AttrJOSEAlgorithm, h.Alg))

	if strings.EqualFold(h.Alg, algNone) {
		if !opts.AllowNone {
			c.logger.Debug("Rejected unsigned JWS")
			return nil
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.Split(jws, ".")[1])
		if err != nil {
			return nil
		}
		return c.checkIssuer(newPayload(raw), opts)
	}

	parsed, err := gojose.ParseSigned(jws, signatureAlgorithms)
	if err != nil {
		c.logger.Debug("Failed to parse JWS", "error", err)
		return nil
	}

	var res ResolveResult
	if opts.Issuer != "" {
		res = c.resolver.ResolveIssuer(ctx, opts.Issuer, h.Kid)
	} else {
		res = c.resolver.Resolve(ctx, h.Kid, client)
	}
	if !res.OK() {
		c.logger.Debug("No key for JWS", "kid", h.Kid, "alg", h.Alg, "issuer", opts.Issuer)
		return nil
	}
	span.SetAttributes(attribute.String(instrumentation.AttrJOSEKeyID, res.Key.KeyID))

	out, err := parsed.Verify(verificationKey(res.Key))
	if err != nil {
		c.logger.Debug("JWS signature verification failed", "kid", h.Kid, "error", err)
		return nil
	}
	p := c.checkIssuer(newPayload(out), opts)
	if p != nil {
		instrumentation.SetSpanSuccess(span)
	}
	return p
}

// checkIssuer drops p unless its iss matches opts.Issuer, when one is set.
func (c *Codec) checkIssuer(p *Payload, opts UnSignOptions) *Payload {
	if p == nil || opts.Issuer == "" {
		return p
	}
	if !SameIssuer(p.Issuer(), opts.Issuer) {
		c.logger.Debug("JWS issuer mismatch", "iss", p.Issuer(), "want", opts.Issuer)
		return nil
	}
	return p
}

// UnSignWithClient is UnSign for the client identified by clientID. An
// unknown client is an error; a verification failure is a nil payload.
func (c *Codec) UnSignWithClient(ctx context.Context, jws, clientID string) (*Payload, error) {
	client, err := c.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return c.UnSign(ctx, jws, client), nil
}

// Sign serializes claims as a compact JWS signed with the server key.
func (c *Codec) Sign(ctx context.Context, claims any) (string, error) {
	key, err := c.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load signing key: %w", err)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{
			Algorithm: gojose.SignatureAlgorithm(key.Algorithm),
			Key:       &gojose.JSONWebKey{Key: key.Key, KeyID: key.KeyID},
		},
		(&gojose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return obj.CompactSerialize()
}

// ============================================================
// JWE
// ============================================================

// Decrypt decrypts a compact JWE with the key named by its header kid: a
// server decryption key when client is nil, otherwise one of the client's
// registered keys. A nested JWS is verified with UnSign. Any failure
// yields nil.
func (c *Codec) Decrypt(ctx context.Context, jwe string, client *storage.Client) *Payload {
	return c.DecryptWithOptions(ctx, jwe, client, UnSignOptions{})
}

// DecryptWithOptions is Decrypt with options for the nested JWS. The
// decryption key is chosen as in Decrypt; opts.Issuer also applies to a
// plain JSON plaintext.
func (c *Codec) DecryptWithOptions(ctx context.Context, jwe string, client *storage.Client, opts UnSignOptions) *Payload {
	ctx, span := c.startSpan(ctx, "decrypt")
	defer span.End()

	h, ok := parseHeader(jwe, 5)
	if !ok {
		return nil
	}
	span.SetAttributes(attribute.String(instrumentation.AttrJOSEAlgorithm, h.Alg))

	obj, err := gojose.ParseEncrypted(jwe, keyAlgorithms, contentEncryptions)
	if err != nil {
		c.logger.Debug("Failed to parse JWE", "error", err)
		return nil
	}

	var key *gojose.JSONWebKey
	if client == nil {
		if c.keys == nil {
			return nil
		}
		key, err = c.keys.DecryptionKey(ctx, h.Kid)
		if err != nil {
			c.logger.Debug("No server key for JWE", "kid", h.Kid, "error", err)
			return nil
		}
	} else {
		key, ok = findKey(client.JSONWebKeys, h.Kid)
		if !ok {
			c.logger.Debug("No client key for JWE", "client_id", client.ClientID, "kid", h.Kid)
			return nil
		}
	}

	plaintext, err := obj.Decrypt(key)
	if err != nil {
		c.logger.Debug("JWE decryption failed", "kid", h.Kid, "error", err)
		return nil
	}
	instrumentation.SetSpanSuccess(span)
	return c.unwrap(ctx, plaintext, client, opts)
}

// DecryptWithClient is Decrypt for the client identified by clientID.
func (c *Codec) DecryptWithClient(ctx context.Context, jwe, clientID string) (*Payload, error) {
	client, err := c.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(ctx, jwe, client), nil
}

// DecryptWithPassword decrypts a JWE protected by a shared password
// (PBES2), or by the password bytes used directly as the key (dir, A*KW).
// A nested JWS is verified against the server keys.
func (c *Codec) DecryptWithPassword(ctx context.Context, jwe, password string) *Payload {
	plaintext, ok := c.decryptWithPassword(jwe, password)
	if !ok {
		return nil
	}
	return c.unwrap(ctx, plaintext, nil, UnSignOptions{})
}

// DecryptWithPasswordAndClient is DecryptWithPassword for a client; a
// nested JWS is verified against the client's keys.
func (c *Codec) DecryptWithPasswordAndClient(ctx context.Context, jwe, clientID, password string) (*Payload, error) {
	client, err := c.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	plaintext, ok := c.decryptWithPassword(jwe, password)
	if !ok {
		return nil, nil
	}
	return c.unwrap(ctx, plaintext, client, UnSignOptions{}), nil
}

func (c *Codec) decryptWithPassword(jwe, password string) ([]byte, bool) {
	if _, ok := parseHeader(jwe, 5); !ok || password == "" {
		return nil, false
	}
	obj, err := gojose.ParseEncrypted(jwe, passwordKeyAlgorithms, contentEncryptions)
	if err != nil {
		c.logger.Debug("Failed to parse JWE", "error", err)
		return nil, false
	}
	plaintext, err := obj.Decrypt([]byte(password))
	if err != nil {
		c.logger.Debug("Password JWE decryption failed", "error", err)
		return nil, false
	}
	return plaintext, true
}

// unwrap verifies a nested compact JWS or returns the plaintext as claims.
func (c *Codec) unwrap(ctx context.Context, plaintext []byte, client *storage.Client, opts UnSignOptions) *Payload {
	s := strings.TrimSpace(string(plaintext))
	if _, ok := parseHeader(s, 3); ok {
		return c.UnSignWithOptions(ctx, s, client, opts)
	}
	return c.checkIssuer(newPayload(plaintext), opts)
}

// ============================================================
// Helpers
// ============================================================

func (c *Codec) lookupClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, ErrClientNotValid
	}
	client, err := c.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrClientNotValid
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return client, nil
}

func (c *Codec) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, "jose."+op,
		trace.WithAttributes(attribute.String(instrumentation.AttrJOSEOperation, op)))
}

// header holds the protected header fields the codec acts on.
type header struct {
	Alg string
	Kid string
	Enc string
	Cty string
}

// parseHeader decodes the protected header of a compact serialization with
// the given number of segments. A header without alg is invalid.
func parseHeader(compact string, segments int) (header, bool) {
	parts := strings.Split(compact, ".")
	if len(parts) != segments || parts[0] == "" {
		return header{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || !gjson.ValidBytes(raw) {
		return header{}, false
	}

	fields := gjson.GetManyBytes(raw, "alg", "kid", "enc", "cty")
	h := header{
		Alg: fields[0].String(),
		Kid: fields[1].String(),
		Enc: fields[2].String(),
		Cty: fields[3].String(),
	}
	if h.Alg == "" {
		return header{}, false
	}
	return h, true
}

// verificationKey strips the private part of asymmetric keys; go-jose
// verifies with public keys or shared secrets only.
func verificationKey(key *gojose.JSONWebKey) *gojose.JSONWebKey {
	if _, symmetric := key.Key.([]byte); symmetric || key.IsPublic() {
		return key
	}
	pub := key.Public()
	return &pub
}
