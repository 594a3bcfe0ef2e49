package jose

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	gojose "github.com/go-jose/go-jose/v4"
)

const (
	// DefaultSigningAlgorithm is used for generated signing keys
	DefaultSigningAlgorithm = "ES256"

	// DefaultEncryptionAlgorithm is the key management algorithm of the
	// generated decryption key
	DefaultEncryptionAlgorithm = string(gojose.RSA_OAEP)

	// minRSAKeyBits rejects RSA keys too weak to sign or unwrap with
	minRSAKeyBits = 2048
)

// Key uses published in the JWKS
const (
	useSignature  = "sig"
	useEncryption = "enc"
)

// ErrKeyNotFound is returned when no server key carries the requested kid
var ErrKeyNotFound = errors.New("key not found")

// SigningKey is the server's current private signing key.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Key       crypto.Signer
}

// KeyProvider holds the server's own keys.
type KeyProvider interface {
	// SigningKey returns the key new tokens are signed with
	SigningKey(ctx context.Context) (*SigningKey, error)

	// PublicJWKS returns the public half of every signing and decryption
	// key, as served at /jwks
	PublicJWKS(ctx context.Context) (gojose.JSONWebKeySet, error)

	// DecryptionKey returns the private key that unwraps JWEs addressed to
	// kid. An empty kid selects the primary decryption key.
	DecryptionKey(ctx context.Context, kid string) (*gojose.JSONWebKey, error)
}

var (
	_ KeyProvider = (*GeneratingProvider)(nil)
	_ KeyProvider = (*FileProvider)(nil)
)

// ============================================================
// GeneratingProvider
// ============================================================

// GeneratingProvider generates an ES256 signing key and an RSA-OAEP
// decryption key on first use. Keys live in memory only: every token signed
// before a restart becomes unverifiable. Suitable for development and tests.
type GeneratingProvider struct {
	mu         sync.Mutex
	signing    *SigningKey
	decryption *gojose.JSONWebKey
	logger     *slog.Logger
}

// NewGeneratingProvider creates a provider with ephemeral keys.
func NewGeneratingProvider() *GeneratingProvider {
	return &GeneratingProvider{logger: slog.Default()}
}

// SetLogger sets a custom logger
func (p *GeneratingProvider) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

func (p *GeneratingProvider) ensureKeys() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.signing != nil {
		return nil
	}

	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}
	signing, err := newSigningKey(signer)
	if err != nil {
		return err
	}

	rsaKey, err := rsa.GenerateKey(rand.Reader, minRSAKeyBits)
	if err != nil {
		return fmt.Errorf("failed to generate decryption key: %w", err)
	}
	decryption, err := newDecryptionKey(rsaKey)
	if err != nil {
		return err
	}

	p.logger.Warn("Generated ephemeral server keys; tokens will be invalid after restart",
		"signing_kid", signing.KeyID,
		"encryption_kid", decryption.KeyID)

	p.signing = signing
	p.decryption = decryption
	return nil
}

// SigningKey returns the generated signing key.
func (p *GeneratingProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	if err := p.ensureKeys(); err != nil {
		return nil, err
	}
	cp := *p.signing
	return &cp, nil
}

// PublicJWKS returns the public signing and encryption keys.
func (p *GeneratingProvider) PublicJWKS(_ context.Context) (gojose.JSONWebKeySet, error) {
	if err := p.ensureKeys(); err != nil {
		return gojose.JSONWebKeySet{}, err
	}
	return publicSet([]*SigningKey{p.signing}, []*gojose.JSONWebKey{p.decryption}), nil
}

// DecryptionKey returns the generated decryption key when kid matches it.
func (p *GeneratingProvider) DecryptionKey(_ context.Context, kid string) (*gojose.JSONWebKey, error) {
	if err := p.ensureKeys(); err != nil {
		return nil, err
	}
	return pickDecryptionKey([]*gojose.JSONWebKey{p.decryption}, kid)
}

// ============================================================
// FileProvider
// ============================================================

// KeyConfig locates PEM encoded private keys.
type KeyConfig struct {
	// KeyDir is the directory holding the key files. All file names below
	// are relative to it.
	KeyDir string

	// SigningKeyFile signs new tokens (RSA, ECDSA or Ed25519)
	SigningKeyFile string

	// FallbackKeyFiles are published for verification only, so tokens
	// signed before a key rotation stay valid until they expire
	FallbackKeyFiles []string

	// EncryptionKeyFile unwraps JWEs sent to the server (RSA or ECDSA).
	// Without it the server publishes no encryption key.
	EncryptionKeyFile string
}

// FileProvider serves keys loaded from PEM files at construction time.
// Changing the files requires a restart.
type FileProvider struct {
	signing    *SigningKey
	verifying  []*SigningKey
	decryption []*gojose.JSONWebKey
}

// NewFileProvider loads and validates every key named by cfg.
func NewFileProvider(cfg KeyConfig) (*FileProvider, error) {
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("signing key file is required")
	}

	signer, err := loadPrivateKey(filepath.Join(cfg.KeyDir, cfg.SigningKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	signing, err := newSigningKey(signer)
	if err != nil {
		return nil, err
	}

	p := &FileProvider{signing: signing, verifying: []*SigningKey{signing}}

	for _, name := range cfg.FallbackKeyFiles {
		signer, err := loadPrivateKey(filepath.Join(cfg.KeyDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", name, err)
		}
		key, err := newSigningKey(signer)
		if err != nil {
			return nil, fmt.Errorf("fallback key %s: %w", name, err)
		}
		p.verifying = append(p.verifying, key)
	}

	if cfg.EncryptionKeyFile != "" {
		signer, err := loadPrivateKey(filepath.Join(cfg.KeyDir, cfg.EncryptionKeyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
		key, err := newDecryptionKey(signer)
		if err != nil {
			return nil, err
		}
		p.decryption = append(p.decryption, key)
	}

	return p, nil
}

// SigningKey returns the primary signing key.
func (p *FileProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	cp := *p.signing
	return &cp, nil
}

// PublicJWKS returns the signing, fallback and encryption public keys.
func (p *FileProvider) PublicJWKS(_ context.Context) (gojose.JSONWebKeySet, error) {
	return publicSet(p.verifying, p.decryption), nil
}

// DecryptionKey returns the loaded encryption key matching kid.
func (p *FileProvider) DecryptionKey(_ context.Context, kid string) (*gojose.JSONWebKey, error) {
	return pickDecryptionKey(p.decryption, kid)
}

// NewProviderFromConfig loads keys from files when cfg names a signing key
// file and generates ephemeral keys otherwise.
func NewProviderFromConfig(cfg KeyConfig) (KeyProvider, error) {
	if cfg.KeyDir != "" || cfg.SigningKeyFile != "" {
		return NewFileProvider(cfg)
	}
	return NewGeneratingProvider(), nil
}

// ============================================================
// Helpers
// ============================================================

func newSigningKey(signer crypto.Signer) (*SigningKey, error) {
	alg, err := signingAlgorithm(signer)
	if err != nil {
		return nil, err
	}
	kid, err := thumbprint(signer.Public())
	if err != nil {
		return nil, err
	}
	return &SigningKey{KeyID: kid, Algorithm: alg, Key: signer}, nil
}

func newDecryptionKey(signer crypto.Signer) (*gojose.JSONWebKey, error) {
	var alg string
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		if k.N.BitLen() < minRSAKeyBits {
			return nil, fmt.Errorf("RSA encryption key size %d is below minimum required %d", k.N.BitLen(), minRSAKeyBits)
		}
		alg = DefaultEncryptionAlgorithm
	case *ecdsa.PrivateKey:
		alg = string(gojose.ECDH_ES)
	default:
		return nil, fmt.Errorf("unsupported encryption key type %T", signer)
	}

	kid, err := thumbprint(signer.Public())
	if err != nil {
		return nil, err
	}
	return &gojose.JSONWebKey{Key: signer, KeyID: kid, Algorithm: alg, Use: useEncryption}, nil
}

// signingAlgorithm derives the JWS algorithm from the key type and size.
func signingAlgorithm(signer crypto.Signer) (string, error) {
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		if k.N.BitLen() < minRSAKeyBits {
			return "", fmt.Errorf("RSA key size %d is below minimum required %d", k.N.BitLen(), minRSAKeyBits)
		}
		return string(gojose.RS256), nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return string(gojose.ES256), nil
		case elliptic.P384():
			return string(gojose.ES384), nil
		case elliptic.P521():
			return string(gojose.ES512), nil
		}
		return "", fmt.Errorf("unsupported elliptic curve %s", k.Curve.Params().Name)
	case ed25519.PrivateKey:
		return string(gojose.EdDSA), nil
	default:
		return "", fmt.Errorf("unsupported signing key type %T", signer)
	}
}

// thumbprint returns the RFC 7638 SHA-256 thumbprint used as kid.
func thumbprint(pub crypto.PublicKey) (string, error) {
	jwk := gojose.JSONWebKey{Key: pub}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

func loadPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from %s", path)
	}

	var key any
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key of type %T cannot sign", key)
	}
	return signer, nil
}

func publicSet(signing []*SigningKey, decryption []*gojose.JSONWebKey) gojose.JSONWebKeySet {
	set := gojose.JSONWebKeySet{Keys: make([]gojose.JSONWebKey, 0, len(signing)+len(decryption))}
	for _, k := range signing {
		set.Keys = append(set.Keys, gojose.JSONWebKey{
			Key:       k.Key.Public(),
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			Use:       useSignature,
		})
	}
	for _, k := range decryption {
		set.Keys = append(set.Keys, k.Public())
	}
	return set
}

func pickDecryptionKey(keys []*gojose.JSONWebKey, kid string) (*gojose.JSONWebKey, error) {
	for _, k := range keys {
		if kid == "" || k.KeyID == kid {
			cp := *k
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}
