package jose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/storage"
)

// ResolveStatus tells whether a key was resolved.
type ResolveStatus int

const (
	// NotFound means no key matched: unknown kid, unreachable or malformed
	// jwks_uri, or no key source at all
	NotFound ResolveStatus = iota
	// Found means Key holds the matching key
	Found
)

// Key sources reported in ResolveResult
const (
	SourceClient  = "client"
	SourceJWKSURI = "jwks_uri"
	SourceServer  = "server"

	// SourceProvider is the jwks_uri of an OpenID provider's discovery document
	SourceProvider = "provider"
)

// discoveryPath is appended to an issuer to find its provider metadata
const discoveryPath = "/.well-known/openid-configuration"

// ResolveResult is the outcome of a key lookup.
type ResolveResult struct {
	Status ResolveStatus
	Key    *gojose.JSONWebKey
	Source string
}

// OK reports whether a key was found
func (r ResolveResult) OK() bool {
	return r.Status == Found && r.Key != nil
}

var notFound = ResolveResult{Status: NotFound}

// KeyResolver finds verification keys by kid.
type KeyResolver struct {
	config Config
	server KeyProvider
	group  singleflight.Group
	logger *slog.Logger

	metrics *instrumentation.Metrics
}

// NewKeyResolver creates a resolver. server may be nil when the server's
// own keys should never be considered.
func NewKeyResolver(cfg Config, server KeyProvider) *KeyResolver {
	cfg.applySecureDefaults()
	return &KeyResolver{
		config: cfg,
		server: server,
		logger: cfg.Logger,
	}
}

// SetInstrumentation records jwks_uri fetch metrics
func (r *KeyResolver) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		r.metrics = inst.Metrics()
	}
}

// Resolve looks up kid among the client's registered keys, then at the
// client's jwks_uri. Without a client the server key set is searched.
// Failures are reported as NotFound and never as an error.
func (r *KeyResolver) Resolve(ctx context.Context, kid string, client *storage.Client) ResolveResult {
	if client == nil {
		return r.resolveServer(ctx, kid)
	}

	if client.HasLocalKeys() {
		if key, ok := findKey(client.JSONWebKeys, kid); ok {
			return ResolveResult{Status: Found, Key: key, Source: SourceClient}
		}
	}

	if client.JwksURI == "" {
		return notFound
	}

	set, err := r.fetch(ctx, client.JwksURI)
	if err != nil {
		r.logger.Debug("Key set fetch failed",
			"client_id", client.ClientID,
			"jwks_uri", client.JwksURI,
			"error", err)
		return notFound
	}
	if key, ok := findKey(*set, kid); ok {
		return ResolveResult{Status: Found, Key: key, Source: SourceJWKSURI}
	}
	return notFound
}

func (r *KeyResolver) resolveServer(ctx context.Context, kid string) ResolveResult {
	if r.server == nil {
		return notFound
	}
	set, err := r.server.PublicJWKS(ctx)
	if err != nil {
		r.logger.Error("Failed to load server keys", "error", err)
		return notFound
	}
	if key, ok := findKey(set, kid); ok {
		return ResolveResult{Status: Found, Key: key, Source: SourceServer}
	}
	return notFound
}

// ResolveIssuer looks up kid in the key set an OpenID provider publishes at
// the jwks_uri of its discovery document. The document must name issuer as
// its issuer. The server's own issuer resolves to the server key set without
// a fetch. Failures are reported as NotFound.
func (r *KeyResolver) ResolveIssuer(ctx context.Context, issuer, kid string) ResolveResult {
	if issuer == "" {
		return notFound
	}
	if r.config.Issuer != "" && SameIssuer(issuer, r.config.Issuer) {
		return r.resolveServer(ctx, kid)
	}

	jwksURI, err := r.discover(ctx, issuer)
	if err != nil {
		r.logger.Debug("Provider discovery failed", "issuer", issuer, "error", err)
		return notFound
	}
	set, err := r.fetch(ctx, jwksURI)
	if err != nil {
		r.logger.Debug("Key set fetch failed", "issuer", issuer, "jwks_uri", jwksURI, "error", err)
		return notFound
	}
	if key, ok := findKey(*set, kid); ok {
		return ResolveResult{Status: Found, Key: key, Source: SourceProvider}
	}
	return notFound
}

// SameIssuer compares issuer identifiers, ignoring trailing slashes.
func SameIssuer(a, b string) bool {
	return a != "" && util.NormalizeURL(a) == util.NormalizeURL(b)
}

// findKey returns the key with kid. An empty kid matches only a set holding
// exactly one key.
func findKey(set gojose.JSONWebKeySet, kid string) (*gojose.JSONWebKey, bool) {
	if kid == "" {
		if len(set.Keys) == 1 {
			k := set.Keys[0]
			return &k, true
		}
		return nil, false
	}
	keys := set.Key(kid)
	if len(keys) == 0 {
		return nil, false
	}
	k := keys[0]
	return &k, true
}

// ============================================================
// Remote key sets
// ============================================================

// fetch retrieves a remote key set.
func (r *KeyResolver) fetch(ctx context.Context, rawURL string) (*gojose.JSONWebKeySet, error) {
	body, err := r.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	set := &gojose.JSONWebKeySet{}
	if err := json.Unmarshal(body, set); err != nil {
		return nil, fmt.Errorf("malformed key set: %w", err)
	}
	return set, nil
}

// discover returns the jwks_uri from the discovery document of issuer.
func (r *KeyResolver) discover(ctx context.Context, issuer string) (string, error) {
	body, err := r.get(ctx, util.NormalizeURL(issuer)+discoveryPath)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("malformed discovery document")
	}
	fields := gjson.GetManyBytes(body, "issuer", "jwks_uri")
	if !SameIssuer(fields[0].String(), issuer) {
		return "", fmt.Errorf("discovery document names issuer %q", fields[0].String())
	}
	jwksURI := strings.TrimSpace(fields[1].String())
	if jwksURI == "" {
		return "", errors.New("discovery document has no jwks_uri")
	}
	return jwksURI, nil
}

// get retrieves a remote JSON document. Concurrent requests for one URL share
// a single fetch that is detached from the cancellation of whichever caller
// started it; a caller whose context ends stops waiting, the others do not.
// Nothing is kept once the fetch completes.
func (r *KeyResolver) get(ctx context.Context, rawURL string) ([]byte, error) {
	neg := negativeCacheFrom(ctx)
	if neg.failed(rawURL) {
		return nil, errors.New("uri already failed in this request")
	}

	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(rawURL, func() (any, error) {
		return r.getOnce(shared, rawURL)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			neg.record(rawURL)
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (r *KeyResolver) getOnce(ctx context.Context, rawURL string) (body []byte, err error) {
	start := time.Now()
	defer func() {
		if r.metrics == nil {
			return
		}
		result := "success"
		if err != nil {
			result = "error"
		}
		r.metrics.RecordJWKSFetch(ctx, result, float64(time.Since(start).Microseconds())/1000)
	}()

	if err := r.checkURL(rawURL); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d", rawURL, resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, r.config.MaxJWKSSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > r.config.MaxJWKSSize {
		return nil, fmt.Errorf("response exceeds %d bytes", r.config.MaxJWKSSize)
	}
	return body, nil
}

// checkURL rejects non-HTTP schemes and, unless allowed, internal hosts.
func (r *KeyResolver) checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if !r.config.AllowInternalJWKSURIs && util.IsInternalHost(u.Hostname()) {
		return fmt.Errorf("host %s is internal", u.Hostname())
	}
	return nil
}

// ============================================================
// Request-scoped negative cache
// ============================================================

type negativeCacheKey struct{}

type negativeCache struct {
	mu   sync.Mutex
	uris map[string]struct{}
}

// WithNegativeCache returns a context that remembers jwks_uri values that
// failed to resolve, so later lookups in the same request skip them. Scope
// it to one request.
func WithNegativeCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, negativeCacheKey{}, &negativeCache{uris: make(map[string]struct{})})
}

func negativeCacheFrom(ctx context.Context) *negativeCache {
	c, _ := ctx.Value(negativeCacheKey{}).(*negativeCache)
	return c
}

func (c *negativeCache) failed(uri string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.uris[uri]
	return ok
}

func (c *negativeCache) record(uri string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uris[uri] = struct{}{}
}
