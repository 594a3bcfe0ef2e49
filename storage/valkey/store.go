package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/uma-oauth/claims"
	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys. The braces
	// are a cluster hash tag: every key of the store maps to one slot.
	DefaultKeyPrefix = "{uma}:"

	// tokenIDLogLength is the number of characters to include when logging token values
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength is the maximum allowed length for token values and codes
	MaxTokenLength = 512

	// MaxIDLength is the maximum allowed length for identifiers (subject, client id, family id)
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "{uma}:"). A prefix
	// without a hash tag is wrapped in one, "uma:" becomes "{uma}:".
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// DisableCache turns off client side caching. Servers without
	// CLIENT TRACKING support (and test doubles) need this.
	DisableCache bool

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the ephemeral storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor seals resource owner records at rest.
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

var (
	_ storage.ClientStore        = (*Store)(nil)
	_ storage.ResourceOwnerStore = (*Store)(nil)
	_ storage.TokenStore         = (*Store)(nil)
	_ storage.FlowStore          = (*Store)(nil)
	_ storage.TicketStore        = (*Store)(nil)
	_ storage.ConsentStore       = (*Store)(nil)
	_ storage.ReplayCache        = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := DefaultKeyPrefix
	if cfg.KeyPrefix != "" {
		prefix = hashTagPrefix(cfg.KeyPrefix)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress:  []string{cfg.Address},
		SelectDB:     cfg.DB,
		Password:     cfg.Password,
		TLSConfig:    cfg.TLS,
		DisableCache: cfg.DisableCache,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables encryption at rest for resource owner records, which
// carry personal data (claims) and password hashes.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds maximum length of %d bytes", storage.ErrInvalidInput, fieldName, maxLen)
	}
	return nil
}

// ============================================================
// Key Helpers
// ============================================================

// hashTagPrefix puts prefix in a cluster hash tag unless it already has one.
// Lua scripts touch several keys at once, and a cluster only runs them when
// all keys hash to the same slot.
func hashTagPrefix(prefix string) string {
	if open := strings.IndexByte(prefix, '{'); open >= 0 {
		if end := strings.IndexByte(prefix[open:], '}'); end > 1 {
			return prefix
		}
	}
	return "{" + strings.TrimSuffix(prefix, ":") + "}:"
}

func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) clientIndexKey() string {
	return s.prefix + "clients"
}

func (s *Store) ownerKey(subject string) string {
	return fmt.Sprintf("%sowner:%s", s.prefix, subject)
}

func (s *Store) tokenKey(value string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, value)
}

func (s *Store) consumedKey(value string) string {
	return fmt.Sprintf("%sconsumed:%s", s.prefix, value)
}

func (s *Store) familyKey(familyID string) string {
	return fmt.Sprintf("%sfamily:%s", s.prefix, familyID)
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

func (s *Store) codeUsedKey(code string) string {
	return fmt.Sprintf("%scode:used:%s", s.prefix, code)
}

func (s *Store) ticketKey(id string) string {
	return fmt.Sprintf("%sticket:%s", s.prefix, id)
}

func (s *Store) ticketUsedKey(id string) string {
	return fmt.Sprintf("%sticket:used:%s", s.prefix, id)
}

func (s *Store) ticketApprovedKey(id string) string {
	return fmt.Sprintf("%sticket:approved:%s", s.prefix, id)
}

func (s *Store) consentKey(subject, clientID string) string {
	return fmt.Sprintf("%sconsent:%s:%s", s.prefix, subject, clientID)
}

func (s *Store) replayKey(id string) string {
	return fmt.Sprintf("%sreplay:%s", s.prefix, id)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Expiry checks compare against ARGV[1], the current Unix time minus the
// clock skew grace period, so Valkey and the in-memory store agree on when
// a record has expired.

// luaSaveTokens writes every token of one grant or none of them.
//
// KEYS    = token keys
// ARGV    = per key: JSON data, TTL in seconds, family key ("" for none)
//
// Returns "OK" or "EXISTS" when any key is already present.
const luaSaveTokens = `
for i, key in ipairs(KEYS) do
    if redis.call('EXISTS', key) == 1 then
        return 'EXISTS'
    end
end

for i, key in ipairs(KEYS) do
    local base = (i - 1) * 3
    local ttl = tonumber(ARGV[base + 2])
    redis.call('SET', key, ARGV[base + 1], 'EX', ttl)

    local family = ARGV[base + 3]
    if family ~= '' then
        redis.call('SADD', family, key)
        if redis.call('TTL', family) < ttl then
            redis.call('EXPIRE', family, ttl)
        end
    end
end

return 'OK'
`

// luaConsumeRefreshToken atomically redeems a refresh token.
//
// KEYS[1] = token key
// KEYS[2] = consumed key
// ARGV[1] = current Unix time (grace applied)
//
// Returns:
//   - original JSON data on success; the data is kept under KEYS[2]
//   - "REUSED:<json>" if the token was redeemed before
//   - "NOT_FOUND" if the key is missing or holds an access token
//   - "EXPIRED" if the token expired (it is deleted)
const luaConsumeRefreshToken = `
local used = redis.call('GET', KEYS[2])
if used then
    return 'REUSED:' .. used
end

local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local tok = cjson.decode(data)
if tok.type ~= 'refresh_token' then
    return 'NOT_FOUND'
end

redis.call('DEL', KEYS[1])

local now = tonumber(ARGV[1])
local expiresAt = tonumber(tok.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

local ttl = 1
if expiresAt then
    ttl = math.max(expiresAt - now, 1)
end
redis.call('SET', KEYS[2], data, 'EX', ttl)

return data
`

// luaRevokeFamily deletes every token key listed in a family set.
//
// KEYS[1] = family key
//
// Returns the number of token keys removed.
const luaRevokeFamily = `
local members = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, key in ipairs(members) do
    removed = removed + redis.call('DEL', key)
end
redis.call('DEL', KEYS[1])
return removed
`

// luaRedeemOnce atomically checks a single-use record and sets its
// redemption marker.
//
// KEYS[1] = record key
// KEYS[2] = used marker key
// KEYS[3] = approval marker key (tickets only, optional)
// ARGV[1] = current Unix time (grace applied)
//
// Returns:
//   - "<approved>:<json>" on success, approved being 0 or 1
//   - "ALREADY_USED:<approved>:<json>" if the marker was already set
//   - "NOT_FOUND" or "EXPIRED"
const luaRedeemOnce = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local record = cjson.decode(data)
local now = tonumber(ARGV[1])
local expiresAt = tonumber(record.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

local approved = '0'
if KEYS[3] then
    approved = tostring(redis.call('EXISTS', KEYS[3]))
end
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 'ALREADY_USED:' .. approved .. ':' .. data
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl < 1 then
    ttl = 1000
end
redis.call('SET', KEYS[2], '1', 'PX', ttl)

return approved .. ':' .. data
`

// luaApproveTicket records the resource owner's approval of a pending ticket.
//
// KEYS[1] = ticket key
// KEYS[2] = used marker key
// KEYS[3] = approval marker key
// ARGV[1] = current Unix time (grace applied)
//
// Returns "OK", "NOT_FOUND", "EXPIRED" or "ALREADY_USED".
const luaApproveTicket = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local ticket = cjson.decode(data)
local now = tonumber(ARGV[1])
local expiresAt = tonumber(ticket.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if redis.call('EXISTS', KEYS[2]) == 1 then
    return 'ALREADY_USED'
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl < 1 then
    ttl = 1000
end
redis.call('SET', KEYS[3], '1', 'PX', ttl)
return 'OK'
`

// luaMarkUsed records a one-time identifier unless it is already present.
//
// KEYS[1] = replay key
// ARGV[1] = TTL in milliseconds
//
// Returns 1 if the identifier was recorded, 0 if it was already present.
const luaMarkUsed = `
if redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[1]) then
    return 1
end
return 0
`

// ============================================================
// JSON Serialization Helpers
// ============================================================

type clientJSON struct {
	ClientID                string                 `json:"client_id"`
	ClientName              string                 `json:"client_name,omitempty"`
	Secrets                 []storage.ClientSecret `json:"secrets,omitempty"`
	TokenEndpointAuthMethod string                 `json:"token_endpoint_auth_method"`
	GrantTypes              []string               `json:"grant_types,omitempty"`
	ResponseTypes           []string               `json:"response_types,omitempty"`
	AllowedScopes           []string               `json:"allowed_scopes,omitempty"`
	JSONWebKeys             gojose.JSONWebKeySet   `json:"jwks"`
	JwksURI                 string                 `json:"jwks_uri,omitempty"`
	RedirectURIs            []string               `json:"redirect_uris,omitempty"`
	RequirePKCE             bool                   `json:"require_pkce,omitempty"`
	AccessTokenLifetime     int64                  `json:"access_token_lifetime,omitempty"`
	RefreshTokenLifetime    int64                  `json:"refresh_token_lifetime,omitempty"`
	CreatedAt               int64                  `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:                c.ClientID,
		ClientName:              c.ClientName,
		Secrets:                 c.Secrets,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		AllowedScopes:           c.AllowedScopes,
		JSONWebKeys:             c.JSONWebKeys,
		JwksURI:                 c.JwksURI,
		RedirectURIs:            c.RedirectURIs,
		RequirePKCE:             c.RequirePKCE,
		AccessTokenLifetime:     int64(c.AccessTokenLifetime / time.Second),
		RefreshTokenLifetime:    int64(c.RefreshTokenLifetime / time.Second),
		CreatedAt:               c.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:                j.ClientID,
		ClientName:              j.ClientName,
		Secrets:                 j.Secrets,
		TokenEndpointAuthMethod: j.TokenEndpointAuthMethod,
		GrantTypes:              j.GrantTypes,
		ResponseTypes:           j.ResponseTypes,
		AllowedScopes:           j.AllowedScopes,
		JSONWebKeys:             j.JSONWebKeys,
		JwksURI:                 j.JwksURI,
		RedirectURIs:            j.RedirectURIs,
		RequirePKCE:             j.RequirePKCE,
		AccessTokenLifetime:     time.Duration(j.AccessTokenLifetime) * time.Second,
		RefreshTokenLifetime:    time.Duration(j.RefreshTokenLifetime) * time.Second,
		CreatedAt:               time.Unix(j.CreatedAt, 0),
	}
}

type ownerJSON struct {
	ID                      string                  `json:"id"`
	PasswordHash            string                  `json:"password_hash,omitempty"`
	Claims                  claims.Set              `json:"claims"`
	IsLocalAccount          bool                    `json:"is_local_account,omitempty"`
	TwoFactorAuthentication string                  `json:"two_factor_authentication,omitempty"`
	ExternalLogins          []storage.ExternalLogin `json:"external_logins,omitempty"`
	CreatedAt               int64                   `json:"created_at"`
	UpdatedAt               int64                   `json:"updated_at"`
}

func toOwnerJSON(o *storage.ResourceOwner) *ownerJSON {
	return &ownerJSON{
		ID:                      o.ID,
		PasswordHash:            o.PasswordHash,
		Claims:                  o.Claims,
		IsLocalAccount:          o.IsLocalAccount,
		TwoFactorAuthentication: o.TwoFactorAuthentication,
		ExternalLogins:          o.ExternalLogins,
		CreatedAt:               o.CreatedAt.Unix(),
		UpdatedAt:               o.UpdatedAt.Unix(),
	}
}

func fromOwnerJSON(j *ownerJSON) *storage.ResourceOwner {
	return &storage.ResourceOwner{
		ID:                      j.ID,
		PasswordHash:            j.PasswordHash,
		Claims:                  j.Claims,
		IsLocalAccount:          j.IsLocalAccount,
		TwoFactorAuthentication: j.TwoFactorAuthentication,
		ExternalLogins:          j.ExternalLogins,
		CreatedAt:               time.Unix(j.CreatedAt, 0),
		UpdatedAt:               time.Unix(j.UpdatedAt, 0),
	}
}

// tokenJSON carries expires_at so Lua scripts can check expiry without
// knowing how the lifetime is represented in Go.
type tokenJSON struct {
	Value       string               `json:"value"`
	Type        string               `json:"type"`
	ClientID    string               `json:"client_id"`
	Subject     string               `json:"subject,omitempty"`
	Scopes      []string             `json:"scopes,omitempty"`
	IssuedAt    int64                `json:"issued_at"`
	ExpiresIn   int64                `json:"expires_in"`
	ExpiresAt   int64                `json:"expires_at"`
	ParentValue string               `json:"parent_value,omitempty"`
	FamilyID    string               `json:"family_id,omitempty"`
	Generation  int                  `json:"generation,omitempty"`
	Permissions []storage.Permission `json:"permissions,omitempty"`
}

func toTokenJSON(t *storage.Token) *tokenJSON {
	return &tokenJSON{
		Value:       t.Value,
		Type:        t.Type,
		ClientID:    t.ClientID,
		Subject:     t.Subject,
		Scopes:      t.Scopes,
		IssuedAt:    t.IssuedAt.UnixMilli(),
		ExpiresIn:   t.ExpiresIn.Milliseconds(),
		ExpiresAt:   t.ExpiresAt().Unix(),
		ParentValue: t.ParentValue,
		FamilyID:    t.FamilyID,
		Generation:  t.Generation,
		Permissions: t.Permissions,
	}
}

func fromTokenJSON(j *tokenJSON) *storage.Token {
	return &storage.Token{
		Value:       j.Value,
		Type:        j.Type,
		ClientID:    j.ClientID,
		Subject:     j.Subject,
		Scopes:      j.Scopes,
		IssuedAt:    time.UnixMilli(j.IssuedAt),
		ExpiresIn:   time.Duration(j.ExpiresIn) * time.Millisecond,
		ParentValue: j.ParentValue,
		FamilyID:    j.FamilyID,
		Generation:  j.Generation,
		Permissions: j.Permissions,
	}
}

type authorizationCodeJSON struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes,omitempty"`
	Subject             string   `json:"subject"`
	Nonce               string   `json:"nonce,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	AuthTime            int64    `json:"auth_time,omitempty"`
	IssuedAt            int64    `json:"issued_at"`
	ExpiresAt           int64    `json:"expires_at"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	j := &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		RedirectURI:         code.RedirectURI,
		Scopes:              code.Scopes,
		Subject:             code.Subject,
		Nonce:               code.Nonce,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		IssuedAt:            code.IssuedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
	}
	if !code.AuthTime.IsZero() {
		j.AuthTime = code.AuthTime.Unix()
	}
	return j
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON, used bool) *storage.AuthorizationCode {
	code := &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		Subject:             j.Subject,
		Nonce:               j.Nonce,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		IssuedAt:            time.Unix(j.IssuedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Used:                used,
	}
	if j.AuthTime > 0 {
		code.AuthTime = time.Unix(j.AuthTime, 0)
	}
	return code
}

type ticketJSON struct {
	ID        string               `json:"id"`
	ClientID  string               `json:"client_id"`
	Owner     string               `json:"owner,omitempty"`
	Lines     []storage.TicketLine `json:"lines"`
	IssuedAt  int64                `json:"issued_at"`
	ExpiresAt int64                `json:"expires_at"`
}

func toTicketJSON(t *storage.Ticket) *ticketJSON {
	return &ticketJSON{
		ID:        t.ID,
		ClientID:  t.ClientID,
		Owner:     t.Owner,
		Lines:     t.Lines,
		IssuedAt:  t.IssuedAt.Unix(),
		ExpiresAt: t.ExpiresAt.Unix(),
	}
}

func fromTicketJSON(j *ticketJSON, approved, used bool) *storage.Ticket {
	return &storage.Ticket{
		ID:               j.ID,
		ClientID:         j.ClientID,
		Owner:            j.Owner,
		Lines:            j.Lines,
		IsAuthorizedByRO: approved,
		IssuedAt:         time.Unix(j.IssuedAt, 0),
		ExpiresAt:        time.Unix(j.ExpiresAt, 0),
		Used:             used,
	}
}

type consentJSON struct {
	Subject   string   `json:"subject"`
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
	GrantedAt int64    `json:"granted_at"`
}

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal fetches a key and decodes its JSON value into J.
func getAndUnmarshal[J any](ctx context.Context, s *Store, key string, notFoundErr error) (*J, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return &j, nil
}

// calculateTTL returns the time until expiresAt plus the clock skew grace
// period, and at least one second so already expired records can still be
// stored and reported as expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + security.DefaultClockSkewGracePeriod
	if ttl < time.Second {
		return time.Second
	}
	return ttl.Round(time.Second)
}

// graceNow is the reference time passed to Lua expiry checks.
func graceNow() string {
	return strconv.FormatInt(time.Now().Add(-security.DefaultClockSkewGracePeriod).Unix(), 10)
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func truncate(value string) string {
	return util.SafeTruncate(value, tokenIDLogLength)
}
