package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// ClientAssertionTypeJWTBearer is the only accepted client_assertion_type (RFC 7523)
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// dummySecretHash is compared against when the client is unknown so that
// unknown and known clients take the same time to reject (bcrypt hash of "test").
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ClientCredentials is everything a client may present to authenticate.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string

	// FromHeader is true when ClientID and ClientSecret came from HTTP Basic authentication
	FromHeader bool

	ClientAssertion     string
	ClientAssertionType string

	// PeerCertificates is the verified TLS client certificate chain
	PeerCertificates []*x509.Certificate

	// ClientIP is used for audit logging only
	ClientIP string
}

// errClientAuth is the single error every client authentication failure
// maps to; the reason is only logged.
func errClientAuth() *OAuthError {
	return ErrInvalidClient("Client authentication failed")
}

// AuthenticateClient authenticates a client at the token, introspection and
// revocation endpoints with the method the client registered.
func (s *Server) AuthenticateClient(ctx context.Context, creds *ClientCredentials) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "authenticate_client")
	defer span.End()

	if creds.ClientAssertion != "" || creds.ClientAssertionType != "" {
		return s.authenticateAssertion(ctx, creds)
	}

	if creds.ClientID == "" {
		s.authFailed(ctx, "", creds, "", "missing client_id")
		return nil, errClientAuth()
	}

	client, err := s.stores.Clients.GetClient(ctx, creds.ClientID)
	if err != nil {
		// SECURITY: keep timing equal to a wrong secret for a known client
		_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(creds.ClientSecret))
		if !errors.Is(err, storage.ErrClientNotFound) {
			s.Logger.Error("Failed to load client", "client_id", creds.ClientID, "error", err)
			instrumentation.RecordError(span, err)
			return nil, ErrServerError("Failed to authenticate client")
		}
		s.authFailed(ctx, "", creds, "", "unknown client")
		return nil, errClientAuth()
	}

	method := client.TokenEndpointAuthMethod
	var reason string
	switch method {
	case storage.AuthMethodClientSecretBasic:
		ok := s.verifySecret(client, creds.ClientSecret)
		if !creds.FromHeader {
			reason = "client_secret_basic requires the Authorization header"
		} else if !ok {
			reason = "invalid client secret"
		}
	case storage.AuthMethodClientSecretPost:
		ok := s.verifySecret(client, creds.ClientSecret)
		if creds.FromHeader {
			reason = "client_secret_post requires credentials in the request body"
		} else if !ok {
			reason = "invalid client secret"
		}
	case storage.AuthMethodClientSecretJWT, storage.AuthMethodPrivateKeyJWT:
		reason = method + " requires a client assertion"
	case storage.AuthMethodTLSClientAuth:
		if !matchesCertificate(client, creds.PeerCertificates) {
			reason = "client certificate does not match"
		}
	case storage.AuthMethodNone:
		if creds.ClientSecret != "" {
			reason = "public client presented a secret"
		}
	default:
		reason = "unsupported token endpoint auth method"
	}

	if reason != "" {
		s.authFailed(ctx, method, creds, client.ClientID, reason)
		return nil, errClientAuth()
	}

	s.authSucceeded(ctx, method)
	return client, nil
}

// verifySecret compares secret against every shared secret of client. At
// least one bcrypt comparison always runs.
func (s *Server) verifySecret(client *storage.Client, secret string) bool {
	hashes := client.SecretsOfType(storage.SecretTypeSharedSecret)
	if len(hashes) == 0 || secret == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(secret))
		return false
	}
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h.Value), []byte(secret)) == nil {
			return true
		}
	}
	return false
}

// matchesCertificate checks the leaf certificate against the client's
// registered SHA-256 thumbprints and subject names.
func matchesCertificate(client *storage.Client, chain []*x509.Certificate) bool {
	if len(chain) == 0 {
		return false
	}
	leaf := chain[0]

	sum := sha256.Sum256(leaf.Raw)
	thumbprint := hex.EncodeToString(sum[:])
	for _, secret := range client.SecretsOfType(storage.SecretTypeX509Thumbprint) {
		registered := strings.ToLower(strings.ReplaceAll(secret.Value, ":", ""))
		if subtle.ConstantTimeCompare([]byte(registered), []byte(thumbprint)) == 1 {
			return true
		}
	}

	subject := leaf.Subject.String()
	for _, secret := range client.SecretsOfType(storage.SecretTypeX509Name) {
		if secret.Value == subject {
			return true
		}
	}
	return false
}

// authenticateAssertion handles client_secret_jwt and private_key_jwt
// (RFC 7523 section 2.2). The assertion must be signed with a key of the
// client, name the client as iss and sub, be addressed to this server and
// carry a jti that was never seen before.
func (s *Server) authenticateAssertion(ctx context.Context, creds *ClientCredentials) (*storage.Client, error) {
	if creds.ClientAssertionType != ClientAssertionTypeJWTBearer || creds.ClientAssertion == "" {
		s.authFailed(ctx, "", creds, creds.ClientID, "unsupported client_assertion_type")
		return nil, errClientAuth()
	}

	clientID := creds.ClientID
	if clientID == "" {
		mc := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(creds.ClientAssertion, mc); err != nil {
			s.authFailed(ctx, "", creds, "", "malformed client assertion")
			return nil, errClientAuth()
		}
		clientID, _ = mc.GetIssuer()
	}

	client, err := s.stores.Clients.GetClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrClientNotFound) {
			s.Logger.Error("Failed to load client", "client_id", clientID, "error", err)
			return nil, ErrServerError("Failed to authenticate client")
		}
		s.authFailed(ctx, "", creds, clientID, "unknown client")
		return nil, errClientAuth()
	}

	method := client.TokenEndpointAuthMethod
	if method != storage.AuthMethodClientSecretJWT && method != storage.AuthMethodPrivateKeyJWT {
		s.authFailed(ctx, method, creds, clientID, "client is not registered for assertion authentication")
		return nil, errClientAuth()
	}

	// UnSign never accepts alg none, whatever claim tokens allow
	payload := s.Codec.UnSign(ctx, creds.ClientAssertion, client)
	if payload == nil {
		s.authFailed(ctx, method, creds, clientID, "client assertion signature invalid")
		return nil, errClientAuth()
	}

	now := time.Now()
	exp := payload.ExpiresAt()
	var reason string
	switch {
	case payload.Issuer() != client.ClientID || payload.Subject() != client.ClientID:
		reason = "client assertion iss and sub must be the client_id"
	case !s.isOwnAudience(payload.Audience()):
		reason = "client assertion audience mismatch"
	case exp.IsZero() || security.IsTokenExpired(exp):
		reason = "client assertion expired"
	case exp.After(now.Add(s.Config.ClientAssertionMaxAge)):
		reason = "client assertion lifetime too long"
	case payload.ID() == "":
		reason = "client assertion has no jti"
	}
	if reason != "" {
		s.authFailed(ctx, method, creds, clientID, reason)
		return nil, errClientAuth()
	}

	fresh, err := s.stores.Replay.MarkUsed(ctx, "assertion:"+client.ClientID+":"+payload.ID(), exp.Add(security.DefaultClockSkewGracePeriod))
	if err != nil {
		s.Logger.Error("Failed to record client assertion", "client_id", clientID, "error", err)
		return nil, ErrServerError("Failed to authenticate client")
	}
	if !fresh {
		if s.metrics != nil {
			s.metrics.RecordAssertionReplay(ctx)
		}
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventAssertionReplayDetected,
			ClientID:  client.ClientID,
			IPAddress: creds.ClientIP,
		})
		s.authFailed(ctx, method, creds, clientID, "client assertion replayed")
		return nil, errClientAuth()
	}

	s.authSucceeded(ctx, method)
	return client, nil
}

func (s *Server) isOwnAudience(aud []string) bool {
	return slices.Contains(aud, s.Config.TokenEndpoint) || slices.Contains(aud, s.Config.Issuer)
}

func (s *Server) authFailed(ctx context.Context, method string, creds *ClientCredentials, clientID, reason string) {
	if s.metrics != nil {
		s.metrics.RecordClientAuthentication(ctx, method, false)
	}
	s.Auditor.LogAuthFailure("", clientID, creds.ClientIP, reason)
	s.Logger.Debug("Client authentication failed",
		"client_id", util.SafeTruncate(clientID, 32),
		"method", method,
		"reason", reason)
}

func (s *Server) authSucceeded(ctx context.Context, method string) {
	if s.metrics != nil {
		s.metrics.RecordClientAuthentication(ctx, method, true)
	}
}
