package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
	"github.com/giantswarm/uma-oauth/token"
	"github.com/giantswarm/uma-oauth/uma"
)

// Grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeUMATicket         = "urn:ietf:params:oauth:grant-type:uma-ticket"
)

// SupportedGrantTypes lists the grant types of the token endpoint
var SupportedGrantTypes = []string{
	GrantTypeAuthorizationCode,
	GrantTypeClientCredentials,
	GrantTypePassword,
	GrantTypeRefreshToken,
	GrantTypeUMATicket,
}

// TokenRequest holds the parameters of a token endpoint request
type TokenRequest struct {
	GrantType   string
	Credentials ClientCredentials

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// client_credentials, password and refresh_token
	Scope string

	// password
	Username string
	Password string

	// refresh_token
	RefreshToken string

	// uma-ticket
	Ticket           string
	ClaimToken       string
	ClaimTokenFormat string
}

// Token runs the token endpoint: it authenticates the client and then
// executes the requested grant. Errors are *OAuthError.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*token.Issued, error) {
	ctx, span := s.startSpan(ctx, "token")
	defer span.End()

	issued, clientID, err := s.token(ctx, req)
	if err != nil {
		oe := AsOAuthError(err)
		if oe.Code == ErrorCodeServerError {
			s.Logger.Error("Token request failed", "grant_type", req.GrantType, "error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordGrantFailed(ctx, req.GrantType, oe.Code)
		}
		instrumentation.RecordError(span, err)
		return nil, oe
	}

	instrumentation.AddOAuthFlowAttributes(span, clientID, issued.Access.Subject, issued.Scope)
	instrumentation.SetSpanSuccess(span)
	if s.metrics != nil {
		s.metrics.RecordTokensIssued(ctx, req.GrantType, clientID)
	}
	s.Auditor.LogTokenIssued(issued.Access.Subject, clientID, req.Credentials.ClientIP, req.GrantType, issued.Access.Scopes)
	return issued, nil
}

func (s *Server) token(ctx context.Context, req *TokenRequest) (*token.Issued, string, error) {
	if req.GrantType == "" {
		return nil, "", ErrInvalidRequest("grant_type is required")
	}
	if !slices.Contains(SupportedGrantTypes, req.GrantType) {
		return nil, "", ErrUnsupportedGrantType("The grant type is not supported")
	}

	client, err := s.AuthenticateClient(ctx, &req.Credentials)
	if err != nil {
		return nil, "", err
	}
	if !slices.Contains(client.GrantTypes, req.GrantType) {
		s.Logger.Debug("Client used an unregistered grant type",
			"client_id", client.ClientID, "grant_type", req.GrantType)
		return nil, client.ClientID, ErrUnauthorizedClient("The client is not authorized to use this grant type")
	}

	var issued *token.Issued
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		issued, err = s.grantAuthorizationCode(ctx, client, req)
	case GrantTypeClientCredentials:
		issued, err = s.grantClientCredentials(ctx, client, req)
	case GrantTypePassword:
		issued, err = s.grantPassword(ctx, client, req)
	case GrantTypeRefreshToken:
		issued, err = s.grantRefreshToken(ctx, client, req)
	case GrantTypeUMATicket:
		issued, err = s.grantUMATicket(ctx, client, req)
	}
	return issued, client.ClientID, err
}

// ============================================================
// authorization_code
// ============================================================

// codeFamilyID is the token family of everything issued from one
// authorization code, so that a replayed code can revoke it.
func codeFamilyID(code string) string {
	sum := sha256.Sum256([]byte(code))
	return "code:" + hex.EncodeToString(sum[:])[:16]
}

func (s *Server) grantAuthorizationCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*token.Issued, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	// SECURITY: atomic redemption; two concurrent requests cannot both succeed
	code, err := s.stores.Flows.AtomicCheckAndMarkAuthCodeUsed(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) {
			s.handleCodeReuse(ctx, client, code, req)
			return nil, ErrInvalidGrant("Authorization code is invalid or expired")
		}
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return nil, ErrInvalidGrant("Authorization code is invalid or expired")
		}
		return nil, err
	}

	if code.ClientID != client.ClientID {
		s.Logger.Warn("Authorization code presented by another client",
			"client_id", client.ClientID, "code_client_id", code.ClientID)
		return nil, ErrInvalidGrant("Authorization code is invalid or expired")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}
	if code.CodeChallenge == "" && client.RequirePKCE {
		return nil, ErrInvalidGrant("PKCE is required for this client")
	}
	if err := s.validatePKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); err != nil {
		if s.metrics != nil {
			s.metrics.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
		}
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventPKCEValidationFailed,
			UserID:    code.Subject,
			ClientID:  client.ClientID,
			IPAddress: req.Credentials.ClientIP,
			Details:   map[string]any{"reason": err.Error()},
		})
		return nil, ErrInvalidGrant("PKCE verification failed")
	}

	grant := token.Grant{
		Client:         client,
		Subject:        code.Subject,
		Scopes:         code.Scopes,
		IncludeRefresh: slices.Contains(client.GrantTypes, GrantTypeRefreshToken),
		Nonce:          code.Nonce,
		AuthTime:       code.AuthTime,
		FamilyID:       codeFamilyID(code.Code),
	}
	if err := s.withIDToken(ctx, &grant); err != nil {
		return nil, err
	}
	return s.Issuer.IssueTokens(ctx, grant)
}

// handleCodeReuse revokes every token issued from a code that was redeemed
// twice (OAuth 2.1 section 4.1.2).
func (s *Server) handleCodeReuse(ctx context.Context, client *storage.Client, code *storage.AuthorizationCode, req *TokenRequest) {
	if s.metrics != nil {
		s.metrics.RecordCodeReuseDetected(ctx)
	}
	subject := ""
	if code != nil {
		subject = code.Subject
	}
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationCodeReuseDetected,
		UserID:    subject,
		ClientID:  client.ClientID,
		IPAddress: req.Credentials.ClientIP,
	})

	revoked, err := s.stores.Tokens.RevokeFamily(ctx, codeFamilyID(req.Code))
	if err != nil {
		s.Logger.Error("Failed to revoke tokens of a replayed authorization code", "error", err)
		return
	}
	s.Logger.Warn("Authorization code reuse detected, revoked issued tokens",
		"client_id", client.ClientID,
		"code_prefix", util.SafeTruncate(req.Code, 8),
		"tokens_revoked", revoked)
}

// ============================================================
// client_credentials and password
// ============================================================

func (s *Server) grantClientCredentials(ctx context.Context, client *storage.Client, req *TokenRequest) (*token.Issued, error) {
	scopes, err := s.clientScopes(client, req)
	if err != nil {
		return nil, err
	}
	return s.Issuer.IssueTokens(ctx, token.Grant{
		Client: client,
		Scopes: scopes,
	})
}

func (s *Server) grantPassword(ctx context.Context, client *storage.Client, req *TokenRequest) (*token.Issued, error) {
	if req.Username == "" || req.Password == "" {
		return nil, ErrInvalidRequest("username and password are required")
	}
	scopes, err := s.clientScopes(client, req)
	if err != nil {
		return nil, err
	}

	owner, err := s.Authenticator.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventLoginFailed,
				UserID:    req.Username,
				ClientID:  client.ClientID,
				IPAddress: req.Credentials.ClientIP,
			})
			return nil, ErrInvalidGrant("invalid credentials")
		}
		return nil, err
	}

	grant := token.Grant{
		Client:         client,
		Subject:        owner.ID,
		Scopes:         scopes,
		IncludeRefresh: slices.Contains(client.GrantTypes, GrantTypeRefreshToken),
		AuthTime:       time.Now(),
		Owner:          owner,
	}
	if err := s.withIDToken(ctx, &grant); err != nil {
		return nil, err
	}
	return s.Issuer.IssueTokens(ctx, grant)
}

func (s *Server) clientScopes(client *storage.Client, req *TokenRequest) ([]string, error) {
	scopes, err := resolveClientScopes(req.Scope, client)
	if err != nil {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventScopeEscalationAttempt,
			ClientID:  client.ClientID,
			IPAddress: req.Credentials.ClientIP,
			Details:   map[string]any{"scope": req.Scope},
		})
		return nil, ErrInvalidScope(err.Error())
	}
	return scopes, nil
}

// withIDToken requests an ID token when the grant carries the openid scope
// and a subject, loading the resource owner for its claims.
func (s *Server) withIDToken(ctx context.Context, grant *token.Grant) error {
	if grant.Subject == "" || !slices.Contains(grant.Scopes, ScopeOpenID) {
		return nil
	}
	grant.IncludeIDToken = true
	if grant.Owner != nil {
		return nil
	}
	owner, err := s.stores.ResourceOwners.GetResourceOwner(ctx, grant.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrResourceOwnerNotFound) {
			return ErrInvalidGrant("The resource owner no longer exists")
		}
		return err
	}
	grant.Owner = owner
	return nil
}

// ============================================================
// refresh_token
// ============================================================

func (s *Server) grantRefreshToken(ctx context.Context, client *storage.Client, req *TokenRequest) (*token.Issued, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	var (
		old *storage.Token
		err error
	)
	rotate := !s.Config.DisableRefreshTokenRotation
	if rotate {
		old, err = s.stores.Tokens.ConsumeRefreshToken(ctx, req.RefreshToken)
	} else {
		old, err = s.stores.Tokens.GetToken(ctx, req.RefreshToken)
		if err == nil && old.Type != storage.TokenTypeRefresh {
			err = storage.ErrTokenNotFound
		}
	}
	if err != nil {
		if errors.Is(err, storage.ErrTokenReused) {
			s.revokeFamilyOnReuse(ctx, client, old, req)
			return nil, ErrInvalidGrant("Refresh token is invalid or expired")
		}
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return nil, ErrInvalidGrant("Refresh token is invalid or expired")
		}
		return nil, err
	}

	if old.ClientID != client.ClientID {
		// a refresh token in the hands of another client is stolen
		s.revokeFamilyOnReuse(ctx, client, old, req)
		return nil, ErrInvalidGrant("Refresh token is invalid or expired")
	}

	scopes := old.Scopes
	if requested := util.ParseScopes(req.Scope); len(requested) > 0 {
		if !util.IsSubset(requested, old.Scopes) {
			return nil, ErrInvalidScope("The requested scope exceeds the original grant")
		}
		scopes = requested
	}

	grant := token.Grant{
		Client:         client,
		Subject:        old.Subject,
		Scopes:         scopes,
		IncludeRefresh: rotate,
		FamilyID:       old.FamilyID,
		Generation:     old.Generation + 1,
		Permissions:    old.Permissions,
	}
	if err := s.withIDToken(ctx, &grant); err != nil {
		return nil, err
	}

	issued, err := s.Issuer.IssueTokens(ctx, grant)
	if err != nil {
		return nil, err
	}
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventTokenRefreshed,
		UserID:    old.Subject,
		ClientID:  client.ClientID,
		IPAddress: req.Credentials.ClientIP,
		Details:   map[string]any{"generation": grant.Generation},
	})
	return issued, nil
}

func (s *Server) revokeFamilyOnReuse(ctx context.Context, client *storage.Client, old *storage.Token, req *TokenRequest) {
	if s.metrics != nil {
		s.metrics.RecordTokenReuseDetected(ctx)
	}
	if old == nil || old.FamilyID == "" {
		return
	}
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventTokenReuseDetected,
		UserID:    old.Subject,
		ClientID:  client.ClientID,
		IPAddress: req.Credentials.ClientIP,
	})

	revoked, err := s.stores.Tokens.RevokeFamily(ctx, old.FamilyID)
	if err != nil {
		s.Logger.Error("Failed to revoke token family", "family_id", old.FamilyID, "error", err)
		return
	}
	s.Auditor.LogEvent(security.Event{
		Type:     security.EventTokenFamilyRevoked,
		UserID:   old.Subject,
		ClientID: old.ClientID,
		Details:  map[string]any{"family_id": old.FamilyID, "tokens_revoked": revoked},
	})
	s.Logger.Warn("Refresh token reuse detected, revoked token family",
		"client_id", client.ClientID,
		"family_id", old.FamilyID,
		"tokens_revoked", revoked)
}

// ============================================================
// uma-ticket
// ============================================================

func (s *Server) grantUMATicket(ctx context.Context, client *storage.Client, req *TokenRequest) (*token.Issued, error) {
	if req.Ticket == "" {
		return nil, ErrInvalidRequest("ticket is required")
	}
	var claimToken *uma.ClaimToken
	if req.ClaimToken != "" {
		if req.ClaimTokenFormat == "" {
			return nil, ErrInvalidRequest("claim_token_format is required with claim_token")
		}
		claimToken = &uma.ClaimToken{Token: req.ClaimToken, Format: req.ClaimTokenFormat}
	}

	// SECURITY: atomic redemption; a ticket is never evaluated twice
	ticket, err := s.stores.Tickets.AtomicCheckAndMarkTicketUsed(ctx, req.Ticket)
	if err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) || errors.Is(err, storage.ErrTicketUsed) {
			return nil, ErrInvalidGrant("The permission ticket is invalid or expired")
		}
		return nil, err
	}

	res, err := s.Evaluator.Evaluate(ctx, ticket, client.ClientID, claimToken)
	if err != nil {
		return nil, err
	}

	if res.Decision != uma.Authorized {
		next, err := s.rotateTicket(ctx, ticket)
		if err != nil {
			return nil, err
		}
		return nil, umaError(res, next.ID)
	}

	var scopes []string
	for _, p := range res.Permissions {
		for _, sc := range p.Scopes {
			if !slices.Contains(scopes, sc) {
				scopes = append(scopes, sc)
			}
		}
	}
	return s.Issuer.IssueTokens(ctx, token.Grant{
		Client:         client,
		Subject:        res.Subject,
		Scopes:         scopes,
		IncludeRefresh: slices.Contains(client.GrantTypes, GrantTypeRefreshToken),
		Permissions:    res.Permissions,
	})
}

// rotateTicket replaces a redeemed ticket with a fresh one carrying the same
// lines and approval state, for the client to retry with.
func (s *Server) rotateTicket(ctx context.Context, old *storage.Ticket) (*storage.Ticket, error) {
	now := time.Now()
	next := old.Clone()
	next.ID = uuid.NewString()
	next.Used = false
	next.IssuedAt = now
	next.ExpiresAt = now.Add(s.Config.TicketTTL)

	if err := s.stores.Tickets.SaveTicket(ctx, next); err != nil {
		return nil, err
	}
	if err := s.stores.Tickets.DeleteTicket(ctx, old.ID); err != nil {
		s.Logger.Warn("Failed to delete redeemed ticket", "ticket_id", util.SafeTruncate(old.ID, 8), "error", err)
	}
	s.Logger.Debug("Rotated permission ticket",
		"old_ticket_id", util.SafeTruncate(old.ID, 8),
		"ticket_id", util.SafeTruncate(next.ID, 8))
	return next, nil
}
