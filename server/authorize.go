package server

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
	"github.com/giantswarm/uma-oauth/token"
)

// Prompt values (OpenID Connect Core 3.1.2.1)
const (
	PromptNone    = "none"
	PromptConsent = "consent"
)

// AuthorizeRequest holds the parameters of an authorization request
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Prompt              string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ResultKind tells the HTTP layer what to do with an AuthorizeResult
type ResultKind int

const (
	// ResultRedirect sends the user agent to RedirectURL
	ResultRedirect ResultKind = iota

	// ResultLoginRequired asks the resource owner to sign in first
	ResultLoginRequired

	// ResultConsentRequired asks the resource owner to grant Scopes to Client
	ResultConsentRequired
)

// String returns the outcome name used in metrics
func (k ResultKind) String() string {
	switch k {
	case ResultLoginRequired:
		return "login_required"
	case ResultConsentRequired:
		return "consent_required"
	default:
		return "redirect"
	}
}

// AuthorizeResult is the outcome of an authorization request that passed
// client and redirect URI validation.
type AuthorizeResult struct {
	Kind ResultKind

	// RedirectURL carries the response, or an error, for the client
	RedirectURL string

	// Client and Scopes describe what a login or consent page should show
	Client *storage.Client
	Scopes []string
}

// Session is the authenticated resource owner of an authorization request
type Session struct {
	Subject  string
	AuthTime time.Time
}

// Authorize runs the authorization endpoint. Errors returned directly are
// *OAuthError values that must not be redirected: the client or redirect
// URI could not be trusted. Every later error is delivered to the redirect
// URI inside the result. session may be nil when nobody is signed in.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest, session *Session) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "authorize")
	defer span.End()

	res, err := s.authorize(ctx, req, session)
	outcome := "error"
	if err == nil {
		outcome = res.Kind.String()
		instrumentation.SetSpanSuccess(span)
	} else {
		instrumentation.RecordError(span, err)
	}
	if s.metrics != nil {
		s.metrics.RecordAuthorizeRequest(ctx, outcome)
	}
	return res, err
}

func (s *Server) authorize(ctx context.Context, req *AuthorizeRequest, session *Session) (*AuthorizeResult, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	client, err := s.stores.Clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidRequest("Unknown client")
		}
		s.Logger.Error("Failed to load client", "client_id", req.ClientID, "error", err)
		return nil, ErrServerError("Failed to load client")
	}
	if err := validateRedirectURI(client, req.RedirectURI); err != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventInvalidRedirect,
			ClientID: client.ClientID,
			Details:  map[string]any{"reason": err.Error()},
		})
		return nil, ErrInvalidRedirectURI(err.Error())
	}

	// From here on errors go back to the client through the redirect URI.
	responseTypes := strings.Fields(req.ResponseType)
	fail := func(e *OAuthError) (*AuthorizeResult, error) {
		return &AuthorizeResult{
			Kind:        ResultRedirect,
			RedirectURL: buildRedirect(req.RedirectURI, useFragment(responseTypes), errorParams(e, req.State)),
			Client:      client,
		}, nil
	}

	types, err := parseResponseTypes(req.ResponseType, client)
	if err != nil {
		if req.ResponseType == "" {
			return fail(ErrInvalidRequest(err.Error()))
		}
		return fail(ErrUnsupportedResponseType(err.Error()))
	}
	responseTypes = types

	requested := util.ParseScopes(req.Scope)
	if len(requested) == 0 {
		return fail(ErrInvalidRequest("scope is required"))
	}
	scopes, err := resolveClientScopes(req.Scope, client)
	if err != nil {
		return fail(ErrInvalidScope(err.Error()))
	}

	wantsCode := slices.Contains(responseTypes, ResponseTypeCode)
	if wantsCode {
		if err := s.validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod, client.RequirePKCE); err != nil {
			return fail(ErrInvalidRequest(err.Error()))
		}
	}
	wantsIDToken := slices.Contains(responseTypes, ResponseTypeIDToken)
	if wantsIDToken {
		if !slices.Contains(scopes, ScopeOpenID) {
			return fail(ErrInvalidScope("id_token requires the openid scope"))
		}
		if req.Nonce == "" {
			return fail(ErrInvalidRequest("nonce is required when an id_token is requested"))
		}
	}

	prompts := strings.Fields(req.Prompt)
	promptNone := slices.Contains(prompts, PromptNone)
	if promptNone && len(prompts) > 1 {
		return fail(ErrInvalidRequest("prompt=none cannot be combined with other values"))
	}

	if session == nil || session.Subject == "" {
		if promptNone {
			return fail(ErrLoginRequired("The resource owner is not signed in"))
		}
		return &AuthorizeResult{Kind: ResultLoginRequired, Client: client, Scopes: scopes}, nil
	}

	consented, err := s.hasConsent(ctx, session.Subject, client.ClientID, scopes)
	if err != nil {
		s.Logger.Error("Failed to load consent", "client_id", client.ClientID, "error", err)
		return fail(ErrServerError("Failed to load consent"))
	}
	if !consented || slices.Contains(prompts, PromptConsent) {
		if promptNone {
			return fail(ErrConsentRequired("The resource owner has not consented to the requested scopes"))
		}
		return &AuthorizeResult{Kind: ResultConsentRequired, Client: client, Scopes: scopes}, nil
	}

	params, err := s.issueAuthorization(ctx, client, req, session, scopes, responseTypes)
	if err != nil {
		s.Logger.Error("Failed to issue authorization response", "client_id", client.ClientID, "error", err)
		return fail(AsOAuthError(err))
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	return &AuthorizeResult{
		Kind:        ResultRedirect,
		RedirectURL: buildRedirect(req.RedirectURI, useFragment(responseTypes), params),
		Client:      client,
		Scopes:      scopes,
	}, nil
}

// issueAuthorization creates the code and tokens requested by responseTypes.
func (s *Server) issueAuthorization(ctx context.Context, client *storage.Client, req *AuthorizeRequest, session *Session, scopes, responseTypes []string) (url.Values, error) {
	params := url.Values{}
	now := time.Now()
	authTime := session.AuthTime
	if authTime.IsZero() {
		authTime = now
	}

	if slices.Contains(responseTypes, ResponseTypeCode) {
		code := &storage.AuthorizationCode{
			Code:                oauth2.GenerateVerifier(),
			ClientID:            client.ClientID,
			RedirectURI:         req.RedirectURI,
			Scopes:              scopes,
			Subject:             session.Subject,
			Nonce:               req.Nonce,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			AuthTime:            authTime,
			IssuedAt:            now,
			ExpiresAt:           now.Add(s.Config.AuthorizationCodeTTL),
		}
		if err := s.stores.Flows.SaveAuthorizationCode(ctx, code); err != nil {
			return nil, err
		}
		params.Set("code", code.Code)
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAuthorizationCodeIssued,
			UserID:   session.Subject,
			ClientID: client.ClientID,
		})
	}

	wantsToken := slices.Contains(responseTypes, ResponseTypeToken)
	wantsIDToken := slices.Contains(responseTypes, ResponseTypeIDToken)
	if !wantsToken && !wantsIDToken {
		return params, nil
	}

	grant := token.Grant{
		Client:         client,
		Subject:        session.Subject,
		Scopes:         scopes,
		IncludeIDToken: wantsIDToken,
		Nonce:          req.Nonce,
		AuthTime:       authTime,
	}
	if wantsIDToken {
		if err := s.withIDToken(ctx, &grant); err != nil {
			return nil, err
		}
	}
	issued, err := s.Issuer.IssueTokens(ctx, grant)
	if err != nil {
		return nil, err
	}
	if wantsToken {
		params.Set("access_token", issued.AccessToken)
		params.Set("token_type", issued.TokenType)
		params.Set("expires_in", strconv.FormatInt(issued.ExpiresIn, 10))
		params.Set("scope", issued.Scope)
	}
	if wantsIDToken {
		params.Set("id_token", issued.IDToken)
	}
	s.Auditor.LogTokenIssued(session.Subject, client.ClientID, "", "implicit", scopes)
	return params, nil
}

func (s *Server) hasConsent(ctx context.Context, subject, clientID string, scopes []string) (bool, error) {
	consent, err := s.stores.Consents.GetConsent(ctx, subject, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrConsentNotFound) {
			return false, nil
		}
		return false, err
	}
	return util.IsSubset(scopes, consent.Scopes), nil
}

// GrantConsent records that subject grants scopes to clientID. Scopes are
// added to any earlier consent of the same pair.
func (s *Server) GrantConsent(ctx context.Context, subject, clientID string, scopes []string) (*storage.Consent, error) {
	if subject == "" {
		return nil, ErrLoginRequired("The resource owner is not signed in")
	}
	if len(scopes) == 0 {
		return nil, ErrInvalidRequest("scope is required")
	}
	client, err := s.stores.Clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidRequest("Unknown client")
		}
		return nil, AsOAuthError(err)
	}
	if !util.IsSubset(scopes, client.AllowedScopes) {
		return nil, ErrInvalidScope("client is not authorized for one or more requested scopes")
	}

	granted := slices.Clone(scopes)
	existing, err := s.stores.Consents.GetConsent(ctx, subject, clientID)
	switch {
	case err == nil:
		for _, sc := range existing.Scopes {
			if !slices.Contains(granted, sc) {
				granted = append(granted, sc)
			}
		}
	case !errors.Is(err, storage.ErrConsentNotFound):
		return nil, AsOAuthError(err)
	}

	consent := &storage.Consent{
		Subject:   subject,
		ClientID:  clientID,
		Scopes:    granted,
		GrantedAt: time.Now(),
	}
	if err := s.stores.Consents.SaveConsent(ctx, consent); err != nil {
		s.Logger.Error("Failed to save consent", "client_id", clientID, "error", err)
		return nil, AsOAuthError(err)
	}
	s.Auditor.LogEvent(security.Event{
		Type:     security.EventConsentGranted,
		UserID:   subject,
		ClientID: clientID,
		Details:  map[string]any{"scope": util.FormatScopes(granted)},
	})
	return consent, nil
}

// useFragment reports whether a response goes in the fragment: whenever a
// token is returned directly.
func useFragment(responseTypes []string) bool {
	return slices.Contains(responseTypes, ResponseTypeToken) || slices.Contains(responseTypes, ResponseTypeIDToken)
}

func errorParams(e *OAuthError, state string) url.Values {
	params := url.Values{}
	params.Set("error", e.Code)
	if e.Description != "" {
		params.Set("error_description", e.Description)
	}
	if state != "" {
		params.Set("state", state)
	}
	return params
}

// buildRedirect adds params to the query or the fragment of redirectURI,
// keeping any query the client registered.
func buildRedirect(redirectURI string, fragment bool, params url.Values) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	if fragment {
		u.Fragment = ""
		return u.String() + "#" + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
