package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/uma-oauth/uma"
)

// OAuth and UMA error codes
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
	ErrorCodeLoginRequired           = "login_required"
	ErrorCodeConsentRequired         = "consent_required"
	ErrorCodeInvalidTicket           = "invalid_ticket"
	ErrorCodeNeedInfo                = "need_info"
	ErrorCodeRequestSubmitted        = "request_submitted"
	ErrorCodeNotAuthorized           = "not_authorized"
	ErrorCodeInvalidResourceSetID    = "invalid_resource_set_id"
	ErrorCodeNotFound                = "not_found"
	ErrorCodeInsufficientScope       = "insufficient_scope"
)

// OAuthError is an OAuth 2.0 or UMA 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code

	// Details carries the requesting party claims of a need_info error
	Details *uma.ErrorDetails

	// Ticket is the permission ticket a client may retry with
	Ticket string
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// AsOAuthError returns err as an OAuthError. Errors of any other kind become
// a generic server_error so that internal details never reach the client.
func AsOAuthError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}
	return ErrServerError("The server encountered an unexpected condition")
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the token is unknown, expired or revoked
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant type
	ErrUnauthorizedClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates the response type is not supported
	ErrUnsupportedResponseType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the user or authorization server denied the request
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is invalid or not registered
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}

	// ErrLoginRequired indicates prompt=none was requested without a session
	ErrLoginRequired = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeLoginRequired, desc, http.StatusBadRequest)
	}

	// ErrConsentRequired indicates prompt=none was requested without consent
	ErrConsentRequired = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeConsentRequired, desc, http.StatusBadRequest)
	}

	// ErrInvalidTicket indicates the permission ticket is unknown, expired or redeemed
	ErrInvalidTicket = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidTicket, desc, http.StatusBadRequest)
	}

	// ErrInvalidResourceSetID indicates a permission request names an unknown resource set
	ErrInvalidResourceSetID = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidResourceSetID, desc, http.StatusBadRequest)
	}

	// ErrInsufficientScope indicates a bearer token lacks the scope an endpoint needs
	ErrInsufficientScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
	}

	// ErrNotFound indicates a resource set or policy does not exist
	ErrNotFound = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeNotFound, desc, http.StatusNotFound)
	}
)

// umaError builds the continuation error for an unauthorized uma-ticket
// grant, pointing the client at ticket for its next attempt.
func umaError(res *uma.Result, ticket string) *OAuthError {
	var e *OAuthError
	switch res.Decision {
	case uma.NeedInfo:
		e = NewOAuthError(ErrorCodeNeedInfo, "The requesting party must provide more claims", http.StatusForbidden)
		e.Details = res.ErrorDetails
	case uma.RequestSubmitted:
		e = NewOAuthError(ErrorCodeRequestSubmitted, "The resource owner has been asked to approve the request", http.StatusForbidden)
	default:
		e = NewOAuthError(ErrorCodeNotAuthorized, "The request is not authorized", http.StatusForbidden)
	}
	e.Ticket = ticket
	return e
}
