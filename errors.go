package oauth

import (
	"github.com/giantswarm/uma-oauth/server"
)

// OAuth and UMA error codes as constants
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeUnauthorizedClient      = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeServerError             = server.ErrorCodeServerError
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeInvalidRedirectURI      = server.ErrorCodeInvalidRedirectURI
	ErrorCodeRateLimitExceeded       = server.ErrorCodeRateLimitExceeded
	ErrorCodeLoginRequired           = server.ErrorCodeLoginRequired
	ErrorCodeConsentRequired         = server.ErrorCodeConsentRequired
	ErrorCodeInvalidTicket           = server.ErrorCodeInvalidTicket
	ErrorCodeNeedInfo                = server.ErrorCodeNeedInfo
	ErrorCodeRequestSubmitted        = server.ErrorCodeRequestSubmitted
	ErrorCodeNotAuthorized           = server.ErrorCodeNotAuthorized
	ErrorCodeInvalidResourceSetID    = server.ErrorCodeInvalidResourceSetID
	ErrorCodeNotFound                = server.ErrorCodeNotFound
	ErrorCodeInsufficientScope       = server.ErrorCodeInsufficientScope
)

// OAuthError is an OAuth 2.0 or UMA 2.0 error response
type OAuthError = server.OAuthError

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return server.NewOAuthError(code, description, status)
}

// Common OAuth errors as reusable constructors
var (
	ErrInvalidRequest          = server.ErrInvalidRequest
	ErrInvalidGrant            = server.ErrInvalidGrant
	ErrInvalidClient           = server.ErrInvalidClient
	ErrInvalidScope            = server.ErrInvalidScope
	ErrInvalidToken            = server.ErrInvalidToken
	ErrUnauthorizedClient      = server.ErrUnauthorizedClient
	ErrUnsupportedGrantType    = server.ErrUnsupportedGrantType
	ErrUnsupportedResponseType = server.ErrUnsupportedResponseType
	ErrServerError             = server.ErrServerError
	ErrAccessDenied            = server.ErrAccessDenied
	ErrInvalidRedirectURI      = server.ErrInvalidRedirectURI
	ErrLoginRequired           = server.ErrLoginRequired
	ErrConsentRequired         = server.ErrConsentRequired
	ErrInvalidTicket           = server.ErrInvalidTicket
	ErrInvalidResourceSetID    = server.ErrInvalidResourceSetID
	ErrInsufficientScope       = server.ErrInsufficientScope
	ErrNotFound                = server.ErrNotFound
)
