package storage

import "errors"

// Sentinel errors returned by storage implementations. Implementations wrap
// them with context (fmt.Errorf("%w: ...")); callers match with errors.Is.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrResourceOwnerNotFound     = errors.New("resource owner not found")
	ErrTokenNotFound             = errors.New("token not found")
	ErrTokenExpired              = errors.New("token expired")
	ErrTokenReused               = errors.New("refresh token already used")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")
	ErrTicketNotFound            = errors.New("permission ticket not found")
	ErrTicketUsed                = errors.New("permission ticket already used")
	ErrConsentNotFound           = errors.New("consent not found")
	ErrResourceSetNotFound       = errors.New("resource set not found")
	ErrPolicyNotFound            = errors.New("policy not found")
	ErrScopeInUse                = errors.New("scope in use by an attached policy")
	ErrInvalidInput              = errors.New("invalid input")
)
