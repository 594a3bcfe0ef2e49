package security

// Event types for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a token response is returned
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is redeemed
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked through the revocation endpoint
	EventTokenRevoked = "token_revoked"

	// EventTokenFamilyRevoked is logged when a refresh token family is revoked
	EventTokenFamilyRevoked = "token_family_revoked" //nolint:gosec // event name, not a credential

	// Authorization events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an authorization code is redeemed twice
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventConsentGranted is logged when a resource owner grants scopes to a client
	EventConsentGranted = "consent_granted"

	// EventLoginSucceeded is logged when a resource owner signs in
	EventLoginSucceeded = "login_succeeded"

	// EventLoginFailed is logged when resource owner authentication fails
	EventLoginFailed = "login_failed"

	// UMA events

	// EventTicketIssued is logged when a resource server obtains a permission ticket
	EventTicketIssued = "ticket_issued"

	// EventTicketAuthorized is logged when a resource owner approves a ticket
	EventTicketAuthorized = "ticket_authorized"

	// EventUMADecision is logged for every evaluated uma-ticket grant
	EventUMADecision = "uma_decision"

	// EventResourceSetRegistered is logged when a resource set is created
	EventResourceSetRegistered = "resource_set_registered"

	// EventPolicyUpdated is logged when the policy of a resource set changes
	EventPolicyUpdated = "policy_updated"

	// Security violation events

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when the code_verifier does not match
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventTokenReuseDetected is logged when a rotated refresh token is presented again
	EventTokenReuseDetected = "token_reuse_detected" //nolint:gosec // event name, not a credential

	// EventAssertionReplayDetected is logged when a client assertion jti is seen twice
	EventAssertionReplayDetected = "assertion_replay_detected"

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a client requests scopes it may not have
	EventScopeEscalationAttempt = "scope_escalation_attempt"
)
