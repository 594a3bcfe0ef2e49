package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Only metadata is recorded: token values, codes,
// secrets and PKCE verifiers never go into traces.
const (
	// OAuth attributes
	AttrClientID         = "oauth.client_id"
	AttrUserID           = "oauth.user_id"
	AttrScope            = "oauth.scope"
	AttrPKCEMethod       = "oauth.pkce.method"
	AttrTokenFamilyID    = "oauth.token.family_id"  //nolint:gosec // identifier, not a credential
	AttrTokenGeneration  = "oauth.token.generation" //nolint:gosec // counter, not a credential
	AttrCodeReuse        = "oauth.code.reuse"
	AttrTokenReuse       = "oauth.token.reuse" //nolint:gosec // boolean flag
	AttrGrantType        = "oauth.grant_type"
	AttrResponseType     = "oauth.response_type"
	AttrAuthMethod       = "oauth.client_auth_method"
	AttrTokenType        = "oauth.token_type" //nolint:gosec // token type name, not a token
	AttrError            = "oauth.error"
	AttrErrorDescription = "oauth.error_description"

	// UMA attributes
	AttrTicketID      = "uma.ticket_id"
	AttrResourceSetID = "uma.resource_set_id"
	AttrPolicyID      = "uma.policy_id"
	AttrUMADecision   = "uma.decision"

	// JOSE attributes
	AttrJOSEAlgorithm = "jose.alg"
	AttrJOSEKeyID     = "jose.kid"
	AttrJOSEOperation = "jose.operation"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
// This is a convenience wrapper that safely handles nil spans
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
// This is a convenience wrapper that safely handles nil spans
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddPKCEAttributes adds PKCE-related attributes to a span (nil-safe)
func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddTokenFamilyAttributes adds token family tracking attributes to a span (nil-safe)
func AddTokenFamilyAttributes(span trace.Span, familyID string, generation int) {
	if familyID != "" {
		SetSpanAttributes(span,
			attribute.String(AttrTokenFamilyID, familyID),
			attribute.Int(AttrTokenGeneration, generation),
		)
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddUMAAttributes adds ticket and decision attributes to a span (nil-safe)
func AddUMAAttributes(span trace.Span, ticketID, decision string) {
	if ticketID != "" {
		SetSpanAttributes(span, attribute.String(AttrTicketID, ticketID))
	}
	if decision != "" {
		SetSpanAttributes(span, attribute.String(AttrUMADecision, decision))
	}
}

// AddJOSEAttributes adds algorithm and key id attributes to a span (nil-safe)
func AddJOSEAttributes(span trace.Span, operation, alg, kid string) {
	SetSpanAttributes(span, attribute.String(AttrJOSEOperation, operation))
	if alg != "" {
		SetSpanAttributes(span, attribute.String(AttrJOSEAlgorithm, alg))
	}
	if kid != "" {
		SetSpanAttributes(span, attribute.String(AttrJOSEKeyID, kid))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Callers check ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
