package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Grant Metrics
	TokensIssued       metric.Int64Counter
	GrantFailed        metric.Int64Counter
	TokenRevoked       metric.Int64Counter
	TokenIntrospected  metric.Int64Counter
	ClientAuthenticate metric.Int64Counter
	AuthorizeRequests  metric.Int64Counter

	// UMA Metrics
	TicketsIssued metric.Int64Counter
	UMADecisions  metric.Int64Counter

	// Key resolution Metrics
	JWKSFetchTotal    metric.Int64Counter
	JWKSFetchDuration metric.Float64Histogram

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	TokenReuseDetected   metric.Int64Counter
	AssertionReplay      metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageTokensCount       metric.Int64ObservableGauge
	StorageClientsCount      metric.Int64ObservableGauge
	StorageCodesCount        metric.Int64ObservableGauge
	StorageTicketsCount      metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram
}

type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) counter(name, desc, unit string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s counter: %w", name, err)
	}
	return c
}

func (b *instrumentBuilder) histogram(name, desc string) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
	}
	return h
}

func (b *instrumentBuilder) gauge(name, desc string) metric.Int64ObservableGauge {
	if b.err != nil {
		return nil
	}
	g, err := b.meter.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit("{item}"))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s gauge: %w", name, err)
	}
	return g
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpB := &instrumentBuilder{meter: inst.Meter("http")}
	m.HTTPRequestsTotal = httpB.counter("oauth.http.requests.total", "Total number of HTTP requests", "{request}")
	m.HTTPRequestDuration = httpB.histogram("oauth.http.request.duration", "HTTP request duration in milliseconds")

	serverB := &instrumentBuilder{meter: inst.Meter("server")}
	m.TokensIssued = serverB.counter("oauth.tokens.issued", "Number of token responses issued per grant type", "{grant}")
	m.GrantFailed = serverB.counter("oauth.grant.failed", "Number of rejected token requests", "{grant}")
	m.TokenRevoked = serverB.counter("oauth.token.revoked", "Number of revocation requests", "{revocation}")
	m.TokenIntrospected = serverB.counter("oauth.token.introspected", "Number of introspection requests", "{introspection}")
	m.ClientAuthenticate = serverB.counter("oauth.client.authentication", "Number of client authentication attempts", "{attempt}")
	m.AuthorizeRequests = serverB.counter("oauth.authorize.requests", "Number of authorization requests per outcome", "{request}")
	m.TicketsIssued = serverB.counter("uma.tickets.issued", "Number of permission tickets issued", "{ticket}")
	m.UMADecisions = serverB.counter("uma.decisions", "Number of UMA authorization decisions per outcome", "{decision}")

	joseB := &instrumentBuilder{meter: inst.Meter("jose")}
	m.JWKSFetchTotal = joseB.counter("jose.jwks.fetch.total", "Number of remote JWKS fetches", "{fetch}")
	m.JWKSFetchDuration = joseB.histogram("jose.jwks.fetch.duration", "Remote JWKS fetch duration in milliseconds")

	securityB := &instrumentBuilder{meter: inst.Meter("security")}
	m.RateLimitExceeded = securityB.counter("oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}")
	m.PKCEValidationFailed = securityB.counter("oauth.pkce.validation_failed", "Number of PKCE validation failures", "{failure}")
	m.CodeReuseDetected = securityB.counter("oauth.code.reuse_detected", "Number of authorization code reuse attempts detected", "{attempt}")
	m.TokenReuseDetected = securityB.counter("oauth.token.reuse_detected", "Number of refresh token reuse attempts detected", "{attempt}")
	m.AssertionReplay = securityB.counter("oauth.assertion.replay_detected", "Number of replayed client assertions", "{attempt}")
	m.AuditEventsTotal = securityB.counter("oauth.audit.events.total", "Total number of audit events", "{event}")
	m.EncryptionOperationsTotal = securityB.counter("oauth.encryption.operations.total", "Total number of encryption/decryption operations", "{operation}")
	m.EncryptionDuration = securityB.histogram("oauth.encryption.duration", "Encryption/decryption operation duration in milliseconds")

	storageB := &instrumentBuilder{meter: inst.Meter("storage")}
	m.StorageOperationTotal = storageB.counter("storage.operation.total", "Total number of storage operations", "{operation}")
	m.StorageOperationDuration = storageB.histogram("storage.operation.duration", "Storage operation duration in milliseconds")
	m.StorageTokensCount = storageB.gauge("storage.tokens.count", "Number of stored tokens")
	m.StorageClientsCount = storageB.gauge("storage.clients.count", "Number of registered clients")
	m.StorageCodesCount = storageB.gauge("storage.codes.count", "Number of pending authorization codes")
	m.StorageTicketsCount = storageB.gauge("storage.tickets.count", "Number of pending permission tickets")

	for _, b := range []*instrumentBuilder{httpB, serverB, joseB, securityB, storageB} {
		if b.err != nil {
			return nil, b.err
		}
	}
	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordTokensIssued records a successful token response
func (m *Metrics) RecordTokensIssued(ctx context.Context, grantType, clientID string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("client_id", clientID),
	))
}

// RecordGrantFailed records a rejected token request with its OAuth error code
func (m *Metrics) RecordGrantFailed(ctx context.Context, grantType, errorCode string) {
	m.GrantFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("error", errorCode),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordTokenIntrospection records an introspection and whether the token was active
func (m *Metrics) RecordTokenIntrospection(ctx context.Context, active bool) {
	m.TokenIntrospected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}

// RecordClientAuthentication records a client authentication attempt
func (m *Metrics) RecordClientAuthentication(ctx context.Context, method string, success bool) {
	m.ClientAuthenticate.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", success),
	))
}

// RecordAuthorizeRequest records the outcome of an authorization request
// ("redirect", "login_required", "consent_required" or "error").
func (m *Metrics) RecordAuthorizeRequest(ctx context.Context, outcome string) {
	m.AuthorizeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTicketIssued records a permission ticket
func (m *Metrics) RecordTicketIssued(ctx context.Context, clientID string) {
	m.TicketsIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordUMADecision records the overall outcome of a UMA evaluation
func (m *Metrics) RecordUMADecision(ctx context.Context, decision string) {
	m.UMADecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// RecordJWKSFetch records a remote key set fetch
func (m *Metrics) RecordJWKSFetch(ctx context.Context, result string, durationMs float64) {
	m.JWKSFetchTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.JWKSFetchDuration.Record(ctx, durationMs)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter_type", limiterType)))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokenReuseDetected records a refresh token reuse attempt
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordAssertionReplay records a replayed client assertion jti
func (m *Metrics) RecordAssertionReplay(ctx context.Context) {
	m.AssertionReplay.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordEncryptionOperation records an encryption/decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("operation", operation)))
}
