// Package instrumentation provides OpenTelemetry metrics and traces for the
// authorization server.
//
// When enabled, metrics are collected by the OpenTelemetry SDK and exposed in
// the Prometheus exposition format through Handler:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:        true,
//		ServiceName:    "uma-server",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	router.Handle("/metrics", inst.Handler())
//
// When disabled, no-op providers are used and recording is free.
//
// # Available Metrics
//
// HTTP:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// Grants and tokens:
//   - oauth.tokens.issued{grant_type, client_id}
//   - oauth.grant.failed{grant_type, error}
//   - oauth.token.revoked{client_id}
//   - oauth.token.introspected{active}
//   - oauth.client.authentication{method, success}
//   - oauth.authorize.requests{outcome}
//
// UMA:
//   - uma.tickets.issued{client_id}
//   - uma.decisions{decision}
//
// Key resolution:
//   - jose.jwks.fetch.total{result}
//   - jose.jwks.fetch.duration
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.pkce.validation_failed{method}
//   - oauth.code.reuse_detected
//   - oauth.token.reuse_detected
//   - oauth.assertion.replay_detected
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.{tokens,clients,codes,tickets}.count
//
// # Security Considerations
//
// Traces and metrics carry metadata only. Token values, authorization codes,
// client secrets and PKCE verifiers are never recorded. Client IP addresses
// are recorded only when Config.LogClientIPs is set.
package instrumentation
