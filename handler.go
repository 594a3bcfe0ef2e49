package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/server"
	"github.com/giantswarm/uma-oauth/session"
)

// Handler is a thin HTTP adapter for the authorization server.
// It parses requests, delegates to server.Server and renders the results.
type Handler struct {
	server   *server.Server
	sessions *session.Manager
	config   *Config
	logger   *slog.Logger
	ip       security.ClientIPResolver

	limiter      *security.RateLimiter
	loginLimiter *security.RateLimiter

	inst    *instrumentation.Instrumentation
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// NewHandler creates a new HTTP handler. sessions may be nil, in which case
// the login, logout, consent and ticket approval endpoints are not routed and
// every authorization request needs a login.
func NewHandler(srv *server.Server, sessions *session.Manager, config *Config) *Handler {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()

	h := &Handler{
		server:   srv,
		sessions: sessions,
		config:   config,
		logger:   config.Logger,
		ip: security.ClientIPResolver{
			TrustProxy:        config.RateLimit.TrustProxy,
			TrustedProxyCount: config.RateLimit.TrustedProxyCount,
		},
	}

	if config.rateLimitingEnabled() {
		h.limiter = security.NewRateLimiter("ip", config.RateLimit.Rate, config.RateLimit.Burst, h.logger)
		h.limiter.SetAuditor(srv.Auditor)
		h.loginLimiter = security.NewRateLimiter("login", config.RateLimit.LoginRate, config.RateLimit.LoginBurst, h.logger)
		h.loginLimiter.SetAuditor(srv.Auditor)
	}

	return h
}

// SetInstrumentation enables HTTP metrics, tracing and the /metrics endpoint.
// Call it before Routes.
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	h.inst = inst
	h.tracer = inst.Tracer("http")
	h.metrics = inst.Metrics()
	if h.limiter != nil {
		h.limiter.SetInstrumentation(inst)
		h.loginLimiter.SetInstrumentation(inst)
	}
}

// Close stops the background cleanup of the rate limiters
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
		h.loginLimiter.Stop()
	}
}

// Routes returns the router serving every endpoint below the issuer
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(h.ip.Middleware)
	r.Use(security.HeadersMiddleware(h.issuer()))
	r.Use(h.observe)
	r.Use(middleware.Timeout(h.config.RequestTimeout))

	r.Get(PathUMAConfiguration, h.ServeUMAConfiguration)
	r.Get(PathOpenIDConfiguration, h.ServeOpenIDConfiguration)
	r.Get(PathJWKS, h.ServeJWKS)
	if h.inst != nil {
		r.Handle(PathMetrics, h.inst.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit(h.limiter))

		r.Post(PathToken, h.ServeToken)
		r.Post(PathIntrospection, h.ServeIntrospection)
		r.Post(PathRevocation, h.ServeRevocation)
		r.Get(PathAuthorize, h.ServeAuthorize)

		r.Post(PathPermission, h.ServePermission)
		r.Post(PathPermissionBulk, h.ServeBulkPermission)
		r.Route(PathResourceSet, func(r chi.Router) {
			r.Post("/", h.ServeCreateResourceSet)
			r.Get("/", h.ServeListResourceSets)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.ServeGetResourceSet)
				r.Put("/", h.ServeUpdateResourceSet)
				r.Delete("/", h.ServeDeleteResourceSet)
				r.Get("/policy", h.ServeGetPolicies)
				r.Put("/policy", h.ServePutPolicy)
			})
		})

		if h.sessions != nil {
			r.Post(PathLogout, h.ServeLogout)
			r.Post(PathConsent, h.ServeConsent)
			r.Post(PathTicket+"/{id}/authorize", h.ServeTicketAuthorization)
		}
	})

	if h.sessions != nil {
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit(h.loginLimiter))
			r.Post(PathLogin, h.ServeLogin)
		})
	}

	return r
}

func (h *Handler) issuer() string {
	return h.server.Config.Issuer
}

// endpoint returns the absolute URL of path below the issuer
func (h *Handler) endpoint(path string) string {
	return util.NormalizeURL(h.issuer()) + path
}

// ==================== Middleware ====================

// rateLimit limits requests per client IP; a nil limiter lets everything through
func (h *Handler) rateLimit(rl *security.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Middleware(func(r *http.Request) string {
		return security.ClientIPFromContext(r.Context())
	})
}

// observe records the duration and status of every request by route pattern
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.tracer == nil && h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ctx := r.Context()
		var span trace.Span
		if h.tracer != nil {
			ctx, span = h.tracer.Start(ctx, "http.request")
			defer span.End()
			r = r.WithContext(ctx)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		endpoint := routePattern(r)
		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
		if h.metrics != nil {
			durationMs := float64(time.Since(start).Microseconds()) / 1000
			h.metrics.RecordHTTPRequest(ctx, r.Method, endpoint, status, durationMs)
		}
	})
}

// routePattern keeps metric cardinality bounded: resource set ids and
// ticket ids never become label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// ==================== Request parsing ====================

// parseForm parses a bounded form body
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		return ErrInvalidRequest("Malformed request body")
	}
	return nil
}

// decodeJSON decodes a bounded JSON body into v
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ErrInvalidRequest("Malformed JSON body")
	}
	return nil
}

// clientCredentials collects the client authentication of a token,
// introspection or revocation request. Credentials are read from the
// Authorization header or the form body, never both.
func (h *Handler) clientCredentials(r *http.Request) (*server.ClientCredentials, error) {
	creds := &server.ClientCredentials{
		ClientAssertion:     r.PostForm.Get("client_assertion"),
		ClientAssertionType: r.PostForm.Get("client_assertion_type"),
		ClientIP:            security.ClientIPFromContext(r.Context()),
	}
	if r.TLS != nil {
		creds.PeerCertificates = r.TLS.PeerCertificates
	}

	formID := r.PostForm.Get("client_id")
	formSecret := r.PostForm.Get("client_secret")

	username, password, ok := r.BasicAuth()
	if !ok {
		creds.ClientID = formID
		creds.ClientSecret = formSecret
		return creds, nil
	}

	if formSecret != "" || creds.ClientAssertion != "" {
		return nil, ErrInvalidRequest("Multiple client authentication methods were used")
	}
	// RFC 6749 section 2.3.1: both values are form-urlencoded before base64
	id, err := url.QueryUnescape(username)
	if err != nil {
		return nil, ErrInvalidClient("Malformed client credentials")
	}
	secret, err := url.QueryUnescape(password)
	if err != nil {
		return nil, ErrInvalidClient("Malformed client credentials")
	}
	if formID != "" && formID != id {
		return nil, ErrInvalidRequest("client_id does not match the authenticated client")
	}
	creds.ClientID = id
	creds.ClientSecret = secret
	creds.FromHeader = true
	return creds, nil
}

// bearerToken extracts an RFC 6750 bearer token from the Authorization header
func bearerToken(r *http.Request) string {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, tokenTypeBearer) {
		return ""
	}
	return strings.TrimSpace(value)
}

// safeReturnTo accepts only same-origin absolute paths so login and consent
// cannot be turned into an open redirect
func safeReturnTo(returnTo string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") || strings.Contains(returnTo, `\`) {
		return ""
	}
	u, err := url.Parse(returnTo)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return returnTo
}

// ==================== Responses ====================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}

// writeError renders err as an OAuth error response. Errors that are not
// *OAuthError values become server_error without leaking details.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *OAuthError
	if !errors.As(err, &oe) {
		h.logger.Error("Request failed",
			"path", r.URL.Path,
			"request_id", security.GetRequestID(r.Context()),
			"error", err)
	}
	oe = server.AsOAuthError(err)

	if oe.Status == http.StatusUnauthorized && oe.Code == ErrorCodeInvalidClient {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, quote(h.issuer())))
	}
	h.writeErrorBody(w, oe)
}

// writeBearerError renders a protection API error with an RFC 6750 challenge.
// Invalid tokens are 401 and a PAT without the protection scope is 403.
func (h *Handler) writeBearerError(w http.ResponseWriter, r *http.Request, err error) {
	oe := server.AsOAuthError(err)
	switch oe.Code {
	case ErrorCodeInvalidToken:
		copied := *oe
		copied.Status = http.StatusUnauthorized
		oe = &copied
		w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate("", oe.Code, oe.Description))
	case ErrorCodeInsufficientScope:
		w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(h.server.Config.ProtectionScope, oe.Code, oe.Description))
	default:
		h.writeError(w, r, err)
		return
	}
	h.writeErrorBody(w, oe)
}

func (h *Handler) writeErrorBody(w http.ResponseWriter, oe *OAuthError) {
	h.writeJSON(w, oe.Status, ErrorResponse{
		Error:            oe.Code,
		ErrorDescription: oe.Description,
		ErrorDetails:     oe.Details,
		Ticket:           oe.Ticket,
	})
}

// formatWWWAuthenticate builds a Bearer challenge per RFC 6750 section 3.
//
// Example:
//
//	Bearer realm="https://as.example.com", scope="uma_protection",
//	       error="insufficient_scope", error_description="..."
func (h *Handler) formatWWWAuthenticate(scope, errCode, errorDesc string) string {
	params := []string{fmt.Sprintf(`realm="%s"`, quote(h.issuer()))}
	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, quote(scope)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quote(errorDesc)))
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// quote escapes a quoted-string value: backslashes first, then quotes
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
