package uma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/uma-oauth/claims"
	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/jose"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// Decision is the outcome of evaluating a permission request.
type Decision string

// Decisions, from most to least advanced
const (
	Authorized       Decision = "authorized"
	RequestSubmitted Decision = "request_submitted"
	NeedInfo         Decision = "need_info"
	NotAuthorized    Decision = "not_authorized"
)

// rank orders the decisions a line can reach without being authorized.
func (d Decision) rank() int {
	switch d {
	case Authorized:
		return 3
	case RequestSubmitted:
		return 2
	case NeedInfo:
		return 1
	default:
		return 0
	}
}

// Claim token formats accepted at the token endpoint
const (
	ClaimTokenFormatIDToken = "http://openid.net/specs/openid-connect-core-1_0.html#IDToken"
	ClaimTokenFormatJWT     = "urn:ietf:params:oauth:token-type:jwt"
)

// ClaimToken carries the requesting party's claims.
type ClaimToken struct {
	Token  string
	Format string
}

// RequiredClaim names a claim the requesting party must present.
type RequiredClaim struct {
	ClaimType    string `json:"claim_type"`
	FriendlyName string `json:"friendly_name"`
	Name         string `json:"name"`
}

// RequestingPartyClaims tells the client what to gather before retrying.
type RequestingPartyClaims struct {
	RequiredClaims []RequiredClaim `json:"required_claims"`
	RedirectUser   string          `json:"redirect_user,omitempty"`
}

// ErrorDetails is the error_details member of a need_info response.
type ErrorDetails struct {
	RequestingPartyClaims RequestingPartyClaims `json:"requesting_party_claims"`
}

// Result is the decision on a ticket.
type Result struct {
	Decision Decision

	// Permissions lists every ticket line when Authorized
	Permissions []storage.Permission

	// ErrorDetails is set for NeedInfo
	ErrorDetails *ErrorDetails

	// ResourceSetID and RuleID identify the line and rule that decided
	ResourceSetID string
	RuleID        string

	// Subject is the sub claim of the claim token, if one was verified
	Subject string
}

// ClaimTokenDecoder verifies and decrypts claim tokens. *jose.Codec
// implements it.
type ClaimTokenDecoder interface {
	UnSignWithOptions(ctx context.Context, jws string, client *storage.Client, opts jose.UnSignOptions) *jose.Payload
	DecryptWithOptions(ctx context.Context, jwe string, client *storage.Client, opts jose.UnSignOptions) *jose.Payload
}

var _ ClaimTokenDecoder = (*jose.Codec)(nil)

// Evaluator decides permission tickets against resource set policies.
type Evaluator struct {
	config   Config
	policies storage.PolicyStore
	decoder  ClaimTokenDecoder
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *instrumentation.Metrics
	auditor  *security.Auditor
}

// NewEvaluator creates an evaluator
func NewEvaluator(cfg Config, policies storage.PolicyStore, decoder ClaimTokenDecoder) *Evaluator {
	cfg.applySecureDefaults()
	return &Evaluator{
		config:   cfg,
		policies: policies,
		decoder:  decoder,
		logger:   cfg.Logger,
	}
}

// SetInstrumentation enables tracing and decision metrics
func (e *Evaluator) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	e.tracer = inst.Tracer("uma")
	e.metrics = inst.Metrics()
}

// SetAuditor enables audit events for decisions
func (e *Evaluator) SetAuditor(a *security.Auditor) {
	e.auditor = a
}

// Evaluate decides ticket for the requesting client clientID. claimToken
// may be nil. Errors are reserved for storage failures.
func (e *Evaluator) Evaluate(ctx context.Context, ticket *storage.Ticket, clientID string, claimToken *ClaimToken) (*Result, error) {
	if ticket == nil {
		return nil, fmt.Errorf("%w: ticket is required", storage.ErrInvalidInput)
	}

	ctx, span := e.startSpan(ctx)
	defer span.End()

	ev := &evaluation{e: e, ticket: ticket, clientID: clientID, token: claimToken}

	var result *Result
	if len(ticket.Lines) == 0 {
		result = &Result{Decision: NotAuthorized}
	}
	permissions := make([]storage.Permission, 0, len(ticket.Lines))
	var decided *Result
	for _, line := range ticket.Lines {
		lr, err := ev.line(ctx, line)
		if err != nil {
			instrumentation.RecordError(span, err)
			return nil, err
		}
		if lr.Decision != Authorized {
			result = lr
			break
		}
		decided = lr
		permissions = append(permissions, storage.Permission{
			ResourceSetID: line.ResourceSetID,
			Scopes:        append([]string(nil), line.Scopes...),
		})
	}
	if result == nil {
		// the last line's rule identifies the grant
		result = &Result{
			Decision:      Authorized,
			Permissions:   permissions,
			ResourceSetID: decided.ResourceSetID,
			RuleID:        decided.RuleID,
		}
	}
	result.Subject = ev.subject

	instrumentation.AddUMAAttributes(span, ticket.ID, string(result.Decision))
	instrumentation.SetSpanSuccess(span)
	if e.metrics != nil {
		e.metrics.RecordUMADecision(ctx, string(result.Decision))
	}
	e.auditor.LogUMADecision(result.Subject, clientID, ticket.ID, string(result.Decision))
	e.logger.Debug("Evaluated permission ticket",
		"ticket_id", util.SafeTruncate(ticket.ID, 8),
		"client_id", clientID,
		"decision", result.Decision,
		"resource_set_id", result.ResourceSetID,
		"rule_id", result.RuleID)

	return result, nil
}

func (e *Evaluator) startSpan(ctx context.Context) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.Start(ctx, "uma.evaluate")
}

// evaluation holds the state of one Evaluate call. The claim token is
// decoded at most once per OpenID provider, on first use.
type evaluation struct {
	e        *Evaluator
	ticket   *storage.Ticket
	clientID string
	token    *ClaimToken

	payloads map[string]*jose.Payload
	subject  string
}

// line evaluates every rule of every policy of the line's resource set and
// keeps the most advanced outcome.
func (ev *evaluation) line(ctx context.Context, line storage.TicketLine) (*Result, error) {
	best := &Result{Decision: NotAuthorized, ResourceSetID: line.ResourceSetID}

	policies, err := ev.e.policies.ListPoliciesByResourceSet(ctx, line.ResourceSetID)
	if err != nil {
		if errors.Is(err, storage.ErrResourceSetNotFound) {
			ev.e.logger.Debug("Ticket line references a deleted resource set",
				"resource_set_id", line.ResourceSetID)
			return best, nil
		}
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	for _, policy := range policies {
		for _, rule := range policy.Rules {
			r := ev.rule(ctx, rule, line)
			if r.Decision == Authorized {
				return r, nil
			}
			if r.Decision.rank() > best.Decision.rank() {
				best = r
			}
		}
	}
	return best, nil
}

// rule checks the conditions of one rule in order; the first failing
// condition decides.
func (ev *evaluation) rule(ctx context.Context, rule storage.PolicyRule, line storage.TicketLine) *Result {
	res := &Result{ResourceSetID: line.ResourceSetID, RuleID: rule.ID}

	if !util.IsSubset(line.Scopes, rule.Scopes) {
		res.Decision = NotAuthorized
		return res
	}
	if len(rule.ClientIDsAllowed) > 0 && !util.ContainsString(rule.ClientIDsAllowed, ev.clientID) {
		res.Decision = NotAuthorized
		return res
	}
	if len(rule.Claims) > 0 {
		if missing := ev.missingClaims(ctx, rule); len(missing) > 0 {
			res.Decision = NeedInfo
			res.ErrorDetails = &ErrorDetails{
				RequestingPartyClaims: RequestingPartyClaims{
					RequiredClaims: ev.e.requiredClaims(missing),
					RedirectUser:   rule.OpenIDProvider,
				},
			}
			return res
		}
	}
	if rule.IsResourceOwnerConsentNeeded && !ev.ticket.IsAuthorizedByRO {
		res.Decision = RequestSubmitted
		return res
	}
	res.Decision = Authorized
	return res
}

// missingClaims returns the distinct claim types of rule whose required
// values are not all presented. Without a claim token the rule's provider
// vouches for, every type is missing.
func (ev *evaluation) missingClaims(ctx context.Context, rule storage.PolicyRule) []string {
	payload := ev.claims(ctx, rule.OpenIDProvider)

	var missing []string
	for _, req := range rule.Claims {
		if util.ContainsString(missing, req.Type) {
			continue
		}
		if payload == nil || !satisfies(payload, req) {
			missing = append(missing, req.Type)
		}
	}
	return missing
}

// satisfies reports whether the payload carries the required value. A
// requirement without a value only asks for the claim to be present.
func satisfies(payload *jose.Payload, req storage.ClaimRequirement) bool {
	presented := payload.StringValues(req.Type)
	if req.Value == "" {
		return len(presented) > 0
	}
	return util.ContainsString(presented, req.Value)
}

// claims decodes the claim token for provider on first use. A token for a
// rule with an OpenID provider must be signed by a key that provider
// publishes and carry it as iss; otherwise the server keys verify it.
// Unknown formats, undecodable and expired tokens yield nil.
func (ev *evaluation) claims(ctx context.Context, provider string) *jose.Payload {
	provider = util.NormalizeURL(provider)
	if payload, ok := ev.payloads[provider]; ok {
		return payload
	}
	payload := ev.decode(ctx, provider)
	if ev.payloads == nil {
		ev.payloads = make(map[string]*jose.Payload)
	}
	ev.payloads[provider] = payload
	if payload != nil && ev.subject == "" {
		ev.subject = payload.Subject()
	}
	return payload
}

func (ev *evaluation) decode(ctx context.Context, provider string) *jose.Payload {
	if ev.token == nil || ev.token.Token == "" {
		return nil
	}
	switch ev.token.Format {
	case ClaimTokenFormatIDToken, ClaimTokenFormatJWT:
	default:
		ev.e.logger.Debug("Unsupported claim token format", "format", ev.token.Format)
		return nil
	}

	opts := jose.UnSignOptions{
		AllowNone: ev.e.config.AllowUnsignedClaimTokens,
		Issuer:    provider,
	}
	var payload *jose.Payload
	if strings.Count(ev.token.Token, ".") == 4 {
		payload = ev.e.decoder.DecryptWithOptions(ctx, ev.token.Token, nil, opts)
	} else {
		payload = ev.e.decoder.UnSignWithOptions(ctx, ev.token.Token, nil, opts)
	}
	if payload == nil {
		ev.e.logger.Debug("Claim token could not be verified",
			"format", ev.token.Format,
			"openid_provider", provider)
		return nil
	}
	if exp := payload.ExpiresAt(); !exp.IsZero() && security.IsTokenExpired(exp) {
		ev.e.logger.Debug("Claim token expired", "format", ev.token.Format)
		return nil
	}
	return payload
}

func (e *Evaluator) requiredClaims(types []string) []RequiredClaim {
	out := make([]RequiredClaim, 0, len(types))
	for _, t := range types {
		out = append(out, RequiredClaim{
			ClaimType:    t,
			Name:         t,
			FriendlyName: e.friendlyName(t),
		})
	}
	return out
}

func (e *Evaluator) friendlyName(claimType string) string {
	if name, ok := e.config.FriendlyNames[claimType]; ok {
		return name
	}
	if name, ok := defaultFriendlyNames[claimType]; ok {
		return name
	}
	return claimType
}

var defaultFriendlyNames = map[string]string{
	claims.Subject:       "Subject",
	claims.Name:          "Name",
	claims.GivenName:     "Given name",
	claims.FamilyName:    "Family name",
	claims.Email:         "Email",
	claims.EmailVerified: "Email verified",
	claims.Role:          "Role",
	claims.UpdatedAt:     "Updated at",
}
