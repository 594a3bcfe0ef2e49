package server

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// PermissionRequest asks for a ticket on scopes of one resource set
type PermissionRequest struct {
	ResourceSetID string   `json:"resource_set_id"`
	Scopes        []string `json:"scopes"`
}

// protection is an authenticated protection API access token (PAT).
type protection struct {
	token *storage.Token

	// owner is the resource owner the PAT acts for: its subject, or the
	// resource server itself for a client credentials PAT
	owner string
}

// authenticatePAT validates a bearer PAT for the protection API
func (s *Server) authenticatePAT(ctx context.Context, pat string) (*protection, error) {
	if pat == "" {
		return nil, ErrInvalidToken("A protection API access token is required")
	}
	tok, err := s.Issuer.Lookup(ctx, pat)
	if err != nil || tok.Type != storage.TokenTypeAccess {
		return nil, ErrInvalidToken("The access token is invalid or expired")
	}
	if !slices.Contains(tok.Scopes, s.Config.ProtectionScope) {
		return nil, ErrInsufficientScope("The access token lacks the " + s.Config.ProtectionScope + " scope")
	}
	owner := tok.Subject
	if owner == "" {
		owner = tok.ClientID
	}
	return &protection{token: tok, owner: owner}, nil
}

// CreatePermission registers a permission request and returns its ticket
func (s *Server) CreatePermission(ctx context.Context, pat string, req PermissionRequest) (string, error) {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return "", err
	}
	return s.createTicket(ctx, p, req)
}

// CreatePermissions registers several permission requests and returns one
// ticket per request, in order. Nothing is stored unless every request is valid.
func (s *Server) CreatePermissions(ctx context.Context, pat string, reqs []PermissionRequest) ([]string, error) {
	p, err := s.authenticatePAT(ctx, pat)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, ErrInvalidRequest("at least one permission request is required")
	}

	lines := make([]storage.TicketLine, 0, len(reqs))
	for _, req := range reqs {
		line, err := s.permissionLine(ctx, p, req)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		t, err := s.saveTicket(ctx, p, line)
		if err != nil {
			return nil, err
		}
		ids = append(ids, t)
	}
	return ids, nil
}

func (s *Server) createTicket(ctx context.Context, p *protection, req PermissionRequest) (string, error) {
	line, err := s.permissionLine(ctx, p, req)
	if err != nil {
		return "", err
	}
	return s.saveTicket(ctx, p, line)
}

// permissionLine validates one request against its resource set
func (s *Server) permissionLine(ctx context.Context, p *protection, req PermissionRequest) (storage.TicketLine, error) {
	if req.ResourceSetID == "" {
		return storage.TicketLine{}, ErrInvalidRequest("resource_set_id is required")
	}
	if len(req.Scopes) == 0 {
		return storage.TicketLine{}, ErrInvalidRequest("scopes are required")
	}

	rs, err := s.stores.ResourceSets.GetResourceSet(ctx, req.ResourceSetID)
	if err != nil {
		if errors.Is(err, storage.ErrResourceSetNotFound) {
			return storage.TicketLine{}, ErrInvalidResourceSetID("The resource set does not exist")
		}
		return storage.TicketLine{}, err
	}
	// SECURITY: another owner's resource set is reported as unknown
	if rs.Owner != p.owner {
		return storage.TicketLine{}, ErrInvalidResourceSetID("The resource set does not exist")
	}
	if !util.IsSubset(req.Scopes, rs.Scopes) {
		return storage.TicketLine{}, ErrInvalidScope("The requested scopes are not registered for the resource set")
	}
	return storage.TicketLine{ResourceSetID: rs.ID, Scopes: slices.Clone(req.Scopes)}, nil
}

func (s *Server) saveTicket(ctx context.Context, p *protection, lines ...storage.TicketLine) (string, error) {
	now := time.Now()
	t := &storage.Ticket{
		ID:        uuid.NewString(),
		ClientID:  p.token.ClientID,
		Owner:     p.owner,
		Lines:     lines,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.Config.TicketTTL),
	}
	if err := s.stores.Tickets.SaveTicket(ctx, t); err != nil {
		s.Logger.Error("Failed to save permission ticket", "error", err)
		return "", AsOAuthError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordTicketIssued(ctx, p.token.ClientID)
	}
	s.Auditor.LogEvent(security.Event{
		Type:     security.EventTicketIssued,
		UserID:   p.owner,
		ClientID: p.token.ClientID,
		Details:  map[string]any{"ticket_id": util.SafeTruncate(t.ID, 8)},
	})
	s.Logger.Debug("Issued permission ticket",
		"ticket_id", util.SafeTruncate(t.ID, 8),
		"client_id", p.token.ClientID,
		"lines", len(lines))
	return t.ID, nil
}

// AuthorizeTicket records that the resource owner subject approves the
// pending request of ticketID. Only the owner of the ticket's resource sets
// may approve it.
func (s *Server) AuthorizeTicket(ctx context.Context, subject, ticketID string) error {
	if subject == "" {
		return ErrLoginRequired("The resource owner is not signed in")
	}
	t, err := s.stores.Tickets.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) {
			return ErrInvalidTicket("The permission ticket is invalid or expired")
		}
		return AsOAuthError(err)
	}
	if t.Owner != subject {
		s.Logger.Warn("Ticket approval by a party that does not own the resources",
			"ticket_id", util.SafeTruncate(ticketID, 8))
		return ErrAccessDenied("Only the resource owner may approve this request")
	}

	if err := s.stores.Tickets.AuthorizeTicket(ctx, ticketID); err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) || errors.Is(err, storage.ErrTicketUsed) {
			return ErrInvalidTicket("The permission ticket is invalid or expired")
		}
		return AsOAuthError(err)
	}
	s.Auditor.LogEvent(security.Event{
		Type:    security.EventTicketAuthorized,
		UserID:  subject,
		Details: map[string]any{"ticket_id": util.SafeTruncate(ticketID, 8)},
	})
	return nil
}
