package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: authorization code cannot be empty", storage.ErrInvalidInput)
	}
	if err := validateStringLength(code.Code, MaxTokenLength, "code"); err != nil {
		return err
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.codeKey(code.Code)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	if code.Used {
		if err := s.client.Do(ctx,
			s.client.B().Set().Key(s.codeUsedKey(code.Code)).Value("1").Ex(ttl).Build(),
		).Error(); err != nil {
			return fmt.Errorf("failed to save authorization code: %w", err)
		}
	}

	s.logger.Debug("Saved authorization code", "code_prefix", truncate(code.Code))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it.
// NOTE: For actual code exchange, use AtomicCheckAndMarkAuthCodeUsed instead
// to prevent race conditions.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	j, err := getAndUnmarshal[authorizationCodeJSON](ctx, s, s.codeKey(code), storage.ErrAuthorizationCodeNotFound)
	if err != nil {
		return nil, err
	}

	used, err := s.exists(ctx, s.codeUsedKey(code))
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	authCode := fromAuthorizationCodeJSON(j, used)
	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}
	return authCode, nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically checks if a code is unused and marks it as used.
//
// SECURITY: This operation is atomic via Lua script - only ONE concurrent request can succeed.
//
// The code is returned on reuse so the caller can revoke what it issued.
// For other errors (not found, expired) nil is returned.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	result, err := s.redeemOnce(ctx, s.codeKey(code), s.codeUsedKey(code))
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code check: %w", err)
	}

	switch result.status {
	case redeemNotFound:
		return nil, storage.ErrAuthorizationCodeNotFound
	case redeemExpired:
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result.data), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}
	authCode := fromAuthorizationCodeJSON(&j, true)

	if result.status == redeemAlreadyUsed {
		return authCode, storage.ErrAuthorizationCodeUsed
	}

	s.logger.Debug("Marked authorization code as used", "code_prefix", truncate(code))
	return authCode, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.codeKey(code), s.codeUsedKey(code)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}

	s.logger.Debug("Deleted authorization code")
	return nil
}

// ============================================================
// TicketStore Implementation
// ============================================================

// SaveTicket saves a permission ticket
func (s *Store) SaveTicket(ctx context.Context, ticket *storage.Ticket) error {
	if ticket == nil || ticket.ID == "" {
		return fmt.Errorf("%w: ticket id cannot be empty", storage.ErrInvalidInput)
	}
	if len(ticket.Lines) == 0 {
		return fmt.Errorf("%w: ticket has no permission lines", storage.ErrInvalidInput)
	}

	data, err := json.Marshal(toTicketJSON(ticket))
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	ttl := calculateTTL(ticket.ExpiresAt)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.ticketKey(ticket.ID)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save ticket: %w", err)
	}
	if ticket.IsAuthorizedByRO {
		if err := s.client.Do(ctx,
			s.client.B().Set().Key(s.ticketApprovedKey(ticket.ID)).Value("1").Ex(ttl).Build(),
		).Error(); err != nil {
			return fmt.Errorf("failed to save ticket approval: %w", err)
		}
	}

	s.logger.Debug("Saved permission ticket", "ticket_id", ticket.ID, "lines", len(ticket.Lines))
	return nil
}

// GetTicket retrieves a ticket without modifying it
func (s *Store) GetTicket(ctx context.Context, id string) (*storage.Ticket, error) {
	j, err := getAndUnmarshal[ticketJSON](ctx, s, s.ticketKey(id), storage.ErrTicketNotFound)
	if err != nil {
		return nil, err
	}

	approved, err := s.exists(ctx, s.ticketApprovedKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	used, err := s.exists(ctx, s.ticketUsedKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	ticket := fromTicketJSON(j, approved, used)
	if security.IsTokenExpired(ticket.ExpiresAt) {
		return nil, fmt.Errorf("%w: ticket expired", storage.ErrTicketNotFound)
	}
	return ticket, nil
}

// AtomicCheckAndMarkTicketUsed atomically redeems a ticket.
//
// SECURITY: This operation is atomic via Lua script - only ONE concurrent request can succeed.
func (s *Store) AtomicCheckAndMarkTicketUsed(ctx context.Context, id string) (*storage.Ticket, error) {
	result, err := s.redeemOnce(ctx, s.ticketKey(id), s.ticketUsedKey(id), s.ticketApprovedKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic ticket redemption: %w", err)
	}

	switch result.status {
	case redeemNotFound:
		return nil, storage.ErrTicketNotFound
	case redeemExpired:
		return nil, fmt.Errorf("%w: ticket expired", storage.ErrTicketNotFound)
	}

	var j ticketJSON
	if err := json.Unmarshal([]byte(result.data), &j); err != nil {
		return nil, fmt.Errorf("failed to parse ticket: %w", err)
	}
	ticket := fromTicketJSON(&j, result.approved, true)

	if result.status == redeemAlreadyUsed {
		return ticket, storage.ErrTicketUsed
	}

	s.logger.Debug("Redeemed permission ticket", "ticket_id", id)
	return ticket, nil
}

// AuthorizeTicket records the resource owner's approval of a pending ticket
func (s *Store) AuthorizeTicket(ctx context.Context, id string) error {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaApproveTicket).
			Numkeys(3).
			Key(s.ticketKey(id), s.ticketUsedKey(id), s.ticketApprovedKey(id)).
			Arg(graceNow()).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to authorize ticket: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return storage.ErrTicketNotFound
	case "EXPIRED":
		return fmt.Errorf("%w: ticket expired", storage.ErrTicketNotFound)
	case "ALREADY_USED":
		return storage.ErrTicketUsed
	}

	s.logger.Debug("Ticket authorized by resource owner", "ticket_id", id)
	return nil
}

// DeleteTicket removes a ticket
func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.ticketKey(id), s.ticketUsedKey(id), s.ticketApprovedKey(id)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	return nil
}

type redeemStatus int

const (
	redeemOK redeemStatus = iota
	redeemNotFound
	redeemExpired
	redeemAlreadyUsed
)

type redeemResult struct {
	status   redeemStatus
	approved bool
	data     string
}

// redeemOnce runs luaRedeemOnce and decodes its reply. keys are the record
// key, the used marker key and optionally the approval marker key.
func (s *Store) redeemOnce(ctx context.Context, keys ...string) (*redeemResult, error) {
	reply, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRedeemOnce).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(graceNow()).
			Build(),
	).ToString()
	if err != nil {
		return nil, err
	}

	switch reply {
	case "NOT_FOUND":
		return &redeemResult{status: redeemNotFound}, nil
	case "EXPIRED":
		return &redeemResult{status: redeemExpired}, nil
	}

	res := &redeemResult{status: redeemOK}
	if rest, ok := strings.CutPrefix(reply, "ALREADY_USED:"); ok {
		res.status = redeemAlreadyUsed
		reply = rest
	}

	flag, data, ok := strings.Cut(reply, ":")
	if !ok {
		return nil, fmt.Errorf("unexpected script reply")
	}
	res.approved = flag == "1"
	res.data = data
	return res, nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ============================================================
// ConsentStore Implementation
// ============================================================

// SaveConsent creates or replaces a consent
func (s *Store) SaveConsent(ctx context.Context, consent *storage.Consent) error {
	if consent == nil || consent.Subject == "" || consent.ClientID == "" {
		return fmt.Errorf("%w: consent requires subject and client id", storage.ErrInvalidInput)
	}

	grantedAt := consent.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now()
	}

	data, err := json.Marshal(&consentJSON{
		Subject:   consent.Subject,
		ClientID:  consent.ClientID,
		Scopes:    consent.Scopes,
		GrantedAt: grantedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal consent: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.consentKey(consent.Subject, consent.ClientID)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return nil
}

// GetConsent retrieves the consent of subject for clientID
func (s *Store) GetConsent(ctx context.Context, subject, clientID string) (*storage.Consent, error) {
	j, err := getAndUnmarshal[consentJSON](ctx, s, s.consentKey(subject, clientID), storage.ErrConsentNotFound)
	if err != nil {
		return nil, err
	}
	return &storage.Consent{
		Subject:   j.Subject,
		ClientID:  j.ClientID,
		Scopes:    j.Scopes,
		GrantedAt: time.Unix(j.GrantedAt, 0),
	}, nil
}

// DeleteConsent removes the consent of subject for clientID
func (s *Store) DeleteConsent(ctx context.Context, subject, clientID string) error {
	removed, err := s.client.Do(ctx, s.client.B().Del().Key(s.consentKey(subject, clientID)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete consent: %w", err)
	}
	if removed == 0 {
		return storage.ErrConsentNotFound
	}
	return nil
}

// ============================================================
// ReplayCache Implementation
// ============================================================

// MarkUsed records id until expiresAt and reports whether it was new
func (s *Store) MarkUsed(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: replay id cannot be empty", storage.ErrInvalidInput)
	}
	if err := validateStringLength(id, MaxIDLength, "jti"); err != nil {
		return false, err
	}

	ttl := time.Until(expiresAt).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}

	recorded, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaMarkUsed).
			Numkeys(1).
			Key(s.replayKey(id)).
			Arg(strconv.FormatInt(ttl, 10)).
			Build(),
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to record replay id: %w", err)
	}
	return recorded == 1, nil
}
