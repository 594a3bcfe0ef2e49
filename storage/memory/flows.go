package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	return s.observe(ctx, "save_authorization_code", func(context.Context) error {
		if code == nil || code.Code == "" {
			return invalidInput("authorization code cannot be empty")
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.codes[code.Code] = code.Clone()
		s.codesCount.Store(int64(len(s.codes)))

		s.logger.Debug("Saved authorization code",
			"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
			"client_id", code.ClientID)
		return nil
	})
}

// GetAuthorizationCode retrieves an authorization code without modifying it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var out *storage.AuthorizationCode
	err := s.observe(ctx, "get_authorization_code", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		ac, ok := s.codes[code]
		if !ok {
			return storage.ErrAuthorizationCodeNotFound
		}
		if security.IsTokenExpired(ac.ExpiresAt) {
			return fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
		}
		out = ac.Clone()
		return nil
	})
	return out, err
}

// AtomicCheckAndMarkAuthCodeUsed checks that a code is unused and marks it
// used under the write lock.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var out *storage.AuthorizationCode
	err := s.observe(ctx, "redeem_authorization_code", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		ac, ok := s.codes[code]
		if !ok {
			return storage.ErrAuthorizationCodeNotFound
		}
		if security.IsTokenExpired(ac.ExpiresAt) {
			return fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
		}
		if ac.Used {
			// returned so the caller can revoke what the code produced
			out = ac.Clone()
			return storage.ErrAuthorizationCodeUsed
		}

		ac.Used = true
		out = ac.Clone()
		s.logger.Debug("Marked authorization code as used",
			"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
		return nil
	})
	return out, err
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	return s.observe(ctx, "delete_authorization_code", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.codes, code)
		s.codesCount.Store(int64(len(s.codes)))
		return nil
	})
}

// ============================================================
// TicketStore Implementation
// ============================================================

// SaveTicket saves a permission ticket
func (s *Store) SaveTicket(ctx context.Context, ticket *storage.Ticket) error {
	return s.observe(ctx, "save_ticket", func(context.Context) error {
		if ticket == nil || ticket.ID == "" {
			return invalidInput("ticket id cannot be empty")
		}
		if len(ticket.Lines) == 0 {
			return invalidInput("ticket has no permission lines")
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.tickets[ticket.ID] = ticket.Clone()
		s.ticketsCount.Store(int64(len(s.tickets)))
		return nil
	})
}

// lookupTicketLocked returns a live ticket. Caller holds mu.
func (s *Store) lookupTicketLocked(id string) (*storage.Ticket, error) {
	t, ok := s.tickets[id]
	if !ok {
		return nil, storage.ErrTicketNotFound
	}
	if security.IsTokenExpired(t.ExpiresAt) {
		return nil, fmt.Errorf("%w: ticket expired", storage.ErrTicketNotFound)
	}
	return t, nil
}

// GetTicket retrieves a ticket without modifying it
func (s *Store) GetTicket(ctx context.Context, id string) (*storage.Ticket, error) {
	var out *storage.Ticket
	err := s.observe(ctx, "get_ticket", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		t, err := s.lookupTicketLocked(id)
		if err != nil {
			return err
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

// AtomicCheckAndMarkTicketUsed redeems a ticket under the write lock
func (s *Store) AtomicCheckAndMarkTicketUsed(ctx context.Context, id string) (*storage.Ticket, error) {
	var out *storage.Ticket
	err := s.observe(ctx, "redeem_ticket", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		t, err := s.lookupTicketLocked(id)
		if err != nil {
			return err
		}
		if t.Used {
			out = t.Clone()
			return storage.ErrTicketUsed
		}
		t.Used = true
		out = t.Clone()
		return nil
	})
	return out, err
}

// AuthorizeTicket records the resource owner's approval of a ticket
func (s *Store) AuthorizeTicket(ctx context.Context, id string) error {
	return s.observe(ctx, "authorize_ticket", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		t, err := s.lookupTicketLocked(id)
		if err != nil {
			return err
		}
		if t.Used {
			return storage.ErrTicketUsed
		}
		t.IsAuthorizedByRO = true
		return nil
	})
}

// DeleteTicket removes a ticket
func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	return s.observe(ctx, "delete_ticket", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.tickets, id)
		s.ticketsCount.Store(int64(len(s.tickets)))
		return nil
	})
}

// ============================================================
// ConsentStore Implementation
// ============================================================

func consentKey(subject, clientID string) string {
	return subject + "\x00" + clientID
}

// SaveConsent creates or replaces a consent
func (s *Store) SaveConsent(ctx context.Context, consent *storage.Consent) error {
	return s.observe(ctx, "save_consent", func(context.Context) error {
		if consent == nil || consent.Subject == "" || consent.ClientID == "" {
			return invalidInput("consent requires subject and client id")
		}
		cp := consent.Clone()
		if cp.GrantedAt.IsZero() {
			cp.GrantedAt = time.Now()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.consents[consentKey(cp.Subject, cp.ClientID)] = cp
		return nil
	})
}

// GetConsent retrieves the consent of subject for clientID
func (s *Store) GetConsent(ctx context.Context, subject, clientID string) (*storage.Consent, error) {
	var out *storage.Consent
	err := s.observe(ctx, "get_consent", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		c, ok := s.consents[consentKey(subject, clientID)]
		if !ok {
			return storage.ErrConsentNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

// DeleteConsent removes the consent of subject for clientID
func (s *Store) DeleteConsent(ctx context.Context, subject, clientID string) error {
	return s.observe(ctx, "delete_consent", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		key := consentKey(subject, clientID)
		if _, ok := s.consents[key]; !ok {
			return storage.ErrConsentNotFound
		}
		delete(s.consents, key)
		return nil
	})
}

// ============================================================
// ReplayCache Implementation
// ============================================================

// MarkUsed records id until expiresAt and reports whether it was new
func (s *Store) MarkUsed(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	fresh := false
	err := s.observe(ctx, "mark_used", func(context.Context) error {
		if id == "" {
			return invalidInput("replay id cannot be empty")
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if exp, ok := s.replay[id]; ok && time.Now().Before(exp) {
			return nil
		}
		s.replay[id] = expiresAt
		fresh = true
		return nil
	})
	return fresh, err
}
