package memory

import (
	"context"
	"fmt"

	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokens stores every token of one grant under a single lock, so either
// all of them become visible or, on validation failure, none does.
func (s *Store) SaveTokens(ctx context.Context, tokens ...*storage.Token) error {
	return s.observe(ctx, "save_tokens", func(context.Context) error {
		if len(tokens) == 0 {
			return invalidInput("no tokens to save")
		}
		for _, t := range tokens {
			if t == nil || t.Value == "" {
				return invalidInput("token value cannot be empty")
			}
			if t.Type != storage.TokenTypeAccess && t.Type != storage.TokenTypeRefresh {
				return invalidInput("unknown token type %q", t.Type)
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		for _, t := range tokens {
			if _, exists := s.tokens[t.Value]; exists {
				return invalidInput("token value already stored")
			}
		}
		for _, t := range tokens {
			s.tokens[t.Value] = t.Clone()
		}
		s.tokensCount.Store(int64(len(s.tokens)))

		s.logger.Debug("Saved tokens", "count", len(tokens), "client_id", tokens[0].ClientID)
		return nil
	})
}

// GetToken retrieves a token by value
func (s *Store) GetToken(ctx context.Context, value string) (*storage.Token, error) {
	var out *storage.Token
	err := s.observe(ctx, "get_token", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		tok, ok := s.tokens[value]
		if !ok {
			return storage.ErrTokenNotFound
		}
		if security.IsTokenExpired(tok.ExpiresAt()) {
			return storage.ErrTokenExpired
		}
		out = tok.Clone()
		return nil
	})
	return out, err
}

// DeleteToken removes a token
func (s *Store) DeleteToken(ctx context.Context, value string) error {
	return s.observe(ctx, "delete_token", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.tokens[value]; !ok {
			return storage.ErrTokenNotFound
		}
		delete(s.tokens, value)
		s.tokensCount.Store(int64(len(s.tokens)))
		return nil
	})
}

// ConsumeRefreshToken atomically removes a refresh token and returns it.
// A value that was already consumed yields the original token with
// ErrTokenReused until the original would have expired.
func (s *Store) ConsumeRefreshToken(ctx context.Context, value string) (*storage.Token, error) {
	var out *storage.Token
	err := s.observe(ctx, "consume_refresh_token", func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if prev, ok := s.consumed[value]; ok {
			out = prev.token.Clone()
			s.logger.Warn("Refresh token presented after rotation",
				"token_prefix", util.SafeTruncate(value, tokenIDLogLength),
				"family_id", prev.token.FamilyID)
			return storage.ErrTokenReused
		}

		tok, ok := s.tokens[value]
		if !ok || tok.Type != storage.TokenTypeRefresh {
			return storage.ErrTokenNotFound
		}

		delete(s.tokens, value)
		s.tokensCount.Store(int64(len(s.tokens)))

		if security.IsTokenExpired(tok.ExpiresAt()) {
			return fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
		}

		s.consumed[value] = consumedToken{token: tok, expiresAt: tok.ExpiresAt()}
		out = tok.Clone()
		return nil
	})
	return out, err
}

// RevokeFamily deletes every token of a refresh token family
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	revoked := 0
	err := s.observe(ctx, "revoke_family", func(context.Context) error {
		if familyID == "" {
			return invalidInput("family id cannot be empty")
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		for value, tok := range s.tokens {
			if tok.FamilyID == familyID {
				delete(s.tokens, value)
				revoked++
			}
		}
		s.tokensCount.Store(int64(len(s.tokens)))

		s.logger.Info("Revoked token family", "family_id", familyID, "tokens_revoked", revoked)
		return nil
	})
	return revoked, err
}
