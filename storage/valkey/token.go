package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokens stores every token of one grant in a single script run, so
// either all of them are written or none is.
func (s *Store) SaveTokens(ctx context.Context, tokens ...*storage.Token) error {
	if len(tokens) == 0 {
		return fmt.Errorf("%w: no tokens to save", storage.ErrInvalidInput)
	}

	keys := make([]string, 0, len(tokens))
	args := make([]string, 0, 3*len(tokens))
	for _, t := range tokens {
		if t == nil || t.Value == "" {
			return fmt.Errorf("%w: token value cannot be empty", storage.ErrInvalidInput)
		}
		if t.Type != storage.TokenTypeAccess && t.Type != storage.TokenTypeRefresh {
			return fmt.Errorf("%w: unknown token type %q", storage.ErrInvalidInput, t.Type)
		}
		if err := validateStringLength(t.Value, MaxTokenLength, "token"); err != nil {
			return err
		}
		if err := validateStringLength(t.FamilyID, MaxIDLength, "family_id"); err != nil {
			return err
		}

		data, err := json.Marshal(toTokenJSON(t))
		if err != nil {
			return fmt.Errorf("failed to marshal token: %w", err)
		}

		family := ""
		if t.FamilyID != "" {
			family = s.familyKey(t.FamilyID)
		}

		keys = append(keys, s.tokenKey(t.Value))
		args = append(args,
			string(data),
			strconv.FormatInt(int64(calculateTTL(t.ExpiresAt()).Seconds()), 10),
			family,
		)
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveTokens).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(args...).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	if result == "EXISTS" {
		return fmt.Errorf("%w: token value already stored", storage.ErrInvalidInput)
	}

	s.logger.Debug("Saved tokens", "count", len(tokens), "client_id", tokens[0].ClientID)
	return nil
}

// GetToken retrieves a token by value
func (s *Store) GetToken(ctx context.Context, value string) (*storage.Token, error) {
	j, err := getAndUnmarshal[tokenJSON](ctx, s, s.tokenKey(value), storage.ErrTokenNotFound)
	if err != nil {
		return nil, err
	}

	tok := fromTokenJSON(j)
	if security.IsTokenExpired(tok.ExpiresAt()) {
		return nil, storage.ErrTokenExpired
	}
	return tok, nil
}

// DeleteToken removes a token
func (s *Store) DeleteToken(ctx context.Context, value string) error {
	removed, err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(value)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if removed == 0 {
		return storage.ErrTokenNotFound
	}

	s.logger.Debug("Deleted token", "token_prefix", truncate(value))
	return nil
}

// ConsumeRefreshToken atomically removes a refresh token and returns it.
// A value that was already consumed yields the original token with
// ErrTokenReused until the original would have expired.
//
// SECURITY: This operation is atomic via Lua script - only ONE concurrent request can succeed.
func (s *Store) ConsumeRefreshToken(ctx context.Context, value string) (*storage.Token, error) {
	if err := validateStringLength(value, MaxTokenLength, "token"); err != nil {
		return nil, err
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeRefreshToken).
			Numkeys(2).
			Key(s.tokenKey(value), s.consumedKey(value)).
			Arg(graceNow()).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic refresh token consumption: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case result == "EXPIRED":
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	case strings.HasPrefix(result, "REUSED:"):
		var j tokenJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "REUSED:")), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused token", storage.ErrTokenReused)
		}
		s.logger.Warn("Refresh token presented after rotation",
			"token_prefix", truncate(value),
			"family_id", j.FamilyID)
		return fromTokenJSON(&j), storage.ErrTokenReused
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse refresh token: %w", err)
	}

	s.logger.Debug("Consumed refresh token", "token_prefix", truncate(value))
	return fromTokenJSON(&j), nil
}

// RevokeFamily deletes every token of a refresh token family
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, fmt.Errorf("%w: family id cannot be empty", storage.ErrInvalidInput)
	}

	removed, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRevokeFamily).
			Numkeys(1).
			Key(s.familyKey(familyID)).
			Build(),
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke token family: %w", err)
	}

	s.logger.Info("Revoked token family", "family_id", familyID, "tokens_revoked", removed)
	return int(removed), nil
}
