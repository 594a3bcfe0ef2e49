package server

import (
	"context"
	"errors"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/token"
)

// Introspect runs the introspection endpoint (RFC 7662). The caller must
// authenticate as a client; unknown, expired and revoked tokens are
// reported inactive rather than as an error.
func (s *Server) Introspect(ctx context.Context, creds *ClientCredentials, value, typeHint string) (*token.Introspection, error) {
	ctx, span := s.startSpan(ctx, "introspect")
	defer span.End()

	if _, err := s.AuthenticateClient(ctx, creds); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if value == "" {
		return nil, ErrInvalidRequest("token is required")
	}

	res := s.Issuer.Introspect(ctx, value, typeHint)
	instrumentation.SetSpanSuccess(span)
	return &res, nil
}

// Revoke runs the revocation endpoint. A client may only revoke its own
// tokens; unknown tokens and tokens of other clients are both invalid_token
// so that the response does not reveal which tokens exist.
func (s *Server) Revoke(ctx context.Context, creds *ClientCredentials, value, typeHint string) error {
	ctx, span := s.startSpan(ctx, "revoke")
	defer span.End()

	client, err := s.AuthenticateClient(ctx, creds)
	if err != nil {
		instrumentation.RecordError(span, err)
		return err
	}
	if value == "" {
		return ErrInvalidRequest("token is required")
	}

	if err := s.Issuer.Revoke(ctx, value, typeHint, client.ClientID); err != nil {
		instrumentation.RecordError(span, err)
		if errors.Is(err, token.ErrInvalidToken) {
			return ErrInvalidToken("The token is invalid or was already revoked")
		}
		s.Logger.Error("Token revocation failed", "client_id", client.ClientID, "error", err)
		return ErrServerError("The server encountered an unexpected condition")
	}

	instrumentation.SetSpanSuccess(span)
	return nil
}
