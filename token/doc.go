// Package token mints, looks up, revokes and introspects access, refresh
// and ID tokens.
//
// An Issuer runs in one of two modes. In opaque mode (the default) access
// tokens are random values generated with oauth2.GenerateVerifier and are
// only meaningful to this server. In jwt mode access tokens are signed JWTs
// carrying iss, sub, aud, client_id, scope, exp, iat and jti; the record is
// still persisted under its jti so that revocation and introspection behave
// the same in both modes. Refresh tokens are always opaque.
//
// Every grant is persisted with a single TokenStore.SaveTokens call: either
// all tokens of the grant are stored and returned, or none is.
//
// Example:
//
//	issuer := token.NewIssuer(token.Config{Issuer: "https://as.example.com"}, store, keys)
//	issued, err := issuer.IssueTokens(ctx, token.Grant{
//		Client:         client,
//		Subject:        "alice",
//		Scopes:         []string{"openid", "profile"},
//		IncludeRefresh: true,
//	})
package token
