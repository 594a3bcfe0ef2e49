// Package jose verifies, decrypts and signs the JOSE artifacts exchanged with
// the authorization server: client assertions, UMA claim tokens, request
// objects and the server's own self-contained tokens.
//
// Three pieces cooperate:
//
//   - KeyResolver finds a verification key by kid, first among a client's
//     registered keys, then at its jwks_uri, or in the server key set when
//     there is no client. ResolveIssuer reads the jwks_uri from an OpenID
//     provider's discovery document instead.
//   - Codec unwraps compact JWS and JWE values into a Payload. Routine
//     failures (bad signature, unknown kid, malformed header) yield a nil
//     Payload; only an unknown client is reported as an error. UnSign never
//     accepts alg "none"; UnSignWithOptions lets UMA claim tokens opt in.
//   - KeyProvider holds the server's signing and decryption keys and
//     publishes their public half for the /jwks endpoint.
//
// Remote key sets are never cached across requests. Concurrent fetches of
// the same URL are collapsed into one that outlives a cancelled caller, and
// a request-scoped negative cache (WithNegativeCache) stops one request from
// retrying a URI that already failed.
//
// Example:
//
//	keys := jose.NewGeneratingProvider()
//	resolver := jose.NewKeyResolver(jose.Config{}, keys)
//	codec := jose.NewCodec(jose.Config{}, resolver, keys, store)
//
//	payload := codec.UnSign(ctx, assertion, client)
//	if payload == nil {
//		// signature could not be verified
//	}
//	sub := payload.Subject()
package jose
