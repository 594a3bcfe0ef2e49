// Package server implements the authorization server logic independent of
// HTTP: client authentication, the token endpoint grants, the authorization
// endpoint, UMA permission tickets and the protection API for resource sets
// and their policies.
//
// The Server type delegates to specialized packages:
//   - Token minting, introspection and revocation (token package)
//   - UMA policy decisions (uma package)
//   - JWS/JWE processing and key resolution (jose package)
//   - Repositories (storage package)
//   - Audit logging (security package)
//
// Key Features:
//   - client_secret_basic, client_secret_post, client_secret_jwt,
//     private_key_jwt, tls_client_auth and public clients
//   - authorization_code with PKCE, client_credentials, password,
//     refresh_token with rotation and reuse detection, uma-ticket
//   - Authorization code replay revokes everything issued from the code
//   - need_info and request_submitted continuations with ticket rotation
//
// Example usage:
//
//	store := memory.New()
//	srv, err := server.New(server.NewStores(store), jose.NewGeneratingProvider(),
//	    &server.Config{Issuer: "https://auth.example.com"}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	issued, err := srv.Token(ctx, &server.TokenRequest{
//	    GrantType:   server.GrantTypeClientCredentials,
//	    Credentials: server.ClientCredentials{ClientID: id, ClientSecret: secret, FromHeader: true},
//	})
package server
