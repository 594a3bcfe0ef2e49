// Package session keeps the signed-in resource owner of the authorization
// endpoint in an encrypted cookie.
//
// The cookie holds the subject and authentication time sealed with
// AES-256-GCM (security.Encryptor), bound to the cookie name as additional
// data. No server side state is kept, so a session survives restarts as long
// as the key does and every instance behind a load balancer shares the key.
//
// Manager.Login authenticates credentials through a
// server.ResourceOwnerAuthenticator, audits the outcome and sets the cookie;
// Manager.Load returns the session of a request for server.Authorize.
package session
