package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/storage"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// Response types accepted at the authorization endpoint
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
)

// ScopeOpenID requests an ID token
const ScopeOpenID = "openid"

// DangerousSchemes lists URI schemes that must never be allowed for security
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

const oauth21SecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-4.1.1"

// validateHTTPSEnforcement ensures that the authorization server is running
// over HTTPS outside localhost development.
//
// The validation logic:
// - HTTPS URLs: Always allowed (secure)
// - HTTP on localhost: Allowed with warning (development)
// - HTTP on non-localhost: Blocked unless AllowInsecureHTTP=true (production)
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLocalhostHostname(hostname) {
		if !s.Config.AllowInsecureHTTP {
			s.Logger.Warn("⚠️  DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"risk", "Credentials exposed on local network",
				"to_suppress", "Set AllowInsecureHTTP=true in Config",
				"learn_more", oauth21SecurityBestPracticesURL)
		}
		return nil
	}

	if !s.Config.AllowInsecureHTTP {
		return fmt.Errorf(
			"SECURITY ERROR: Issuer must use HTTPS in production (got %s://%s). "+
				"To run on localhost for development, set AllowInsecureHTTP=true",
			issuerURL.Scheme, hostname)
	}

	s.Logger.Error("🚨 CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
		"issuer", s.Config.Issuer,
		"hostname", hostname,
		"risk", "All tokens and credentials exposed to network sniffing and MITM attacks",
		"learn_more", oauth21SecurityBestPracticesURL)
	return nil
}

// isLocalhostHostname checks if a hostname refers to the local machine,
// including the whole 127.0.0.0/8 range and ::1.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	clean := strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// validateRedirectURI requires redirectURI to be one of the client's
// registered URIs, compared exactly. No prefix or normalized matching.
func validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	if !slices.Contains(client.RedirectURIs, redirectURI) {
		return fmt.Errorf("redirect_uri is not registered for client")
	}

	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}
	// OAuth 2.0 Security BCP Section 4.1.3
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}
	if slices.Contains(DangerousSchemes, strings.ToLower(parsed.Scheme)) {
		return fmt.Errorf("redirect_uri scheme '%s' is not allowed for security reasons", parsed.Scheme)
	}
	return nil
}

// resolveClientScopes returns the scopes a client receives for a request.
// An empty request yields every allowed scope. A scope outside the client's
// allowed scopes fails the whole request.
func resolveClientScopes(requested string, client *storage.Client) ([]string, error) {
	scopes := util.ParseScopes(requested)
	if len(scopes) == 0 {
		return slices.Clone(client.AllowedScopes), nil
	}
	if !util.IsSubset(scopes, client.AllowedScopes) {
		// SECURITY: Don't reveal which scopes are unauthorized to prevent enumeration
		return nil, fmt.Errorf("client is not authorized for one or more requested scopes")
	}
	return scopes, nil
}

// parseResponseTypes splits and validates a response_type parameter. Every
// entry must be a known response type the client registered.
func parseResponseTypes(responseType string, client *storage.Client) ([]string, error) {
	types := strings.Fields(responseType)
	if len(types) == 0 {
		return nil, fmt.Errorf("response_type is required")
	}
	for _, t := range types {
		switch t {
		case ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken:
		default:
			return nil, fmt.Errorf("unsupported response_type: %s", t)
		}
		if !slices.Contains(client.ResponseTypes, t) {
			return nil, fmt.Errorf("response_type %s is not allowed for client", t)
		}
	}
	return types, nil
}

// validateCodeChallenge checks the PKCE parameters of an authorization request.
func (s *Server) validateCodeChallenge(challenge, method string, required bool) error {
	if challenge == "" {
		if required {
			return fmt.Errorf("code_challenge is required for this client")
		}
		if method != "" {
			return fmt.Errorf("code_challenge_method without code_challenge")
		}
		return nil
	}
	if len(challenge) < MinCodeVerifierLength || len(challenge) > MaxCodeVerifierLength {
		return fmt.Errorf("code_challenge must be %d-%d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
	}
	switch method {
	case "", PKCEMethodPlain:
		// RFC 7636: the default method is plain
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("code_challenge_method must be %s", PKCEMethodS256)
		}
	case PKCEMethodS256:
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
	return nil
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		if verifier != "" {
			// a verifier for a code issued without a challenge is a downgrade attempt
			return fmt.Errorf("code_verifier provided but no code_challenge was issued")
		}
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	// RFC 7636: code_verifier must be 43-128 characters
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be %d-%d characters (RFC 7636)", MinCodeVerifierLength, MaxCodeVerifierLength)
	}

	// RFC 7636: code_verifier can only contain [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computedChallenge string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])
	case "", PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'%s' code_challenge_method is not allowed", PKCEMethodPlain)
		}
		computedChallenge = verifier
		s.Logger.Warn("Using insecure 'plain' PKCE method",
			"recommendation", "Upgrade client to use S256")
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
