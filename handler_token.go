package oauth

import (
	"net/http"

	"github.com/giantswarm/uma-oauth/server"
)

// ServeToken handles the token endpoint for every supported grant type,
// including the UMA grant (urn:ietf:params:oauth:grant-type:uma-ticket)
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}
	creds, err := h.clientCredentials(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	form := r.PostForm
	req := &server.TokenRequest{
		GrantType:        form.Get("grant_type"),
		Credentials:      *creds,
		Code:             form.Get("code"),
		RedirectURI:      form.Get("redirect_uri"),
		CodeVerifier:     form.Get("code_verifier"),
		Scope:            form.Get("scope"),
		Username:         form.Get("username"),
		Password:         form.Get("password"),
		RefreshToken:     form.Get("refresh_token"),
		Ticket:           form.Get("ticket"),
		ClaimToken:       form.Get("claim_token"),
		ClaimTokenFormat: form.Get("claim_token_format"),
	}

	issued, err := h.server.Token(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// RFC 6749 section 5.1
	w.Header().Set("Pragma", "no-cache")
	h.writeJSON(w, http.StatusOK, issued)
}

// ServeIntrospection handles RFC 7662 token introspection.
// The caller must authenticate as a registered client.
func (h *Handler) ServeIntrospection(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}
	creds, err := h.clientCredentials(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.server.Introspect(r.Context(), creds, r.PostForm.Get("token"), r.PostForm.Get("token_type_hint"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// ServeRevocation handles RFC 7009 token revocation
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}
	creds, err := h.clientCredentials(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.server.Revoke(r.Context(), creds, r.PostForm.Get("token"), r.PostForm.Get("token_type_hint")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
