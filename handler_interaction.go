package oauth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/uma-oauth/server"
)

// ServeAuthorize handles the authorization endpoint (RFC 6749 section 3.1,
// OpenID Connect Core section 3). Requests whose client or redirect URI
// cannot be trusted are answered directly; everything else is redirected.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &server.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Prompt:              q.Get("prompt"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	res, err := h.server.Authorize(r.Context(), req, h.loadSession(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch res.Kind {
	case server.ResultLoginRequired:
		h.requireInteraction(w, r, "login", res)
	case server.ResultConsentRequired:
		h.requireInteraction(w, r, "consent", res)
	default:
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	}
}

// loadSession returns the signed-in resource owner, or nil
func (h *Handler) loadSession(r *http.Request) *server.Session {
	if h.sessions == nil {
		return nil
	}
	sess, err := h.sessions.Load(r)
	if err != nil {
		return nil
	}
	return sess
}

// requireInteraction sends the user agent to the configured login or consent
// page, or describes the interaction as JSON when no page is configured.
// The authorization request resumes at return_to.
func (h *Handler) requireInteraction(w http.ResponseWriter, r *http.Request, interaction string, res *server.AuthorizeResult) {
	returnTo := r.URL.RequestURI()
	scope := strings.Join(res.Scopes, " ")

	target := h.config.Interaction.LoginURL
	if interaction == "consent" {
		target = h.config.Interaction.ConsentURL
	}

	if target != "" {
		u, err := url.Parse(target)
		if err == nil {
			params := u.Query()
			params.Set("return_to", returnTo)
			if interaction == "consent" {
				params.Set("client_id", res.Client.ClientID)
				params.Set("scope", scope)
			}
			u.RawQuery = params.Encode()
			http.Redirect(w, r, u.String(), http.StatusFound)
			return
		}
		h.logger.Warn("Invalid interaction URL", "interaction", interaction, "error", err)
	}

	h.writeJSON(w, http.StatusOK, InteractionRequired{
		Interaction: interaction,
		ClientID:    res.Client.ClientID,
		ClientName:  res.Client.ClientName,
		Scope:       scope,
		ReturnTo:    returnTo,
	})
}

// ServeLogin signs a resource owner in and sets the session cookie
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}

	sess, err := h.sessions.Login(r.Context(), w, r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, server.ErrInvalidCredentials) {
			h.writeError(w, r, NewOAuthError(ErrorCodeAccessDenied, "Invalid username or password", http.StatusUnauthorized))
			return
		}
		h.writeError(w, r, err)
		return
	}

	if returnTo := safeReturnTo(r.PostForm.Get("return_to")); returnTo != "" {
		http.Redirect(w, r, returnTo, http.StatusSeeOther)
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{
		Subject:  sess.Subject,
		AuthTime: sess.AuthTime.Unix(),
	})
}

// ServeLogout clears the session cookie
func (h *Handler) ServeLogout(w http.ResponseWriter, _ *http.Request) {
	h.sessions.Logout(w)
	w.WriteHeader(http.StatusNoContent)
}

// ServeConsent records the signed-in owner's consent for client_id and scope
func (h *Handler) ServeConsent(w http.ResponseWriter, r *http.Request) {
	sess := h.requireSession(w, r)
	if sess == nil {
		return
	}
	if err := h.parseForm(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}

	scopes := strings.Fields(r.PostForm.Get("scope"))
	if _, err := h.server.GrantConsent(r.Context(), sess.Subject, r.PostForm.Get("client_id"), scopes); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.finishInteraction(w, r)
}

// ServeTicketAuthorization lets the signed-in owner approve a permission
// ticket that is waiting for them (request_submitted)
func (h *Handler) ServeTicketAuthorization(w http.ResponseWriter, r *http.Request) {
	sess := h.requireSession(w, r)
	if sess == nil {
		return
	}
	if err := h.parseForm(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.server.AuthorizeTicket(r.Context(), sess.Subject, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.finishInteraction(w, r)
}

// requireSession writes login_required and returns nil when nobody is signed in
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) *server.Session {
	sess := h.loadSession(r)
	if sess == nil {
		h.writeError(w, r, NewOAuthError(ErrorCodeLoginRequired, "The resource owner is not signed in", http.StatusUnauthorized))
	}
	return sess
}

func (h *Handler) finishInteraction(w http.ResponseWriter, r *http.Request) {
	if returnTo := safeReturnTo(r.PostForm.Get("return_to")); returnTo != "" {
		http.Redirect(w, r, returnTo, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
