package oauth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/giantswarm/uma-oauth/server"
)

// The protection API is called by resource servers with a PAT: an access
// token carrying the protection scope (uma_protection by default).

// ==================== Permission endpoint ====================

// ServePermission registers one permission request and returns its ticket
func (h *Handler) ServePermission(w http.ResponseWriter, r *http.Request) {
	var req server.PermissionRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	ticket, err := h.server.CreatePermission(r.Context(), bearerToken(r), req)
	if err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, PermissionResponse{Ticket: ticket})
}

// ServeBulkPermission registers a list of permission requests, all or
// nothing, and returns one ticket per request in order
func (h *Handler) ServeBulkPermission(w http.ResponseWriter, r *http.Request) {
	var reqs []server.PermissionRequest
	if err := h.decodeJSON(w, r, &reqs); err != nil {
		h.writeError(w, r, err)
		return
	}

	tickets, err := h.server.CreatePermissions(r.Context(), bearerToken(r), reqs)
	if err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, BulkPermissionResponse{Tickets: tickets})
}

// ==================== Resource set registration ====================

// ServeCreateResourceSet registers a resource set owned by the PAT's owner
func (h *Handler) ServeCreateResourceSet(w http.ResponseWriter, r *http.Request) {
	var req server.ResourceSetRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rs, err := h.server.CreateResourceSet(r.Context(), bearerToken(r), req)
	if err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	w.Header().Set("Location", h.endpoint(PathResourceSet+"/"+rs.ID))
	h.writeJSON(w, http.StatusCreated, h.resourceSetResponse(rs.ID))
}

// ServeListResourceSets lists the ids of the owner's resource sets
func (h *Handler) ServeListResourceSets(w http.ResponseWriter, r *http.Request) {
	ids, err := h.server.ListResourceSets(r.Context(), bearerToken(r))
	if err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, http.StatusOK, ids)
}

// ServeGetResourceSet describes one resource set
func (h *Handler) ServeGetResourceSet(w http.ResponseWriter, r *http.Request) {
	rs, err := h.server.GetResourceSet(r.Context(), bearerToken(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newResourceSetDescription(rs))
}

// ServeUpdateResourceSet replaces the description of a resource set
func (h *Handler) ServeUpdateResourceSet(w http.ResponseWriter, r *http.Request) {
	var req server.ResourceSetRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rs, err := h.server.UpdateResourceSet(r.Context(), bearerToken(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.resourceSetResponse(rs.ID))
}

// ServeDeleteResourceSet deletes a resource set
func (h *Handler) ServeDeleteResourceSet(w http.ResponseWriter, r *http.Request) {
	if err := h.server.DeleteResourceSet(r.Context(), bearerToken(r), chi.URLParam(r, "id")); err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resourceSetResponse(id string) ResourceSetResponse {
	return ResourceSetResponse{
		ID:                  id,
		UserAccessPolicyURI: h.endpoint(PathResourceSet + "/" + id + "/policy"),
	}
}

// ==================== Policies ====================

// ServeGetPolicies lists the policies attached to a resource set
func (h *Handler) ServeGetPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.server.GetPolicies(r.Context(), bearerToken(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	out := make([]PolicyResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, newPolicyResponse(p))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ServePutPolicy replaces the rules of the resource set's own policy
func (h *Handler) ServePutPolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	policy, err := h.server.PutPolicy(r.Context(), bearerToken(r), chi.URLParam(r, "id"), req.Rules)
	if err != nil {
		h.writeBearerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newPolicyResponse(policy))
}
