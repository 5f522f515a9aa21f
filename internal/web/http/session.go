package http

import (
	"net/http"

	"github.com/aussiebroadwan/litcal/pkg/authsdk"
	"github.com/aussiebroadwan/litcal/pkg/gate"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
)

type SessionHandler struct{}

// HandleSession reports what the request gate made of the caller.
//
//	@Summary		Current session
//	@Description	Returns the verified identity carried by the access token. Anonymous callers get
//	@Description	authenticated=false rather than an error.
//	@Tags			Session
//	@Security		CookieAuth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.SessionResponse	"Gate result"
//	@Router			/v1/session [get].
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	g := gate.FromContext(r.Context())

	resp := authsdk.SessionResponse{
		Authenticated: g.IsAuthenticated(),
		Subject:       g.Subject(),
		Roles:         g.Roles(),
		Permissions:   g.Permissions(),
	}
	if exp := g.Expiry(); !exp.IsZero() {
		resp.ExpiresAt = &exp
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleCheck answers a single role and permission question.
//
//	@Summary		Check a role or permission
//	@Description	Reports whether the caller holds the given role and the given permission. An
//	@Description	omitted parameter, or an anonymous caller, reports false.
//	@Tags			Session
//	@Security		CookieAuth
//	@Security		BearerAuth
//	@Produce		json
//	@Param			role		query		string	false	"Role name"
//	@Param			permission	query		string	false	"Permission name"
//	@Success		200			{object}	authsdk.SessionCheckResponse	"Membership"
//	@Router			/v1/session/check [get].
func (h *SessionHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	g := gate.FromContext(r.Context())
	q := r.URL.Query()

	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionCheckResponse{
		Role:       q.Get("role") != "" && g.HasRole(q.Get("role")),
		Permission: q.Get("permission") != "" && g.HasPermission(q.Get("permission")),
	})
}
