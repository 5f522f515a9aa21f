package http

import (
	"net/http"

	"github.com/aussiebroadwan/litcal/internal/web/service"
	"github.com/aussiebroadwan/litcal/pkg/authsdk"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
)

type LogoutHandler struct {
	LoginService *service.LoginService
	Cookies      httpx.CookiePolicy
}

// logout clears the session here and returns the provider logout URL, if
// there is one.
func (h *LogoutHandler) logout(w http.ResponseWriter, r *http.Request) string {
	idTokenHint := cookieValue(r, IDCookie)
	clearSessionCookies(w, h.Cookies)
	return h.LoginService.Logout(r.Context(), idTokenHint)
}

// HandlePost logs out a script or SDK caller.
//
//	@Summary		Logout
//	@Description	Clears the session cookies and returns the identity provider logout URL. The URL
//	@Description	is empty when the provider has no end-session endpoint. Never fails.
//	@Tags			Auth
//	@Produce		json
//	@Success		200	{object}	authsdk.LogoutResponse	"Provider logout URL"
//	@Router			/auth/logout [post].
func (h *LogoutHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	logoutURL := h.logout(w, r)
	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutResponse{LogoutURL: logoutURL})
}

// HandleGet logs out a browser.
//
//	@Summary		Logout (browser)
//	@Description	Clears the session cookies and redirects to the identity provider logout URL, or
//	@Description	to "/" when the provider has none.
//	@Tags			Auth
//	@Success		302	"Redirect to the provider logout URL or /"
//	@Router			/auth/logout [get].
func (h *LogoutHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	target := h.logout(w, r)
	if target == "" {
		target = "/"
	}
	httpx.NoCache(w)
	http.Redirect(w, r, target, http.StatusFound)
}
