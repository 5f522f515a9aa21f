package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/litcal/internal/web/service"
	"github.com/aussiebroadwan/litcal/pkg/authsdk"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
	"github.com/aussiebroadwan/litcal/pkg/slogx"
)

type UserInfoHandler struct {
	LoginService *service.LoginService
	CookieName   string
}

// ServeHTTP proxies the provider's userinfo endpoint.
//
//	@Summary		Get user information
//	@Description	Returns the identity provider's profile for the signed-in user.
//	@Tags			Session
//	@Security		CookieAuth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.UserInfoResponse	"Profile"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Not signed in, or the provider no longer accepts the token"
//	@Failure		503	{object}	authsdk.ErrorResponse		"Provider unreachable"
//	@Router			/v1/userinfo [get].
func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.LoginService.UserInfo(ctx, h.accessToken(r))
	if err != nil {
		slogx.FromContext(ctx).WarnContext(ctx, "userinfo failed", "error", err, "kind", oidcx.Kind(err))
		status := http.StatusUnauthorized
		if callbackStatus(err) == http.StatusServiceUnavailable {
			status = http.StatusServiceUnavailable
		}
		authsdk.NewAPIError(status, "userinfo_failed", oidcx.Kind(err), oidcx.UserMessage(err)).WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.UserInfoResponse{
		Subject:       info.Subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Picture:       info.Picture,
		Roles:         info.Roles,
	})
}

// accessToken is the token the gate accepted: the cookie, else the Bearer
// header.
func (h *UserInfoHandler) accessToken(r *http.Request) string {
	if v := cookieValue(r, h.CookieName); v != "" {
		return v
	}
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return token
	}
	return ""
}
