package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/service"
	"github.com/aussiebroadwan/litcal/pkg/authsdk"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
)

const maxRefreshBody = 4 << 10

type RefreshHandler struct {
	LoginService *service.LoginService
	Cookies      httpx.CookiePolicy
}

// ServeHTTP runs the refresh grant.
//
//	@Summary		Refresh tokens
//	@Description	Exchanges a refresh token for a new access token. The token comes from the JSON
//	@Description	body or, for browsers, the litcal_refresh cookie. Any failure ends the session.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RefreshRequest	false	"Refresh token, when not sent as a cookie"
//	@Success		200		{object}	authsdk.TokenResponse	"New tokens"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Refresh failed; sign in again"
//	@Router			/auth/refresh [post].
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tokens, err := h.LoginService.Refresh(ctx, refreshTokenFrom(w, r))
	if err != nil {
		clearSessionCookies(w, h.Cookies)
		writeRefreshError(w, err)
		return
	}

	setSessionCookies(w, h.Cookies, tokens)
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		TokenType:    tokenType(tokens.TokenType),
		ExpiresIn:    int(tokens.ExpiresIn(time.Now()).Seconds()),
	})
}

// refreshTokenFrom prefers a JSON body over the cookie: a client that sends
// one knows which token it means.
func refreshTokenFrom(w http.ResponseWriter, r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req authsdk.RefreshRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRefreshBody)).Decode(&req); err == nil && req.RefreshToken != "" {
			return req.RefreshToken
		}
	}
	return cookieValue(r, RefreshCookie)
}

func tokenType(t string) string {
	if t == "" || strings.EqualFold(t, "bearer") {
		return "Bearer"
	}
	return t
}
