package http

import (
	"net/http"

	"github.com/aussiebroadwan/litcal/internal/web/service"
	"github.com/aussiebroadwan/litcal/pkg/authsdk"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
	"github.com/aussiebroadwan/litcal/pkg/slogx"
)

type LoginHandler struct {
	LoginService *service.LoginService
	Cookies      httpx.CookiePolicy
}

// ServeHTTP starts a login.
//
//	@Summary		Start login
//	@Description	Redirects the browser to the identity provider. A litcal_login cookie ties the
//	@Description	attempt to this browser; return_to must be a local path or it is replaced with "/".
//	@Tags			Auth
//	@Param			return_to	query	string	false	"Local path to land on after login"
//	@Param			prompt		query	string	false	"Provider prompt, e.g. login or consent"
//	@Success		302			"Redirect to the identity provider"
//	@Failure		502			{object}	authsdk.ErrorResponse	"Provider metadata unusable"
//	@Failure		503			{object}	authsdk.ErrorResponse	"Provider unreachable"
//	@Router			/auth/login [get].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	sid := loginSessionID(w, r, h.Cookies, h.LoginService.Engine.PendingTTL())

	authURL, err := h.LoginService.BeginLogin(ctx, sid, q.Get("return_to"), q.Get("prompt"))
	if err != nil {
		authsdk.NewAPIError(callbackStatus(err), "login_failed", oidcx.Kind(err), oidcx.UserMessage(err)).WriteError(w)
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, authURL, http.StatusFound)
}

type CallbackHandler struct {
	LoginService *service.LoginService
	Cookies      httpx.CookiePolicy
}

// ServeHTTP completes a login.
//
//	@Summary		Login callback
//	@Description	Redeems the authorization code, sets the session cookies and redirects to the
//	@Description	return_to path given at login. Every attempt is single use.
//	@Tags			Auth
//	@Param			code				query	string	false	"Authorization code"
//	@Param			state				query	string	true	"State echoed by the provider"
//	@Param			error				query	string	false	"OAuth error from the provider"
//	@Param			error_description	query	string	false	"OAuth error description"
//	@Success		302					"Redirect to return_to"
//	@Failure		400					{object}	authsdk.ErrorResponse	"StateMismatch, MissingVerifier or the provider declined"
//	@Failure		502					{object}	authsdk.ErrorResponse	"Provider rejected the code or sent an invalid ID token"
//	@Failure		503					{object}	authsdk.ErrorResponse	"Provider unreachable"
//	@Router			/auth/callback [get].
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	// The attempt is finished whatever happens next.
	h.Cookies.Clear(w, LoginCookie, authPath)

	sid := cookieValue(r, LoginCookie)
	if sid == "" {
		slogx.FromContext(ctx).WarnContext(ctx, "callback without a login cookie")
		writeCallbackError(w, oidcx.ErrMissingVerifier)
		return
	}

	if code := q.Get("error"); code != "" {
		writeCallbackError(w, h.LoginService.ProviderDenied(ctx, sid, q.Get("state"), code, q.Get("error_description")))
		return
	}

	tokens, returnTo, err := h.LoginService.CompleteLogin(ctx, sid, q.Get("code"), q.Get("state"))
	if err != nil {
		writeCallbackError(w, err)
		return
	}

	setSessionCookies(w, h.Cookies, tokens)
	httpx.NoCache(w)
	http.Redirect(w, r, returnTo, http.StatusFound)
}
