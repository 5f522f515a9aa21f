package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/gate"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
	"github.com/aussiebroadwan/litcal/pkg/idx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
)

// Cookie names. The refresh and ID token cookies are scoped to /auth so
// they only travel to the handlers that need them.
const (
	LoginCookie   = "litcal_login"
	AccessCookie  = gate.DefaultCookieName
	RefreshCookie = "litcal_refresh"
	IDCookie      = "litcal_id"

	authPath = "/auth"
)

// loginSessionID returns the browser's login session id, minting and
// setting one when the cookie is missing, malformed or older than ttl. The
// id is a ULID, so its age is read from the id itself.
func loginSessionID(w http.ResponseWriter, r *http.Request, cookies httpx.CookiePolicy, ttl time.Duration) string {
	if c, err := r.Cookie(LoginCookie); err == nil {
		if id, err := idx.Parse(c.Value); err == nil && !id.OlderThan(ttl, time.Now()) {
			return id.String()
		}
	}

	id := idx.New().String()
	cookies.Set(w, LoginCookie, id, authPath, time.Now().Add(ttl))
	return id
}

// setSessionCookies writes the tokens from a login or refresh.
func setSessionCookies(w http.ResponseWriter, cookies httpx.CookiePolicy, tokens *oidcx.TokenSet) {
	cookies.Set(w, AccessCookie, tokens.AccessToken, "/", tokens.Expiry)
	if tokens.RefreshToken != "" {
		cookies.Set(w, RefreshCookie, tokens.RefreshToken, authPath, time.Time{})
	}
	if tokens.IDToken != "" {
		cookies.Set(w, IDCookie, tokens.IDToken, authPath, time.Time{})
	}
}

func clearSessionCookies(w http.ResponseWriter, cookies httpx.CookiePolicy) {
	cookies.Clear(w, AccessCookie, "/")
	cookies.Clear(w, RefreshCookie, authPath)
	cookies.Clear(w, IDCookie, authPath)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
