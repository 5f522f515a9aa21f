package httpx

import (
	"net/http"
	"time"
)

// CookiePolicy sets the attributes every cookie this service writes must
// carry. Env is the deployment environment: "prod" gets SameSite=Strict,
// anything else Lax, and only "dev" may go without Secure.
type CookiePolicy struct {
	Env    string
	Domain string
}

func (p CookiePolicy) sameSite() http.SameSite {
	if p.Env == "prod" {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

// Cookie builds a cookie that expires at expires. A zero expires makes a
// session cookie.
func (p CookiePolicy) Cookie(name, value, path string, expires time.Time) *http.Cookie {
	if path == "" {
		path = "/"
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   p.Domain,
		HttpOnly: true,
		Secure:   p.Env != "dev",
		SameSite: p.sameSite(),
	}
	if !expires.IsZero() {
		c.Expires = expires.UTC()
		c.MaxAge = max(int(time.Until(expires).Seconds()), 1)
	}
	return c
}

// Set writes the cookie to w.
func (p CookiePolicy) Set(w http.ResponseWriter, name, value, path string, expires time.Time) {
	http.SetCookie(w, p.Cookie(name, value, path, expires))
}

// Clear expires the cookie. Path must match the one it was set with.
func (p CookiePolicy) Clear(w http.ResponseWriter, name, path string) {
	c := p.Cookie(name, "", path, time.Time{})
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}
