package httpx

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/litcal/pkg/gate"
)

// ErrorBody is the JSON error shape every handler in the service uses.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`

	// LoginURL is set when retrying cannot help and the user has to start
	// a new login.
	LoginURL string `json:"login_url,omitempty"`
}

// RequireAuthenticated rejects anonymous callers with 401.
func RequireAuthenticated() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gate.FromContext(r.Context()).IsAuthenticated() {
				writeUnauthenticated(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole the caller must hold at least one of the listed roles.
func RequireRole(roles ...string) Middleware {
	return guard(func(g gate.Gate) bool {
		for _, role := range roles {
			if g.HasRole(role) {
				return true
			}
		}
		return false
	}, "role", roles)
}

// RequirePermission the caller must hold every listed permission.
func RequirePermission(perms ...string) Middleware {
	return guard(func(g gate.Gate) bool {
		for _, p := range perms {
			if !g.HasPermission(p) {
				return false
			}
		}
		return true
	}, "permission", perms)
}

func guard(ok func(gate.Gate) bool, what string, names []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := gate.FromContext(r.Context())

			// 1. Anonymous callers get a 401 so the UI offers a login.
			if !g.IsAuthenticated() {
				writeUnauthenticated(w)
				return
			}

			// 2. Signed in but missing the grant.
			if !ok(g) {
				WriteJSON(w, http.StatusForbidden, ErrorBody{
					Error:   "forbidden",
					Message: "missing " + what + ": " + strings.Join(names, ", "),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter) {
	WriteJSON(w, http.StatusUnauthorized, ErrorBody{
		Error:   "unauthenticated",
		Message: "Please sign in to continue.",
	})
}
