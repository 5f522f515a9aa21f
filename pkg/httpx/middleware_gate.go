package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/litcal/pkg/gate"
	"github.com/aussiebroadwan/litcal/pkg/slogx"
)

// GateMiddleware evaluates the access token cookie once per request and puts
// the resulting gate.Gate on the request context. It never rejects a request
// on its own; guards further down decide what anonymous callers may see.
func GateMiddleware(p *gate.Policy) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := p.Evaluate(r)

			ctx := gate.WithContext(r.Context(), g)
			if g.IsAuthenticated() {
				ctx = slogx.WithSubject(ctx, g.Subject())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
