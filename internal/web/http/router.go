package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/metrics"
	"github.com/aussiebroadwan/litcal/internal/web/service"
	"github.com/aussiebroadwan/litcal/internal/web/store"
	"github.com/aussiebroadwan/litcal/pkg/gate"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
	"github.com/aussiebroadwan/litcal/pkg/slogx"

	_ "github.com/aussiebroadwan/litcal/api/web" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store   store.Store
	policy  *gate.Policy
	cookies httpx.CookiePolicy
	metrics metrics.Recorder

	LoginService *service.LoginService

	// MetricsHandler serves /metrics. Nil leaves the route out.
	MetricsHandler http.Handler
}

func NewRouter(
	login *service.LoginService,
	policy *gate.Policy,
	cookies httpx.CookiePolicy,
	st store.Store,
	rec metrics.Recorder,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	if rec == nil {
		rec = metrics.NewNoopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		policy:       policy,
		cookies:      cookies,
		metrics:      rec,
		LoginService: login,
	}

	// Outermost first. The metrics middleware must be last so it sees the
	// pattern the mux matched.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.GateMiddleware(r.policy),
		metrics.HTTPMiddleware(r.metrics),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSession()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			litcal web auth API
//	@version		0.1.0
//	@description	Sign-in for the liturgical calendar front end. Login runs the OpenID Connect
//	@description	authorization code flow with PKCE against an external identity provider.
//	@description
//	@description				Access tokens travel in the litcal_access cookie, or as a Bearer token for non-browser clients.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/litcal
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Access token. Format: "Bearer {token}".
//
//	@securityDefinitions.apikey	CookieAuth
//	@in							cookie
//	@name						litcal_access
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	login := &LoginHandler{LoginService: r.LoginService, Cookies: r.cookies}
	callback := &CallbackHandler{LoginService: r.LoginService, Cookies: r.cookies}

	// GET /auth/login - strict rate limit by IP (each hit starts a provider round trip)
	r.Mux.Handle("GET /auth/login",
		httpx.Chain(login,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// GET /auth/callback - strict rate limit by IP + login cookie so one
	// browser can't lock out everyone behind the same NAT
	r.Mux.Handle("GET /auth/callback",
		httpx.Chain(callback,
			httpx.RateLimitByIPAndCookie(httpx.StrictLimit, LoginCookie),
		),
	)

	// POST /auth/refresh - moderate rate limit by IP
	refresh := &RefreshHandler{LoginService: r.LoginService, Cookies: r.cookies}
	r.Mux.Handle("POST /auth/refresh",
		httpx.Chain(refresh,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// Logout works for anyone; there is nothing to protect in clearing
	// cookies.
	logout := &LogoutHandler{LoginService: r.LoginService, Cookies: r.cookies}
	r.Mux.Handle("POST /auth/logout",
		httpx.Chain(http.HandlerFunc(logout.HandlePost),
			httpx.RateLimitBySubject(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("GET /auth/logout",
		httpx.Chain(http.HandlerFunc(logout.HandleGet),
			httpx.RateLimitBySubject(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSession() {
	h := &SessionHandler{}

	// Session probes are polled by the UI - lenient rate limit
	r.Mux.Handle("GET /v1/session",
		httpx.Chain(http.HandlerFunc(h.HandleSession),
			httpx.RateLimitBySubject(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /v1/session/check",
		httpx.Chain(http.HandlerFunc(h.HandleCheck),
			httpx.RateLimitBySubject(httpx.LenientLimit),
		),
	)

	// GET /v1/userinfo - authenticated, moderate rate limit (calls the provider)
	userinfo := &UserInfoHandler{LoginService: r.LoginService, CookieName: r.policy.CookieName()}
	r.Mux.Handle("GET /v1/userinfo",
		httpx.Chain(userinfo,
			httpx.RequireAuthenticated(),
			httpx.RateLimitBySubject(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.LoginService, r.policy),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	if r.MetricsHandler != nil {
		r.Mux.Handle("GET /metrics", r.MetricsHandler)
	}
}
