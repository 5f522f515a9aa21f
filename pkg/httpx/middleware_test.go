package httpx_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/gate"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func accessToken(t *testing.T, roles, perms []string) string {
	t.Helper()
	s, err := jwtx.NewHMACSigner("HS256", testSecret)
	require.NoError(t, err)
	tok, err := s.Sign(jwtx.NewAccessClaims("user-1", roles, perms, time.Hour, "", nil, time.Now()))
	require.NoError(t, err)
	return tok
}

func testPolicy() *gate.Policy {
	return gate.NewPolicy(gate.Config{Secret: testSecret, Algorithm: "HS256"})
}

func authenticated(t *testing.T, ctx context.Context, roles, perms []string) context.Context {
	t.Helper()
	g := testPolicy().FromToken(ctx, accessToken(t, roles, perms))
	require.True(t, g.IsAuthenticated())
	return gate.WithContext(ctx, g)
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), mw("inner"))

	serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestGateMiddleware(t *testing.T) {
	t.Parallel()

	var seen gate.Gate
	h := httpx.GateMiddleware(testPolicy())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = gate.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous passes through", func(t *testing.T) {
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.False(t, seen.IsAuthenticated())
	})

	t.Run("cookie is evaluated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: gate.DefaultCookieName, Value: accessToken(t, []string{"editor"}, nil)})

		rec := serve(h, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.True(t, seen.IsAuthenticated())
		require.Equal(t, []string{"editor"}, seen.Roles())
	})

	t.Run("bad cookie is anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: gate.DefaultCookieName, Value: "garbage"})

		rec := serve(h, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.False(t, seen.IsAuthenticated())
	})
}

func TestGuards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		guard httpx.Middleware
		ctx   func(t *testing.T) context.Context
		want  int
	}{
		{
			name:  "authenticated: anonymous",
			guard: httpx.RequireAuthenticated(),
			ctx:   func(*testing.T) context.Context { return context.Background() },
			want:  http.StatusUnauthorized,
		},
		{
			name:  "authenticated: signed in",
			guard: httpx.RequireAuthenticated(),
			ctx:   func(t *testing.T) context.Context { return authenticated(t, context.Background(), nil, nil) },
			want:  http.StatusOK,
		},
		{
			name:  "role: anonymous",
			guard: httpx.RequireRole("editor"),
			ctx:   func(*testing.T) context.Context { return context.Background() },
			want:  http.StatusUnauthorized,
		},
		{
			name:  "role: any of",
			guard: httpx.RequireRole("admin", "editor"),
			ctx: func(t *testing.T) context.Context {
				return authenticated(t, context.Background(), []string{"editor"}, nil)
			},
			want: http.StatusOK,
		},
		{
			name:  "role: missing",
			guard: httpx.RequireRole("admin"),
			ctx: func(t *testing.T) context.Context {
				return authenticated(t, context.Background(), []string{"editor"}, nil)
			},
			want: http.StatusForbidden,
		},
		{
			name:  "permission: all of",
			guard: httpx.RequirePermission("calendar:read", "calendar:write"),
			ctx: func(t *testing.T) context.Context {
				return authenticated(t, context.Background(), nil, []string{"calendar:read", "calendar:write"})
			},
			want: http.StatusOK,
		},
		{
			name:  "permission: one missing",
			guard: httpx.RequirePermission("calendar:read", "calendar:write"),
			ctx: func(t *testing.T) context.Context {
				return authenticated(t, context.Background(), nil, []string{"calendar:read"})
			},
			want: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tt.ctx(t))
			rec := serve(tt.guard(okHandler), req)
			require.Equal(t, tt.want, rec.Code)

			if tt.want != http.StatusOK {
				var body httpx.ErrorBody
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				require.NotEmpty(t, body.Error)
				require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestCookiePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env      string
		secure   bool
		sameSite http.SameSite
	}{
		{"prod", true, http.SameSiteStrictMode},
		{"staging", true, http.SameSiteLaxMode},
		{"dev", false, http.SameSiteLaxMode},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			p := httpx.CookiePolicy{Env: tt.env, Domain: "litcal.test"}
			c := p.Cookie("litcal_access", "v", "", time.Now().Add(time.Hour))

			require.True(t, c.HttpOnly)
			require.Equal(t, tt.secure, c.Secure)
			require.Equal(t, tt.sameSite, c.SameSite)
			require.Equal(t, "/", c.Path)
			require.Equal(t, "litcal.test", c.Domain)
			require.InDelta(t, 3600, c.MaxAge, 2)
		})
	}

	t.Run("clear", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httpx.CookiePolicy{Env: "prod"}.Clear(rec, "litcal_refresh", "/auth")

		header := rec.Header().Get("Set-Cookie")
		require.True(t, strings.HasPrefix(header, "litcal_refresh=;"))
		require.Contains(t, header, "Path=/auth")
		require.Contains(t, header, "Max-Age=0")
		require.Contains(t, header, "HttpOnly")
		require.Contains(t, header, "Secure")
		require.Contains(t, header, "SameSite=Strict")
	})

	t.Run("session cookie", func(t *testing.T) {
		c := httpx.CookiePolicy{Env: "dev"}.Cookie("litcal_login", "v", "/auth", time.Time{})
		require.Zero(t, c.MaxAge)
		require.True(t, c.Expires.IsZero())
	})
}
