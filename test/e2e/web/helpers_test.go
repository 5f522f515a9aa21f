package web_test

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/app"
	"github.com/aussiebroadwan/litcal/pkg/oidcx/oidcxtest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Shared setup for the web service end-to-end tests: a real Redis in a
 * container, a fake identity provider and the full application handler.
 */

const (
	redisImage  = "redis:7-alpine"
	tokenSecret = "0123456789abcdef0123456789abcdef"
)

// setupRedisContainer starts Redis and returns its host:port.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("end-to-end tests need docker")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)
	return endpoint
}

// service is a running web service backed by Redis.
type service struct {
	provider *oidcxtest.Provider
	srv      *httptest.Server
	browser  *http.Client
}

func setupService(t *testing.T, redisAddr string) *service {
	t.Helper()

	p := oidcxtest.New(t, oidcxtest.Config{
		AccessSecret: []byte(tokenSecret),
		Roles:        []string{"editor"},
		Permissions:  []string{"calendar:read"},
	})

	a, err := app.New(app.Config{
		Issuer:               p.Issuer(),
		ClientID:             oidcxtest.ClientID,
		RedirectURI:          oidcxtest.RedirectURI,
		RoleClaim:            oidcxtest.RoleClaim,
		PendingTTL:           10 * time.Minute,
		TokenSecret:          tokenSecret,
		TokenAlgorithm:       "HS256",
		StoreDriver:          app.StoreRedis,
		RedisAddr:            redisAddr,
		Env:                  "dev",
		LogLevel:             "error",
		LogFormat:            "json",
		ShutdownGracePeriod:  time.Second,
		HousekeepingInterval: time.Hour,
	}, app.WithHTTPClient(p.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Shutdown()) })

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &service{
		provider: p,
		srv:      srv,
		browser: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (s *service) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, s.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := s.browser.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// cookie reads a cookie the browser would send to path.
func (s *service) cookie(t *testing.T, path, name string) string {
	t.Helper()
	u, err := url.Parse(s.srv.URL + path)
	require.NoError(t, err)
	for _, c := range s.browser.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// signIn walks the browser through login, the provider and the callback.
func (s *service) signIn(t *testing.T) {
	t.Helper()

	resp := s.get(t, "/auth/login?return_to=/calendar")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	code, state := s.provider.Authorize(t, resp.Header.Get("Location"))

	resp = s.get(t, "/auth/callback?"+url.Values{"code": {code}, "state": {state}}.Encode())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/calendar", resp.Header.Get("Location"))
}
