package slogx_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/litcal/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestNewRedactsTokens(t *testing.T) {
	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Service: "litcal-web", Level: "debug", Output: &buf})
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	logger.Info("token refreshed", "refresh_token", "rt-secret", "sub", "user-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "[REDACTED]", line["refresh_token"])
	require.Equal(t, "user-1", line["sub"])
	require.Equal(t, "litcal-web", line["service"])
	require.NotContains(t, buf.String(), "rt-secret")
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen *slog.Logger
	h := slogx.HTTPMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = slogx.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=xyz", nil)
	req.Header.Set(slogx.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	require.Equal(t, "req-42", rec.Header().Get(slogx.RequestIDHeader))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "http_request", line["msg"])
	require.Equal(t, "/auth/callback", line["path"])
	require.EqualValues(t, http.StatusTeapot, line["status"])
	require.NotContains(t, buf.String(), "code=abc")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, slog.Default(), slogx.FromContext(req.Context()))

	ctx := slogx.WithSubject(req.Context(), "")
	require.Equal(t, slog.Default(), slogx.FromContext(ctx))
}
