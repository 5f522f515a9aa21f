package oidcx_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/cryptox"
	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
)

const (
	testClientID    = "litcal-web"
	testRedirectURI = "https://litcal.test/auth/callback"
	testRoleClaim   = "https://litcal.org/roles"
)

// fakeProvider is just enough of an identity provider to drive the flow:
// discovery, JWKS, token, userinfo and an end-session endpoint.
type fakeProvider struct {
	t   *testing.T
	srv *httptest.Server

	key *rsa.PrivateKey
	kid string

	discoveryHits atomic.Int32
	jwksHits      atomic.Int32
	tokenHits     atomic.Int32

	mu            sync.Mutex
	challenge     string
	nonce         string
	lastForm      url.Values
	tokenStatus   int
	tokenBody     map[string]any
	idTokenClaims func(c *jwtx.Claims)
	rotateRefresh bool
	omitIDToken   bool
	noEndSession  bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &fakeProvider{t: t, key: key, kid: "key-1", rotateRefresh: true}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /jwks", p.handleJWKS)
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("GET /userinfo", p.handleUserInfo)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) issuer() string { return p.srv.URL }

func (p *fakeProvider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	p.discoveryHits.Add(1)

	doc := map[string]any{
		"issuer":                                p.issuer(),
		"authorization_endpoint":                p.issuer() + "/authorize",
		"token_endpoint":                        p.issuer() + "/token",
		"userinfo_endpoint":                     p.issuer() + "/userinfo",
		"jwks_uri":                              p.issuer() + "/jwks",
		"code_challenge_methods_supported":      []string{"S256"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	p.mu.Lock()
	if !p.noEndSession {
		doc["end_session_endpoint"] = p.issuer() + "/logout"
	}
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, doc)
}

func (p *fakeProvider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	p.jwksHits.Add(1)

	p.mu.Lock()
	pub, kid := &p.key.PublicKey, p.kid
	p.mu.Unlock()

	key, err := jwk.Import(pub)
	require.NoError(p.t, err)
	require.NoError(p.t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(p.t, key.Set(jwk.AlgorithmKey, "RS256"))
	require.NoError(p.t, key.Set(jwk.KeyUsageKey, "sig"))

	set := jwk.NewSet()
	require.NoError(p.t, set.AddKey(key))

	body, err := json.Marshal(set)
	require.NoError(p.t, err)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.tokenHits.Add(1)
	require.NoError(p.t, r.ParseForm())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastForm = r.PostForm

	if p.tokenStatus != 0 {
		writeJSON(w, p.tokenStatus, p.tokenBody)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if cryptox.S256Challenge(r.PostForm.Get("code_verifier")) != p.challenge {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "invalid_grant", "error_description": "PKCE verification failed",
			})
			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}

	resp := map[string]any{
		"access_token": "at-" + cryptox.MustGenerateToken(cryptox.TokenSize128),
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if p.rotateRefresh {
		resp["refresh_token"] = "rt-" + cryptox.MustGenerateToken(cryptox.TokenSize128)
	}
	if !p.omitIDToken {
		resp["id_token"] = p.signIDToken()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *fakeProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer good-access-token" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":            "auth0|user-1",
		"email":          "user@litcal.test",
		"email_verified": true,
		"name":           "Test User",
		"picture":        "https://litcal.test/me.png",
		testRoleClaim:    map[string]any{"editor": true, "admin": false},
	})
}

// signIDToken must be called with p.mu held.
func (p *fakeProvider) signIDToken() string {
	now := time.Now()
	c := jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer(),
			Subject:   "auth0|user-1",
			Audience:  []string{testClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Nonce: p.nonce,
		Name:  "Test User",
		Email: "user@litcal.test",
	}
	if p.idTokenClaims != nil {
		p.idTokenClaims(&c)
	}

	// The namespaced role map travels as an extra claim.
	payload, err := json.Marshal(c)
	require.NoError(p.t, err)
	var m jwt.MapClaims
	require.NoError(p.t, json.Unmarshal(payload, &m))
	m[testRoleClaim] = map[string]any{"editor": true, "publisher": map[string]any{"since": "2024"}}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, m)
	tok.Header["kid"] = p.kid
	s, err := tok.SignedString(p.key)
	require.NoError(p.t, err)
	return s
}

// authorize plays the browser at the authorization endpoint: it records
// what the provider would remember and hands back the callback state.
func (p *fakeProvider) authorize(t *testing.T, authURL string) (state string) {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()

	p.mu.Lock()
	p.challenge = q.Get("code_challenge")
	p.nonce = q.Get("nonce")
	p.mu.Unlock()

	return q.Get("state")
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// memoryPending is the smallest PendingStore that honours take-once.
type memoryPending struct {
	mu   sync.Mutex
	reqs map[string]oidcx.AuthRequest
}

func newMemoryPending() *memoryPending {
	return &memoryPending{reqs: make(map[string]oidcx.AuthRequest)}
}

func (m *memoryPending) Save(_ context.Context, sessionID string, req oidcx.AuthRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs[sessionID] = req
	return nil
}

func (m *memoryPending) Take(_ context.Context, sessionID string) (oidcx.AuthRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.reqs[sessionID]
	if !ok {
		return oidcx.AuthRequest{}, oidcx.ErrMissingVerifier
	}
	delete(m.reqs, sessionID)
	return req, nil
}

func newEngine(t *testing.T, p *fakeProvider, mutate ...func(*oidcx.Config)) (*oidcx.Engine, *memoryPending) {
	t.Helper()
	cfg := oidcx.Config{
		Issuer:      p.issuer(),
		ClientID:    testClientID,
		RedirectURL: testRedirectURI,
		RoleClaim:   testRoleClaim,
		HTTPClient:  p.srv.Client(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	pending := newMemoryPending()
	e, err := oidcx.NewEngine(cfg, pending)
	require.NoError(t, err)
	return e, pending
}
