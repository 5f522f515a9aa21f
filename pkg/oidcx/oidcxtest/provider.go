// Package oidcxtest runs a small in-process identity provider for tests of
// code built on oidcx. It speaks discovery, JWKS, the authorization code
// grant with PKCE, the refresh grant with rotation, userinfo and
// end-session, and it can be told to misbehave.
package oidcxtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
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
	ClientID    = "litcal-web"
	RedirectURI = "https://litcal.test/auth/callback"
	RoleClaim   = oidcx.DefaultRoleClaim
	Subject     = "idp|user-1"
	Email       = "user@litcal.test"
	Name        = "Test User"

	keyID = "test-key-1"
)

// Config shapes the tokens the provider hands out.
type Config struct {
	// AccessSecret makes access tokens HS256 JWTs signed with this secret,
	// the shape the request gate verifies. Without it they are opaque.
	AccessSecret []byte
	AccessTTL    time.Duration

	Roles       []string
	Permissions []string
}

type grant struct {
	challenge string
	nonce     string
}

type failure struct {
	status      int
	code        string
	description string
}

// Provider is the fake identity provider.
type Provider struct {
	t   testing.TB
	cfg Config
	srv *httptest.Server
	key *ecdsa.PrivateKey

	tokenRequests atomic.Int32

	mu           sync.Mutex
	codes        map[string]grant
	refresh      map[string]bool
	access       map[string]bool
	fail         *failure
	noEndSession bool
}

// New starts a provider that is shut down with the test.
func New(t testing.TB, cfg Config) *Provider {
	t.Helper()

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	p := &Provider{
		t:       t,
		cfg:     cfg,
		key:     key,
		codes:   make(map[string]grant),
		refresh: make(map[string]bool),
		access:  make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /jwks", p.handleJWKS)
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("GET /userinfo", p.handleUserInfo)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *Provider) Issuer() string { return p.srv.URL }

// Client is an HTTP client that reaches the provider.
func (p *Provider) Client() *http.Client { return p.srv.Client() }

// EngineConfig is an oidcx.Config pointing at this provider.
func (p *Provider) EngineConfig() oidcx.Config {
	return oidcx.Config{
		Issuer:      p.Issuer(),
		ClientID:    ClientID,
		RedirectURL: RedirectURI,
		RoleClaim:   RoleClaim,
		HTTPClient:  p.Client(),
	}
}

// Close stops the provider early, to simulate an outage.
func (p *Provider) Close() { p.srv.Close() }

// TokenRequests counts calls to the token endpoint.
func (p *Provider) TokenRequests() int { return int(p.tokenRequests.Load()) }

// RejectTokens makes every following token request fail with an OAuth
// error response. A zero status restores normal behaviour.
func (p *Provider) RejectTokens(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == 0 {
		p.fail = nil
		return
	}
	p.fail = &failure{status: status, code: code, description: description}
}

// DisableEndSession drops end_session_endpoint from discovery. Discovery is
// cached by clients, so call it before first use.
func (p *Provider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noEndSession = true
}

// Authorize plays the user approving the request at the authorization
// endpoint and returns what the provider would put on the callback.
func (p *Provider) Authorize(t testing.TB, authURL string) (code, state string) {
	t.Helper()

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, ClientID, q.Get("client_id"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))

	code = "code-" + cryptox.MustGenerateToken(cryptox.TokenSize128)

	p.mu.Lock()
	p.codes[code] = grant{challenge: q.Get("code_challenge"), nonce: q.Get("nonce")}
	p.mu.Unlock()

	return code, q.Get("state")
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := oidcx.Document{
		Issuer:                p.Issuer(),
		AuthorizationEndpoint: p.Issuer() + "/authorize",
		TokenEndpoint:         p.Issuer() + "/token",
		UserInfoEndpoint:      p.Issuer() + "/userinfo",
		JWKSURI:               p.Issuer() + "/jwks",
		IDTokenSigningAlgs:    []string{"ES256"},
		CodeChallengeMethods:  []string{"S256"},
	}

	p.mu.Lock()
	if !p.noEndSession {
		doc.EndSessionEndpoint = p.Issuer() + "/logout"
	}
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, doc)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	key, err := jwk.Import(&p.key.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = key.Set(jwk.KeyIDKey, keyID)
	_ = key.Set(jwk.AlgorithmKey, "ES256")
	_ = key.Set(jwk.KeyUsageKey, "sig")

	set := jwk.NewSet()
	_ = set.AddKey(key)
	writeJSON(w, http.StatusOK, set)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.tokenRequests.Add(1)

	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}
	form := r.PostForm
	if form.Get("client_id") != ClientID {
		oauthError(w, http.StatusUnauthorized, "invalid_client", "")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail != nil {
		oauthError(w, p.fail.status, p.fail.code, p.fail.description)
		return
	}

	var nonce string
	switch form.Get("grant_type") {
	case "authorization_code":
		g, ok := p.codes[form.Get("code")]
		delete(p.codes, form.Get("code"))
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Authorization code is invalid or was already used")
			return
		}
		if form.Get("redirect_uri") != RedirectURI {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		}
		if cryptox.S256Challenge(form.Get("code_verifier")) != g.challenge {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
		nonce = g.nonce

	case "refresh_token":
		rt := form.Get("refresh_token")
		if !p.refresh[rt] {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Unknown or expired refresh token")
			return
		}
		// Rotation: the presented token is spent.
		delete(p.refresh, rt)

	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	access := p.accessTokenLocked()
	refresh := "rt-" + cryptox.MustGenerateToken(cryptox.TokenSize128)
	p.access[access] = true
	p.refresh[refresh] = true

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"id_token":      p.idTokenLocked(nonce),
		"token_type":    "Bearer",
		"expires_in":    int(p.cfg.AccessTTL.Seconds()),
	})
}

// accessTokenLocked must be called with p.mu held.
func (p *Provider) accessTokenLocked() string {
	if len(p.cfg.AccessSecret) == 0 {
		return "at-" + cryptox.MustGenerateToken(cryptox.TokenSize128)
	}

	signer, err := jwtx.NewHMACSigner("HS256", p.cfg.AccessSecret)
	require.NoError(p.t, err)
	tok, err := signer.Sign(jwtx.NewAccessClaims(
		Subject, p.cfg.Roles, p.cfg.Permissions, p.cfg.AccessTTL, "", nil, time.Now(),
	))
	require.NoError(p.t, err)
	return tok
}

// idTokenLocked must be called with p.mu held.
func (p *Provider) idTokenLocked(nonce string) string {
	now := time.Now()

	grants := make(map[string]any, len(p.cfg.Roles))
	for _, role := range p.cfg.Roles {
		grants[role] = true
	}

	claims := jwt.MapClaims{
		"iss":     p.Issuer(),
		"sub":     Subject,
		"aud":     ClientID,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
		"name":    Name,
		"email":   Email,
		RoleClaim: grants,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = keyID
	s, err := tok.SignedString(p.key)
	require.NoError(p.t, err)
	return s
}

func (p *Provider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")

	p.mu.Lock()
	ok := len(auth) > len(prefix) && p.access[auth[len(prefix):]]
	p.mu.Unlock()

	if !ok {
		oauthError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	grants := make(map[string]any, len(p.cfg.Roles))
	for _, role := range p.cfg.Roles {
		grants[role] = true
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":            Subject,
		"email":          Email,
		"email_verified": true,
		"name":           Name,
		RoleClaim:        grants,
	})
}

func oauthError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
