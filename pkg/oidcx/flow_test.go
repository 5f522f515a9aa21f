package oidcx_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/cryptox"
	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
	"github.com/stretchr/testify/require"
)

func TestBeginLoginBuildsAuthorizationURL(t *testing.T) {
	p := newFakeProvider(t)
	e, _ := newEngine(t, p)

	authURL, err := e.BeginLogin(context.Background(), "session-1", oidcx.LoginOptions{Prompt: "login"})
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, p.issuer()+"/authorize", u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	require.Equal(t, "openid profile email offline_access", q.Get("scope"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "login", q.Get("prompt"))

	// 256 bits of entropy, base64url, no padding.
	require.Len(t, q.Get("state"), 43)
	require.Len(t, q.Get("nonce"), 43)
	require.Len(t, q.Get("code_challenge"), 43)
	require.NotEqual(t, q.Get("state"), q.Get("nonce"))
}

func TestBeginLoginStoresPendingRequest(t *testing.T) {
	p := newFakeProvider(t)
	e, pending := newEngine(t, p)

	authURL, err := e.BeginLogin(context.Background(), "session-1", oidcx.LoginOptions{
		Scopes:   []string{"openid"},
		ReturnTo: "/calendar/edit",
	})
	require.NoError(t, err)

	u, _ := url.Parse(authURL)
	req, err := pending.Take(context.Background(), "session-1")
	require.NoError(t, err)

	require.Equal(t, u.Query().Get("state"), req.State)
	require.Equal(t, u.Query().Get("nonce"), req.Nonce)
	require.Equal(t, u.Query().Get("code_challenge"), req.CodeChallenge)
	require.Equal(t, cryptox.S256Challenge(req.CodeVerifier), req.CodeChallenge)
	require.True(t, cryptox.ValidCodeVerifier(req.CodeVerifier))
	require.Equal(t, "/calendar/edit", req.ReturnTo)
	require.Equal(t, "openid", u.Query().Get("scope"))
}

func TestCompleteLogin(t *testing.T) {
	p := newFakeProvider(t)
	e, _ := newEngine(t, p)
	ctx := context.Background()

	authURL, err := e.BeginLogin(ctx, "session-1", oidcx.LoginOptions{ReturnTo: "/home"})
	require.NoError(t, err)
	state := p.authorize(t, authURL)

	set, req, err := e.CompleteLogin(ctx, "session-1", "auth-code", state)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, "/home", req.ReturnTo)

	require.NotEmpty(t, set.AccessToken)
	require.NotEmpty(t, set.RefreshToken)
	require.NotEmpty(t, set.IDToken)
	require.Equal(t, "Bearer", set.TokenType)
	require.Equal(t, "auth0|user-1", set.Subject)
	require.Equal(t, "Test User", set.Name)
	require.Equal(t, []string{"editor", "publisher"}, set.Roles)
	require.InDelta(t, time.Hour.Seconds(), set.ExpiresIn(time.Now()).Seconds(), 5)

	p.mu.Lock()
	form := p.lastForm
	p.mu.Unlock()
	require.Equal(t, "authorization_code", form.Get("grant_type"))
	require.Equal(t, "auth-code", form.Get("code"))
	require.Equal(t, testClientID, form.Get("client_id"))
	require.Equal(t, testRedirectURI, form.Get("redirect_uri"))
	require.Equal(t, req.CodeVerifier, form.Get("code_verifier"))
}

func TestCompleteLoginWithoutIDToken(t *testing.T) {
	p := newFakeProvider(t)
	p.set(func(p *fakeProvider) { p.omitIDToken = true })
	e, _ := newEngine(t, p)
	ctx := context.Background()

	authURL, err := e.BeginLogin(ctx, "s", oidcx.LoginOptions{})
	require.NoError(t, err)

	set, _, err := e.CompleteLogin(ctx, "s", "code", p.authorize(t, authURL))
	require.NoError(t, err)
	require.Empty(t, set.IDToken)
	require.NotNil(t, set.Roles)
	require.Empty(t, set.Roles)
}

func TestSecondBeginLoginInvalidatesFirst(t *testing.T) {
	p := newFakeProvider(t)
	e, _ := newEngine(t, p)
	ctx := context.Background()

	first, err := e.BeginLogin(ctx, "session-1", oidcx.LoginOptions{})
	require.NoError(t, err)
	firstState := p.authorize(t, first)

	_, err = e.BeginLogin(ctx, "session-1", oidcx.LoginOptions{})
	require.NoError(t, err)

	_, _, err = e.CompleteLogin(ctx, "session-1", "code", firstState)
	require.ErrorIs(t, err, oidcx.ErrStateMismatch)
	require.Equal(t, "StateMismatch", oidcx.Kind(err))
	require.Zero(t, p.tokenHits.Load())
}

func TestCompleteLoginSucceedsAtMostOnce(t *testing.T) {
	p := newFakeProvider(t)
	e, _ := newEngine(t, p)
	ctx := context.Background()

	authURL, err := e.BeginLogin(ctx, "session-1", oidcx.LoginOptions{})
	require.NoError(t, err)
	state := p.authorize(t, authURL)

	_, _, err = e.CompleteLogin(ctx, "session-1", "code", state)
	require.NoError(t, err)

	_, _, err = e.CompleteLogin(ctx, "session-1", "code", state)
	require.ErrorIs(t, err, oidcx.ErrMissingVerifier)
	require.EqualValues(t, 1, p.tokenHits.Load())
}

func TestCompleteLoginDeletesPendingOnFailure(t *testing.T) {
	p := newFakeProvider(t)
	p.set(func(p *fakeProvider) {
		p.tokenStatus = 400
		p.tokenBody = map[string]any{"error": "invalid_grant", "error_description": "Invalid authorization code"}
	})
	e, pending := newEngine(t, p)
	ctx := context.Background()

	authURL, err := e.BeginLogin(ctx, "session-1", oidcx.LoginOptions{})
	require.NoError(t, err)

	_, _, err = e.CompleteLogin(ctx, "session-1", "bad-code", p.authorize(t, authURL))
	require.ErrorIs(t, err, oidcx.ErrProviderRejected)

	var pe *oidcx.ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, 400, pe.StatusCode)
	require.Equal(t, "invalid_grant", pe.Code)
	require.Equal(t, "Invalid authorization code", pe.UserMessage())
	require.Equal(t, "Invalid authorization code", oidcx.UserMessage(err))

	_, err = pending.Take(ctx, "session-1")
	require.ErrorIs(t, err, oidcx.ErrMissingVerifier)
}

func TestCompleteLoginRejectsMalformedVerifier(t *testing.T) {
	p := newFakeProvider(t)
	e, pending := newEngine(t, p)
	ctx := context.Background()

	require.NoError(t, pending.Save(ctx, "session-1", oidcx.AuthRequest{
		CodeVerifier: "too-short",
		State:        "state-1",
		CreatedAt:    time.Now().UTC(),
	}))

	_, _, err := e.CompleteLogin(ctx, "session-1", "code", "state-1")
	require.ErrorIs(t, err, oidcx.ErrMissingVerifier)
	require.True(t, oidcx.IsTerminal(err))
	require.Zero(t, p.tokenHits.Load())
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()

	t.Run("matching state consumes the attempt", func(t *testing.T) {
		p := newFakeProvider(t)
		e, _ := newEngine(t, p)

		authURL, err := e.BeginLogin(ctx, "session-1", oidcx.LoginOptions{})
		require.NoError(t, err)
		state := p.authorize(t, authURL)

		require.NoError(t, e.Abandon(ctx, "session-1", state))

		_, _, err = e.CompleteLogin(ctx, "session-1", "code", state)
		require.ErrorIs(t, err, oidcx.ErrMissingVerifier)
		require.Zero(t, p.tokenHits.Load())
	})

	t.Run("wrong state", func(t *testing.T) {
		p := newFakeProvider(t)
		e, pending := newEngine(t, p)

		_, err := e.BeginLogin(ctx, "session-1", oidcx.LoginOptions{})
		require.NoError(t, err)

		require.ErrorIs(t, e.Abandon(ctx, "session-1", "forged"), oidcx.ErrStateMismatch)

		_, err = pending.Take(ctx, "session-1")
		require.ErrorIs(t, err, oidcx.ErrMissingVerifier)
	})

	t.Run("nothing pending", func(t *testing.T) {
		e, _ := newEngine(t, newFakeProvider(t))
		require.ErrorIs(t, e.Abandon(ctx, "session-1", "s"), oidcx.ErrMissingVerifier)
	})
}

func TestCompleteLoginIDTokenChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *jwtx.Claims)
		want   error
		kind   string
	}{
		{
			name:   "nonce mismatch",
			mutate: func(c *jwtx.Claims) { c.Nonce = "replayed" },
			want:   jwtx.ErrNonceMismatch,
			kind:   "NonceMismatch",
		},
		{
			name:   "audience mismatch",
			mutate: func(c *jwtx.Claims) { c.Audience = []string{"someone-else"} },
			want:   jwtx.ErrAudienceMismatch,
			kind:   "AudienceMismatch",
		},
		{
			name:   "issuer mismatch",
			mutate: func(c *jwtx.Claims) { c.Issuer = "https://evil.example/" },
			want:   jwtx.ErrIssuerMismatch,
			kind:   "IssuerMismatch",
		},
		{
			name:   "typed as access token",
			mutate: func(c *jwtx.Claims) { c.Type = jwtx.TypeAccess },
			want:   jwtx.ErrWrongTokenType,
			kind:   "WrongTokenType",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(t)
			p.set(func(p *fakeProvider) { p.idTokenClaims = tt.mutate })
			e, _ := newEngine(t, p)
			ctx := context.Background()

			authURL, err := e.BeginLogin(ctx, "s", oidcx.LoginOptions{})
			require.NoError(t, err)

			_, _, err = e.CompleteLogin(ctx, "s", "code", p.authorize(t, authURL))
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, tt.kind, oidcx.Kind(err))
		})
	}
}

func TestCompleteLoginRejectsStalePending(t *testing.T) {
	p := newFakeProvider(t)
	now := time.Now()
	clock := func() time.Time { return now }
	e, _ := newEngine(t, p, func(c *oidcx.Config) {
		c.Now = func() time.Time { return clock() }
		c.PendingTTL = 10 * time.Minute
	})
	ctx := context.Background()

	authURL, err := e.BeginLogin(ctx, "s", oidcx.LoginOptions{})
	require.NoError(t, err)
	state := p.authorize(t, authURL)

	clock = func() time.Time { return now.Add(11 * time.Minute) }
	_, _, err = e.CompleteLogin(ctx, "s", "code", state)
	require.ErrorIs(t, err, oidcx.ErrMissingVerifier)
	require.Zero(t, p.tokenHits.Load())
}

func TestProviderUnreachable(t *testing.T) {
	p := newFakeProvider(t)
	e, _ := newEngine(t, p)
	p.srv.Close()

	_, err := e.BeginLogin(context.Background(), "s", oidcx.LoginOptions{})
	require.ErrorIs(t, err, oidcx.ErrProviderUnreachable)
	require.Equal(t, "ProviderUnreachable", oidcx.Kind(err))
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotated refresh token", func(t *testing.T) {
		p := newFakeProvider(t)
		e, _ := newEngine(t, p)

		set, err := e.Refresh(ctx, "rt-old")
		require.NoError(t, err)
		require.NotEmpty(t, set.AccessToken)
		require.NotEqual(t, "rt-old", set.RefreshToken)
		require.Equal(t, "auth0|user-1", set.Subject)

		p.mu.Lock()
		form := p.lastForm
		p.mu.Unlock()
		require.Equal(t, "refresh_token", form.Get("grant_type"))
		require.Equal(t, "rt-old", form.Get("refresh_token"))
		require.Equal(t, testClientID, form.Get("client_id"))
	})

	t.Run("provider keeps the refresh token", func(t *testing.T) {
		p := newFakeProvider(t)
		p.set(func(p *fakeProvider) { p.rotateRefresh = false; p.omitIDToken = true })
		e, _ := newEngine(t, p)

		set, err := e.Refresh(ctx, "rt-old")
		require.NoError(t, err)
		require.Equal(t, "rt-old", set.RefreshToken)
	})

	t.Run("rejected refresh is terminal", func(t *testing.T) {
		p := newFakeProvider(t)
		p.set(func(p *fakeProvider) {
			p.tokenStatus = 400
			p.tokenBody = map[string]any{"error": "invalid_grant"}
		})
		e, _ := newEngine(t, p)

		_, err := e.Refresh(ctx, "rt-used")
		require.ErrorIs(t, err, oidcx.ErrRefreshFailed)
		require.ErrorIs(t, err, oidcx.ErrProviderRejected)
		require.True(t, oidcx.IsTerminal(err))
	})

	t.Run("provider down", func(t *testing.T) {
		p := newFakeProvider(t)
		p.set(func(p *fakeProvider) {
			p.tokenStatus = 503
			p.tokenBody = map[string]any{}
		})
		e, _ := newEngine(t, p)

		_, err := e.Refresh(ctx, "rt")
		require.ErrorIs(t, err, oidcx.ErrRefreshFailed)
		require.Equal(t, "ProviderUnreachable", oidcx.Kind(err))
	})

	t.Run("missing access token", func(t *testing.T) {
		p := newFakeProvider(t)
		p.set(func(p *fakeProvider) {
			p.tokenStatus = 200
			p.tokenBody = map[string]any{"token_type": "Bearer"}
		})
		e, _ := newEngine(t, p)

		_, err := e.Refresh(ctx, "rt")
		require.ErrorIs(t, err, oidcx.ErrMalformedResponse)
	})

	t.Run("empty refresh token", func(t *testing.T) {
		p := newFakeProvider(t)
		e, _ := newEngine(t, p)

		_, err := e.Refresh(ctx, "")
		require.ErrorIs(t, err, oidcx.ErrRefreshFailed)
		require.Zero(t, p.tokenHits.Load())
	})
}

func TestLogoutURL(t *testing.T) {
	ctx := context.Background()

	t.Run("from discovery", func(t *testing.T) {
		p := newFakeProvider(t)
		e, _ := newEngine(t, p)

		got, err := e.LogoutURL(ctx, "id.token.hint", "https://litcal.test/")
		require.NoError(t, err)

		u, err := url.Parse(got)
		require.NoError(t, err)
		require.Equal(t, "/logout", u.Path)
		require.Equal(t, testClientID, u.Query().Get("client_id"))
		require.Equal(t, "id.token.hint", u.Query().Get("id_token_hint"))
		require.Equal(t, "https://litcal.test/", u.Query().Get("post_logout_redirect_uri"))
	})

	t.Run("provider without end session", func(t *testing.T) {
		p := newFakeProvider(t)
		p.set(func(p *fakeProvider) { p.noEndSession = true })
		e, _ := newEngine(t, p)

		_, err := e.LogoutURL(ctx, "", "")
		require.ErrorIs(t, err, oidcx.ErrMissingConfiguration)
	})
}

func TestBuildLogoutURL(t *testing.T) {
	got, err := oidcx.BuildLogoutURL("https://id.litcal.org/logout?federated=1", "web", "", "")
	require.NoError(t, err)
	require.Equal(t, "https://id.litcal.org/logout?client_id=web&federated=1", got)

	_, err = oidcx.BuildLogoutURL("", "web", "", "")
	require.ErrorIs(t, err, oidcx.ErrMissingConfiguration)

	_, err = oidcx.BuildLogoutURL("not a url", "web", "", "")
	require.ErrorIs(t, err, oidcx.ErrMalformedResponse)
}

func TestUserInfo(t *testing.T) {
	p := newFakeProvider(t)
	e, _ := newEngine(t, p)
	ctx := context.Background()

	info, err := e.UserInfo(ctx, "good-access-token")
	require.NoError(t, err)
	require.Equal(t, "auth0|user-1", info.Subject)
	require.Equal(t, "user@litcal.test", info.Email)
	require.True(t, info.EmailVerified)
	require.Equal(t, "Test User", info.Name)
	require.Equal(t, "https://litcal.test/me.png", info.Picture)
	require.Equal(t, []string{"editor"}, info.Roles)

	_, err = e.UserInfo(ctx, "stale-token")
	require.ErrorIs(t, err, oidcx.ErrProviderRejected)
}

func TestNewEngineValidatesConfig(t *testing.T) {
	_, err := oidcx.NewEngine(oidcx.Config{}, newMemoryPending())
	require.ErrorIs(t, err, oidcx.ErrMissingConfiguration)
	require.Contains(t, err.Error(), "issuer")
	require.Contains(t, err.Error(), "client id")
	require.Contains(t, err.Error(), "redirect url")

	_, err = oidcx.NewEngine(oidcx.Config{
		Issuer: "https://id.litcal.org/", ClientID: "c", RedirectURL: "https://x/cb",
	}, nil)
	require.ErrorIs(t, err, oidcx.ErrMissingConfiguration)

	_, err = oidcx.NewEngine(oidcx.Config{
		Issuer: "https://id.litcal.org/", ClientID: "c", RedirectURL: "https://x/cb",
		IDTokenAlgorithms: []string{"HS256"},
	}, newMemoryPending())
	require.ErrorIs(t, err, oidcx.ErrMissingConfiguration)
}
