package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/metrics"
	"github.com/aussiebroadwan/litcal/pkg/cryptox"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
	"github.com/aussiebroadwan/litcal/pkg/slogx"
)

// ErrUnsafeReturnTo is returned for a return_to that would leave the site.
var ErrUnsafeReturnTo = errors.New("return_to must be a local path")

// LoginService runs the browser side of sign-in on top of the flow engine
// and records what happened.
type LoginService struct {
	Engine  *oidcx.Engine
	Metrics metrics.Recorder

	// PostLogoutRedirect is where the provider sends the browser after
	// logout. Empty leaves it to the provider.
	PostLogoutRedirect string
}

func NewLoginService(engine *oidcx.Engine, rec metrics.Recorder, postLogoutRedirect string) *LoginService {
	if rec == nil {
		rec = metrics.NewNoopMetrics()
	}
	return &LoginService{Engine: engine, Metrics: rec, PostLogoutRedirect: postLogoutRedirect}
}

// SafeReturnTo accepts only same-origin paths. Anything else, including
// scheme-relative "//host" and backslash tricks, falls back to "/".
func SafeReturnTo(raw string) (string, error) {
	if raw == "" {
		return "/", nil
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n") {
		return "/", ErrUnsafeReturnTo
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/", ErrUnsafeReturnTo
	}
	return u.RequestURI(), nil
}

// BeginLogin returns the provider URL to send the browser to.
func (s *LoginService) BeginLogin(ctx context.Context, sessionID, returnTo, prompt string) (string, error) {
	safe, err := SafeReturnTo(returnTo)
	if err != nil {
		slogx.FromContext(ctx).WarnContext(ctx, "ignoring unsafe return_to", "return_to", returnTo)
	}

	authURL, err := s.Engine.BeginLogin(ctx, sessionID, oidcx.LoginOptions{
		ReturnTo: safe,
		Prompt:   prompt,
	})
	s.Metrics.RecordLoginStarted(err == nil)
	if err != nil {
		slogx.FromContext(ctx).ErrorContext(ctx, "failed to begin login", "error", err, "kind", oidcx.Kind(err))
		return "", err
	}
	return authURL, nil
}

// CompleteLogin redeems the callback. The returned path is where the
// browser goes next.
func (s *LoginService) CompleteLogin(ctx context.Context, sessionID, code, state string) (*oidcx.TokenSet, string, error) {
	start := time.Now()
	log := slogx.FromContext(ctx)

	tokens, req, err := s.Engine.CompleteLogin(ctx, sessionID, code, state)
	s.Metrics.RecordLoginCompleted(oidcx.Kind(err), time.Since(start))
	if err != nil {
		log.WarnContext(ctx, "login callback failed", "error", err, "kind", oidcx.Kind(err))
		return nil, "", err
	}

	returnTo, _ := SafeReturnTo(req.ReturnTo)
	log.InfoContext(ctx, "login completed",
		"sub", tokens.Subject,
		"roles", tokens.Roles,
		"access_fp", cryptox.FingerprintToken(tokens.AccessToken),
	)
	return tokens, returnTo, nil
}

// ProviderDenied ends a login whose callback came back with an OAuth error
// instead of a code, usually the user declining consent. The attempt is
// consumed first; when the callback doesn't match it (no pending login, or
// the wrong state) that failure is returned instead of the provider's.
func (s *LoginService) ProviderDenied(ctx context.Context, sessionID, state, code, description string) error {
	log := slogx.FromContext(ctx)

	if err := s.Engine.Abandon(ctx, sessionID, state); err != nil {
		s.Metrics.RecordLoginCompleted(oidcx.Kind(err), 0)
		log.WarnContext(ctx, "provider error on a callback that does not match a login", "error", err, "kind", oidcx.Kind(err))
		return err
	}

	err := &oidcx.ProviderError{Code: code, Description: description}
	s.Metrics.RecordLoginCompleted(oidcx.Kind(err), 0)
	log.InfoContext(ctx, "provider returned an error to the callback", "error", err)
	return err
}

// Refresh runs the refresh grant. Every error means the session is over.
func (s *LoginService) Refresh(ctx context.Context, refreshToken string) (*oidcx.TokenSet, error) {
	log := slogx.FromContext(ctx).With("refresh_fp", cryptox.FingerprintToken(refreshToken))

	tokens, err := s.Engine.Refresh(ctx, refreshToken)
	s.Metrics.RecordRefresh(oidcx.Kind(err))
	if err != nil {
		log.WarnContext(ctx, "refresh failed", "error", err, "kind", oidcx.Kind(err))
		return nil, err
	}

	log.DebugContext(ctx, "tokens refreshed", "rotated", tokens.RefreshToken != refreshToken)
	return tokens, nil
}

// Logout returns the provider logout URL, or "" when the provider has none
// or can't be reached. Logging out locally never fails.
func (s *LoginService) Logout(ctx context.Context, idTokenHint string) string {
	s.Metrics.RecordLogout()

	logoutURL, err := s.Engine.LogoutURL(ctx, idTokenHint, s.PostLogoutRedirect)
	if err != nil {
		level := slogx.FromContext(ctx).WarnContext
		if errors.Is(err, oidcx.ErrMissingConfiguration) {
			level = slogx.FromContext(ctx).DebugContext
		}
		level(ctx, "no provider logout url", "error", err)
		return ""
	}
	return logoutURL
}

// UserInfo asks the provider who owns accessToken.
func (s *LoginService) UserInfo(ctx context.Context, accessToken string) (*oidcx.UserInfo, error) {
	return s.Engine.UserInfo(ctx, accessToken)
}

// Ready reports whether discovery and the signing keys have been fetched,
// fetching them if not.
func (s *LoginService) Ready(ctx context.Context) error {
	if _, err := s.Engine.Discovery().Document(ctx); err != nil {
		return err
	}
	if s.Engine.Keys().Ready() {
		return nil
	}
	return s.Engine.Keys().Warm(ctx)
}
