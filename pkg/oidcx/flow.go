package oidcx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/cryptox"
	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"golang.org/x/oauth2"
)

const (
	DefaultPendingTTL = 10 * time.Minute
	DefaultRoleClaim  = "https://litcal.org/roles"
	DefaultLeeway     = 30 * time.Second
)

// DefaultScopes are requested when neither the config nor the caller say
// otherwise. offline_access is what gets us a refresh token.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// FlowState tracks one login attempt through the code flow.
type FlowState int

const (
	StateIdle FlowState = iota
	StateAuthorizationRequested
	StateAwaitingCallback
	StateExchanging
	StateAuthenticated
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizationRequested:
		return "authorization_requested"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateExchanging:
		return "exchanging"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AuthRequest is the pending state for one in-flight login. It is created
// by BeginLogin and consumed exactly once by CompleteLogin.
type AuthRequest struct {
	CodeVerifier  string
	CodeChallenge string
	State         string
	Nonce         string
	ReturnTo      string
	CreatedAt     time.Time
}

// PendingStore keeps AuthRequests between the redirect and the callback.
//
// Save overwrites whatever the session had. Take must get and delete in one
// step, and returns ErrMissingVerifier when nothing is pending.
type PendingStore interface {
	Save(ctx context.Context, sessionID string, req AuthRequest) error
	Take(ctx context.Context, sessionID string) (AuthRequest, error)
}

// LoginOptions are the per-call knobs for BeginLogin.
type LoginOptions struct {
	Scopes   []string
	ReturnTo string
	Prompt   string // e.g. "login", "consent", "none"
}

// TokenSet is what a successful exchange or refresh hands back.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Expiry       time.Time

	// Identity pulled from the verified ID token, when there was one.
	Subject string
	Roles   []string
	Name    string
	Email   string
}

// ExpiresIn is the lifetime left at now, never negative.
func (t *TokenSet) ExpiresIn(now time.Time) time.Duration {
	if t.Expiry.IsZero() {
		return 0
	}
	return max(t.Expiry.Sub(now), 0)
}

// Config configures an Engine.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string // optional, public clients rely on PKCE alone
	RedirectURL  string
	Scopes       []string
	RoleClaim    string

	// IDTokenAlgorithms restricts ID token signatures. Empty means every
	// asymmetric algorithm jwtx supports.
	IDTokenAlgorithms []string

	PendingTTL         time.Duration
	KeyTTL             time.Duration
	MinRefetchInterval time.Duration
	Leeway             time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.RedirectURL == "" {
		missing = append(missing, "redirect url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Engine runs the Authorization Code + PKCE flow against one provider.
type Engine struct {
	cfg        Config
	discovery  *Discovery
	keys       *KeyCache
	idVerifier *jwtx.KeySetVerifier
	pending    PendingStore
	logger     *slog.Logger
}

// NewEngine builds an Engine. Nothing touches the network until the first
// call that needs the provider.
func NewEngine(cfg Config, pending PendingStore) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("%w: pending store", ErrMissingConfiguration)
	}

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = DefaultRoleClaim
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = DefaultLeeway
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	discovery := NewDiscovery(cfg.Issuer, cfg.HTTPClient)
	keys := NewKeyCache(discovery, KeyCacheConfig{
		TTL:                cfg.KeyTTL,
		MinRefetchInterval: cfg.MinRefetchInterval,
		HTTPClient:         cfg.HTTPClient,
		Logger:             cfg.Logger,
		Now:                cfg.Now,
	})

	idVerifier, err := jwtx.NewKeySetVerifier(keys, jwtx.VerifyOptions{
		Algorithms:    cfg.IDTokenAlgorithms,
		Issuer:        cfg.Issuer,
		Audience:      []string{cfg.ClientID},
		ExpectedType:  jwtx.TypeID,
		TypeOptional:  true,
		Leeway:        cfg.Leeway,
		RequireExpiry: true,
		Now:           cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: id token algorithms: %w", ErrMissingConfiguration, err)
	}

	return &Engine{
		cfg:        cfg,
		discovery:  discovery,
		keys:       keys,
		idVerifier: idVerifier,
		pending:    pending,
		logger:     cfg.Logger,
	}, nil
}

// Discovery exposes the metadata cache for readiness checks.
func (e *Engine) Discovery() *Discovery { return e.discovery }

// Keys exposes the signing key cache for housekeeping.
func (e *Engine) Keys() *KeyCache { return e.keys }

// PendingTTL is how long a login attempt may sit before the callback.
func (e *Engine) PendingTTL() time.Duration { return e.cfg.PendingTTL }

func (e *Engine) transition(ctx context.Context, sessionID string, to FlowState) {
	e.logger.DebugContext(ctx, "login flow", "session", sessionID, "state", to.String())
}

// oauth2Config assembles the x/oauth2 config from discovered endpoints.
func (e *Engine) oauth2Config(ctx context.Context, scopes []string) (*oauth2.Config, error) {
	doc, err := e.discovery.Document(ctx)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = e.cfg.Scopes
	}
	return &oauth2.Config{
		ClientID:     e.cfg.ClientID,
		ClientSecret: e.cfg.ClientSecret,
		RedirectURL:  e.cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   doc.AuthorizationEndpoint,
			TokenURL:  doc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

func (e *Engine) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.cfg.HTTPClient)
}

// BeginLogin starts a login for the browser session and returns the URL to
// redirect to. Any earlier pending attempt for the session is replaced, so
// only the newest one can complete.
func (e *Engine) BeginLogin(ctx context.Context, sessionID string, opts LoginOptions) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("%w: session id", ErrMissingConfiguration)
	}

	doc, err := e.discovery.Document(ctx)
	if err != nil {
		return "", err
	}
	if !doc.SupportsS256() {
		return "", fmt.Errorf("%w: provider does not support S256 PKCE", ErrMissingConfiguration)
	}

	cfg, err := e.oauth2Config(ctx, opts.Scopes)
	if err != nil {
		return "", err
	}

	verifier, err := cryptox.NewCodeVerifier()
	if err != nil {
		return "", err
	}
	state, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	req := AuthRequest{
		CodeVerifier:  verifier,
		CodeChallenge: cryptox.S256Challenge(verifier),
		State:         state,
		Nonce:         nonce,
		ReturnTo:      opts.ReturnTo,
		CreatedAt:     e.cfg.Now().UTC(),
	}
	if err := e.pending.Save(ctx, sessionID, req); err != nil {
		return "", fmt.Errorf("save pending login: %w", err)
	}
	e.transition(ctx, sessionID, StateAuthorizationRequested)

	authOpts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if opts.Prompt != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", opts.Prompt))
	}

	authURL := cfg.AuthCodeURL(state, authOpts...)
	e.transition(ctx, sessionID, StateAwaitingCallback)
	return authURL, nil
}

// CompleteLogin redeems the authorization code. The pending request is
// consumed before anything else happens so it can never be replayed,
// whatever the outcome.
func (e *Engine) CompleteLogin(ctx context.Context, sessionID, code, state string) (*TokenSet, *AuthRequest, error) {
	req, err := e.take(ctx, sessionID, state)
	if err != nil {
		e.transition(ctx, sessionID, StateFailed)
		return nil, nil, err
	}
	if !cryptox.ValidCodeVerifier(req.CodeVerifier) {
		e.transition(ctx, sessionID, StateFailed)
		return nil, nil, fmt.Errorf("%w: stored code verifier is malformed", ErrMissingVerifier)
	}
	if code == "" {
		e.transition(ctx, sessionID, StateFailed)
		return nil, nil, fmt.Errorf("%w: callback carried no code", ErrMalformedResponse)
	}

	e.transition(ctx, sessionID, StateExchanging)

	cfg, err := e.oauth2Config(ctx, nil)
	if err != nil {
		e.transition(ctx, sessionID, StateFailed)
		return nil, nil, err
	}

	tok, err := cfg.Exchange(e.clientContext(ctx), code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		e.transition(ctx, sessionID, StateFailed)
		return nil, nil, classifyTransport(err)
	}

	set, err := e.tokenSet(ctx, tok, req.Nonce, true)
	if err != nil {
		e.transition(ctx, sessionID, StateFailed)
		return nil, nil, err
	}

	e.transition(ctx, sessionID, StateAuthenticated)
	return set, &req, nil
}

// Abandon ends a login the provider answered with an error instead of a
// code. The pending request is consumed exactly as CompleteLogin would, and
// state must still match: a callback that can't prove it belongs to this
// attempt reports ErrStateMismatch rather than the provider's error.
func (e *Engine) Abandon(ctx context.Context, sessionID, state string) error {
	_, err := e.take(ctx, sessionID, state)
	e.transition(ctx, sessionID, StateFailed)
	return err
}

// take consumes the pending request and checks it answers this callback.
func (e *Engine) take(ctx context.Context, sessionID, state string) (AuthRequest, error) {
	req, err := e.pending.Take(ctx, sessionID)
	if err != nil {
		return AuthRequest{}, err
	}
	if !cryptox.ConstantTimeEqual(state, req.State) {
		return AuthRequest{}, ErrStateMismatch
	}
	if e.cfg.Now().Sub(req.CreatedAt) > e.cfg.PendingTTL {
		return AuthRequest{}, fmt.Errorf("%w: login attempt expired", ErrMissingVerifier)
	}
	return req, nil
}

// Refresh runs the refresh grant. Any failure is terminal for the token:
// the caller must drop everything it holds and send the user to log in.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	cfg, err := e.oauth2Config(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	src := cfg.TokenSource(e.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, classifyTransport(err))
	}

	set, err := e.tokenSet(ctx, tok, "", false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if set.RefreshToken == "" {
		// No rotation, the old token stays valid.
		set.RefreshToken = refreshToken
	}
	return set, nil
}

// tokenSet converts the oauth2 token and verifies any ID token riding
// along with it.
func (e *Engine) tokenSet(ctx context.Context, tok *oauth2.Token, nonce string, checkNonce bool) (*TokenSet, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access_token", ErrMalformedResponse)
	}

	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
		Roles:        []string{},
	}

	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return set, nil
	}

	claims, err := e.idVerifier.VerifyContext(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("id token: %w", err)
	}
	if checkNonce {
		if err := claims.ValidateNonce(nonce); err != nil {
			return nil, err
		}
	}

	set.IDToken = raw
	set.Subject = claims.Subject
	set.Name = claims.Name
	set.Email = claims.Email
	set.Roles = ExtractRoles(claims, e.cfg.RoleClaim)
	return set, nil
}

// LogoutURL resolves the provider's end-session endpoint and builds the
// RP-initiated logout URL.
func (e *Engine) LogoutURL(ctx context.Context, idTokenHint, postLogoutRedirect string) (string, error) {
	endpoint, err := e.discovery.Endpoint(ctx, EndpointEndSession)
	if err != nil {
		return "", err
	}
	return BuildLogoutURL(endpoint, e.cfg.ClientID, idTokenHint, postLogoutRedirect)
}

// BuildLogoutURL is the pure half of LogoutURL. Empty optional values are
// left off the query.
func BuildLogoutURL(endpoint, clientID, idTokenHint, postLogoutRedirect string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("%w: end_session_endpoint", ErrMissingConfiguration)
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: end_session_endpoint %q", ErrMalformedResponse, endpoint)
	}

	q := u.Query()
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IsTerminal reports whether a flow error means the login must restart from
// scratch rather than be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrStateMismatch) ||
		errors.Is(err, ErrMissingVerifier) ||
		errors.Is(err, jwtx.ErrNonceMismatch) ||
		errors.Is(err, ErrRefreshFailed)
}
