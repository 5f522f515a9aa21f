package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/cryptox"
	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
)

// Scheduler defaults.
const (
	DefaultRefreshInterval  = time.Minute
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultWarnInterval     = 30 * time.Second
	DefaultWarnThreshold    = 2 * time.Minute
)

// Backend is what the Manager needs from the web service. *Client
// implements it.
type Backend interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error)
	Logout(ctx context.Context, accessToken string) (*LogoutResponse, error)
}

// LogoutReason says why the Manager dropped the session.
type LogoutReason int

const (
	// ReasonLogout is an explicit Logout call.
	ReasonLogout LogoutReason = iota
	// ReasonExpired means the access token ran out before it was refreshed.
	ReasonExpired
	// ReasonRefreshFailed means the service refused or could not be reached
	// for a refresh.
	ReasonRefreshFailed
)

func (r LogoutReason) String() string {
	switch r {
	case ReasonLogout:
		return "logout"
	case ReasonExpired:
		return "expired"
	case ReasonRefreshFailed:
		return "refresh_failed"
	default:
		return fmt.Sprintf("LogoutReason(%d)", int(r))
	}
}

// ManagerConfig configures a Manager. Zero durations take the defaults.
type ManagerConfig struct {
	Store   *TokenStore
	Backend Backend

	RefreshInterval  time.Duration
	RefreshThreshold time.Duration
	WarnInterval     time.Duration
	WarnThreshold    time.Duration

	// RoleClaim names a namespaced role claim to read roles from.
	RoleClaim string

	// OnWarning is called on every warning check while the session is
	// about to expire, with the time left. Calls repeat; the UI should
	// update its message in place.
	OnWarning func(remaining time.Duration)

	// OnLogout is called whenever the Manager drops the tokens.
	OnLogout func(reason LogoutReason)

	HTTPClient *http.Client
	Clock      Clock
	Logger     *slog.Logger
}

// Manager owns a user's tokens on the client side: it answers "am I signed
// in" from the stored access token, refreshes it before it runs out, warns
// before the session ends and logs out when it does.
type Manager struct {
	store      *TokenStore
	backend    Backend
	clock      Clock
	logger     *slog.Logger
	httpClient *http.Client
	roleClaim  string

	refreshInterval  time.Duration
	refreshThreshold time.Duration
	warnInterval     time.Duration
	warnThreshold    time.Duration

	onWarning func(time.Duration)
	onLogout  func(LogoutReason)

	// refreshing is the single in-flight flag. Whoever flips it owns the
	// refresh token until it is flipped back.
	refreshing atomic.Bool

	mu sync.Mutex
	// generation moves on every token write and clear, so a refresh that
	// started before one can tell its result is stale.
	generation uint64
	timer      Timer
	timerSeq   uint64
	warned     bool

	lifecycle sync.Mutex
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewManager creates a Manager. Call Start to run the schedulers.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Store == nil {
		cfg.Store = NewTokenStore(nil, nil)
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.WarnInterval <= 0 {
		cfg.WarnInterval = DefaultWarnInterval
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = DefaultWarnThreshold
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		store:            cfg.Store,
		backend:          cfg.Backend,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		httpClient:       cfg.HTTPClient,
		roleClaim:        cfg.RoleClaim,
		refreshInterval:  cfg.RefreshInterval,
		refreshThreshold: cfg.RefreshThreshold,
		warnInterval:     cfg.WarnInterval,
		warnThreshold:    cfg.WarnThreshold,
		onWarning:        cfg.OnWarning,
		onLogout:         cfg.OnLogout,
	}
}

// ============================================================================
// Tokens
// ============================================================================

// SetTokenPair stores a fresh token pair, e.g. straight after login.
func (m *Manager) SetTokenPair(access, refresh string, persistent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.cancelWarningLocked()
	return m.store.SetTokenPair(access, refresh, persistent)
}

// Clear drops the tokens without telling anyone.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked()
}

func (m *Manager) clearLocked() error {
	m.generation++
	m.cancelWarningLocked()
	return m.store.Clear()
}

// AccessToken returns the stored access token, expired or not.
func (m *Manager) AccessToken() string { return m.store.AccessToken() }

// Claims decodes the stored access token locally. The signature is not
// checked; the server does that. A token that does not decode counts as no
// token at all.
func (m *Manager) Claims() (jwtx.Claims, bool) {
	access := m.store.AccessToken()
	if access == "" {
		return jwtx.Claims{}, false
	}
	claims, err := jwtx.ParseUnverified(access)
	if err != nil {
		return jwtx.Claims{}, false
	}
	return claims, true
}

// Remaining is the time until the access token expires; zero or negative
// once it has, and zero with no token.
func (m *Manager) Remaining() time.Duration {
	claims, ok := m.Claims()
	if !ok {
		return 0
	}
	return claims.Remaining(m.clock.Now())
}

// IsAuthenticated reports whether an unexpired access token is stored.
func (m *Manager) IsAuthenticated() bool {
	return m.Remaining() > 0
}

// Roles lists the roles in the stored access token, sorted.
func (m *Manager) Roles() []string {
	claims, ok := m.Claims()
	if !ok {
		return []string{}
	}
	if m.roleClaim != "" {
		return oidcx.ExtractRoles(claims, m.roleClaim)
	}
	roles := append([]string{}, claims.Roles...)
	slices.Sort(roles)
	return slices.Compact(roles)
}

// HasRole is for showing or hiding controls. The server decides for real.
func (m *Manager) HasRole(role string) bool {
	return m.IsAuthenticated() && slices.Contains(m.Roles(), role)
}

// HasPermission is for showing or hiding controls. The server decides for
// real.
func (m *Manager) HasPermission(perm string) bool {
	claims, ok := m.Claims()
	if !ok || claims.Remaining(m.clock.Now()) <= 0 {
		return false
	}
	_, has := claims.PermissionSet()[perm]
	return has
}

// Warned reports whether an expiry warning is showing.
func (m *Manager) Warned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warned
}

// ============================================================================
// Refresh
// ============================================================================

// Refresh trades the refresh token for a new pair, written back to the same
// tier. Only one refresh runs at a time; a second caller gets
// ErrRefreshInProgress and nothing is sent. When the service refuses, the
// tokens are cleared and OnLogout gets ReasonRefreshFailed.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.refresh(ctx, false)
}

// errNotDue is refreshIfDue finding the token outside the threshold.
var errNotDue = errors.New("authsdk: refresh not due")

// refreshIfDue refreshes only when the token, read under the in-flight
// flag, is inside the threshold. A trigger that decided on a token another
// refresh has since replaced sees the new one and does nothing.
func (m *Manager) refreshIfDue(ctx context.Context) error {
	return m.refresh(ctx, true)
}

func (m *Manager) refresh(ctx context.Context, onlyIfDue bool) error {
	if !m.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer m.refreshing.Store(false)

	claims, ok := m.Claims()
	if !ok {
		return ErrNotAuthenticated
	}
	remaining := claims.Remaining(m.clock.Now())
	if remaining <= 0 {
		m.expire()
		return ErrExpired
	}
	if onlyIfDue && remaining >= m.refreshThreshold {
		return errNotDue
	}
	if m.backend == nil {
		return fmt.Errorf("%w: no backend configured", ErrRefreshFailed)
	}

	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	refresh := m.store.RefreshToken()
	if refresh == "" {
		return ErrNoRefreshToken
	}
	persistent := m.store.Persistent()

	log := m.logger.With("refresh_fp", cryptox.FingerprintToken(refresh))
	log.DebugContext(ctx, "refreshing tokens")

	resp, err := m.backend.RefreshTokens(ctx, refresh)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		if m.endSessionIf(gen, ReasonRefreshFailed) {
			log.WarnContext(ctx, "token refresh failed, session cleared", "error", err)
		}
		return err
	}

	next := resp.RefreshToken
	if next == "" {
		next = refresh
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		log.InfoContext(ctx, "dropping refresh result, tokens changed meanwhile")
		return ErrSuperseded
	}
	m.generation++
	m.cancelWarningLocked()
	err = m.store.SetTokenPair(resp.AccessToken, next, persistent)
	m.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: store: %w", ErrRefreshFailed, err)
		m.endSession(ReasonRefreshFailed)
		return err
	}

	log.DebugContext(ctx, "tokens refreshed", "expires_in", resp.ExpiresIn)
	return nil
}

// CheckRefresh is one tick of the refresh scheduler. It refreshes once the
// token is inside the threshold and still valid; an expired token ends the
// session instead.
func (m *Manager) CheckRefresh(ctx context.Context) {
	err := m.refreshIfDue(ctx)
	switch {
	case err == nil,
		errors.Is(err, errNotDue),
		errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrRefreshInProgress),
		errors.Is(err, ErrSuperseded):
	default:
		m.logger.DebugContext(ctx, "scheduled refresh did not complete", "error", err)
	}
}

// ============================================================================
// Expiry warning
// ============================================================================

// CheckWarning is one tick of the warning scheduler. Inside the warning
// threshold it calls OnWarning and (re)arms the one auto-logout timer to
// fire at expiry. Repeated calls move the same timer, never add one.
func (m *Manager) CheckWarning() {
	claims, ok := m.Claims()
	if !ok {
		return
	}

	remaining := claims.Remaining(m.clock.Now())
	if remaining <= 0 {
		m.expire()
		return
	}
	if remaining > m.warnThreshold {
		return
	}

	m.mu.Lock()
	if m.timer == nil {
		m.timerSeq++
		seq := m.timerSeq
		m.timer = m.clock.AfterFunc(remaining, func() { m.autoLogout(seq) })
	} else {
		m.timer.Reset(remaining)
	}
	m.warned = true
	m.mu.Unlock()

	if m.onWarning != nil {
		m.onWarning(remaining)
	}
}

func (m *Manager) autoLogout(seq uint64) {
	m.mu.Lock()
	if m.timerSeq != seq || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.warned = false
	m.mu.Unlock()

	if m.Remaining() > 0 {
		return
	}
	m.expire()
}

// cancelWarningLocked must be called with m.mu held.
func (m *Manager) cancelWarningLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
	m.warned = false
}

// ============================================================================
// Ending the session
// ============================================================================

// Logout notifies the service (best effort) and then always clears the
// tokens. It returns the provider logout URL when the service gave one.
func (m *Manager) Logout(ctx context.Context) (string, error) {
	var logoutURL string
	if access := m.store.AccessToken(); access != "" && m.backend != nil {
		resp, err := m.backend.Logout(ctx, access)
		if err != nil {
			m.logger.WarnContext(ctx, "logout notification failed, clearing locally", "error", err)
		} else {
			logoutURL = resp.LogoutURL
		}
	}

	err := m.Clear()
	m.signal(ReasonLogout)
	return logoutURL, err
}

func (m *Manager) expire() {
	m.endSession(ReasonExpired)
}

func (m *Manager) endSession(reason LogoutReason) {
	m.mu.Lock()
	err := m.clearLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("failed to clear tokens", "reason", reason.String(), "error", err)
	}
	m.signal(reason)
}

// endSessionIf ends the session only if no token write happened since gen.
func (m *Manager) endSessionIf(gen uint64, reason LogoutReason) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	err := m.clearLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("failed to clear tokens", "reason", reason.String(), "error", err)
	}
	m.signal(reason)
	return true
}

func (m *Manager) signal(reason LogoutReason) {
	if m.onLogout != nil {
		m.onLogout(reason)
	}
}

// ============================================================================
// Resource API calls
// ============================================================================

// Do sends req with the access token as a bearer credential.
func (m *Manager) Do(req *http.Request) (*http.Response, error) {
	access := m.store.AccessToken()
	if access == "" || !m.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+access)
	return m.httpClient.Do(out)
}

// ============================================================================
// Schedulers
// ============================================================================

// Start runs the refresh and warning schedulers until Stop is called or ctx
// ends. Each checks once straight away, then on its own interval.
func (m *Manager) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.stopCh != nil {
		return
	}
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	m.stopCh, m.doneCh = stopCh, doneCh

	var wg sync.WaitGroup
	wg.Go(func() { m.run(ctx, stopCh, m.refreshInterval, m.CheckRefresh) })
	wg.Go(func() { m.run(ctx, stopCh, m.warnInterval, func(context.Context) { m.CheckWarning() }) })
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	m.logger.Debug("session schedulers started",
		"refresh_interval", m.refreshInterval, "warn_interval", m.warnInterval)
}

// Stop halts the schedulers and disarms the auto-logout timer. Tokens are
// left alone.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.stopCh, m.doneCh = nil, nil

	m.mu.Lock()
	m.cancelWarningLocked()
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, stopCh <-chan struct{}, interval time.Duration, check func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check(ctx)
	for {
		select {
		case <-ticker.C:
			check(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
