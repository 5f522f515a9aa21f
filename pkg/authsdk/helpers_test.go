package authsdk_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/authsdk"
	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// epoch is a whole second: JWT times have second precision.
var epoch = time.Unix(1_760_000_000, 0)

func accessToken(t *testing.T, now time.Time, ttl time.Duration, roles ...string) string {
	t.Helper()
	s, err := jwtx.NewHMACSigner("HS256", testSecret)
	require.NoError(t, err)
	tok, err := s.Sign(jwtx.NewAccessClaims("user-1", roles, []string{"calendar:read"}, ttl, "", nil, now))
	require.NoError(t, err)
	return tok
}

// fakeClock is a manual clock. Timers fire inside Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) authsdk.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f, d: d, at: c.now.Add(d)}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if t.active() && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

// Timers returns every timer ever created.
func (c *fakeClock) Timers() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

type fakeTimer struct {
	clock *fakeClock
	f     func()

	d       time.Duration
	at      time.Time
	stopped bool
	fired   bool
}

// active must be called with clock.mu held.
func (t *fakeTimer) active() bool { return !t.stopped && !t.fired }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active()
	t.stopped = true
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active()
	t.d, t.at = d, t.clock.now.Add(d)
	t.stopped, t.fired = false, false
	return was
}

func (t *fakeTimer) State() (d time.Duration, active bool) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.d, t.active()
}

// fakeBackend stands in for the web service.
type fakeBackend struct {
	t     *testing.T
	clock *fakeClock

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32

	// When set, RefreshTokens signals entered and waits for release.
	entered chan struct{}
	release chan struct{}

	refreshErr error
	logoutErr  error
	lastToken  atomic.Value
}

func (b *fakeBackend) RefreshTokens(_ context.Context, refreshToken string) (*authsdk.TokenResponse, error) {
	b.refreshCalls.Add(1)
	b.lastToken.Store(refreshToken)
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	if b.refreshErr != nil {
		return nil, b.refreshErr
	}
	return &authsdk.TokenResponse{
		AccessToken:  accessToken(b.t, b.clock.Now(), time.Hour, "editor"),
		RefreshToken: "rt-rotated",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}, nil
}

func (b *fakeBackend) Logout(context.Context, string) (*authsdk.LogoutResponse, error) {
	b.logoutCalls.Add(1)
	if b.logoutErr != nil {
		return nil, b.logoutErr
	}
	return &authsdk.LogoutResponse{LogoutURL: "https://idp.test/logout"}, nil
}

// recorder collects callback invocations.
type recorder struct {
	mu       sync.Mutex
	warnings []time.Duration
	logouts  []authsdk.LogoutReason
}

func (r *recorder) warn(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, d)
}

func (r *recorder) logout(reason authsdk.LogoutReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logouts = append(r.logouts, reason)
}

func (r *recorder) Warnings() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.warnings...)
}

func (r *recorder) Logouts() []authsdk.LogoutReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]authsdk.LogoutReason(nil), r.logouts...)
}

type harness struct {
	clock      *fakeClock
	backend    *fakeBackend
	events     *recorder
	ephemeral  *authsdk.MemoryTier
	persistent *authsdk.MemoryTier
	store      *authsdk.TokenStore
	mgr        *authsdk.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:      newFakeClock(),
		events:     &recorder{},
		ephemeral:  authsdk.NewMemoryTier(),
		persistent: authsdk.NewMemoryTier(),
	}
	h.backend = &fakeBackend{t: t, clock: h.clock}
	h.store = authsdk.NewTokenStore(h.ephemeral, h.persistent)
	h.mgr = authsdk.NewManager(authsdk.ManagerConfig{
		Store:     h.store,
		Backend:   h.backend,
		Clock:     h.clock,
		OnWarning: h.events.warn,
		OnLogout:  h.events.logout,
	})
	return h
}

// signIn stores a token pair expiring in ttl.
func (h *harness) signIn(t *testing.T, ttl time.Duration, persistent bool) {
	t.Helper()
	require.NoError(t, h.mgr.SetTokenPair(accessToken(t, h.clock.Now(), ttl, "editor"), "rt-1", persistent))
}
