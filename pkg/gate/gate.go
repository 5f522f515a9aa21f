// Package gate decides, once per request, whether the caller is signed in and
// what they may do. Verification failures never escape this package: every
// one of them collapses to the zero Gate, which is simply "not signed in".
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
	"github.com/aussiebroadwan/litcal/pkg/slogx"
)

// DefaultCookieName is the cookie carrying the signed access token.
const DefaultCookieName = "litcal_access"

// Config is read once at startup. Nothing in here comes from a request.
type Config struct {
	CookieName string
	Secret     []byte
	Algorithm  string

	// Issuer and Audience are checked when set.
	Issuer   string
	Audience []string

	// RoleClaim names a provider specific role claim (a grant map or an
	// array). When empty the flat "roles" claim is used.
	RoleClaim string

	Leeway time.Duration
	Logger *slog.Logger
	Now    func() time.Time

	// Observe, when set, is told the kind of every rejected token. Metrics
	// hang off this.
	Observe func(kind string)
}

// Policy turns inbound requests into Gates. It is safe for concurrent use
// and holds no per-request state.
type Policy struct {
	cookieName string
	roleClaim  string
	verifier   jwtx.Verifier
	broken     error
	observe    func(string)
}

// NewPolicy builds the policy. It never fails: a secret that is too short or
// an algorithm outside the HMAC family produces a policy that rejects every
// token, and the reason is logged here, once.
func NewPolicy(cfg Config) *Policy {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Policy{
		cookieName: cfg.CookieName,
		roleClaim:  cfg.RoleClaim,
		observe:    cfg.Observe,
	}

	v, err := jwtx.NewHMACVerifier(cfg.Secret, jwtx.VerifyOptions{
		Algorithms:    []string{cfg.Algorithm},
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		ExpectedType:  jwtx.TypeAccess,
		Leeway:        cfg.Leeway,
		RequireExpiry: true,
		Now:           cfg.Now,
	})
	if err != nil {
		p.broken = err
		cfg.Logger.Error("request gate misconfigured, every request will be anonymous",
			"kind", oidcx.Kind(err), "error", err)
		return p
	}
	p.verifier = v
	return p
}

// CookieName is the cookie Evaluate reads.
func (p *Policy) CookieName() string { return p.cookieName }

// Evaluate inspects the access token cookie on r. Without the cookie, a
// Bearer Authorization header is used instead; that is how non-browser
// clients call.
func (p *Policy) Evaluate(r *http.Request) Gate {
	if c, err := r.Cookie(p.cookieName); err == nil && c.Value != "" {
		return p.FromToken(r.Context(), c.Value)
	}
	if token, ok := bearerToken(r); ok {
		return p.FromToken(r.Context(), token)
	}
	return Gate{}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return token, true
}

// FromToken verifies a raw access token. Anything short of a valid, unexpired
// access token signed with the configured secret yields the zero Gate.
func (p *Policy) FromToken(ctx context.Context, token string) Gate {
	token = strings.TrimSpace(token)
	if token == "" {
		return Gate{}
	}
	if p.broken != nil {
		p.reject(ctx, p.broken)
		return Gate{}
	}

	claims, err := p.verifier.Verify(token)
	if err != nil {
		p.reject(ctx, err)
		return Gate{}
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		p.reject(ctx, jwtx.ErrInvalidClaim)
		return Gate{}
	}

	roles := claims.RoleSet()
	if p.roleClaim != "" {
		roles = setOf(oidcx.ExtractRoles(claims, p.roleClaim))
	}

	return Gate{
		subject:     claims.Subject,
		roles:       roles,
		permissions: claims.PermissionSet(),
		expiry:      claims.ExpiresAt.Time,
	}
}

func (p *Policy) reject(ctx context.Context, err error) {
	kind := oidcx.Kind(err)
	slogx.FromContext(ctx).Debug("access token rejected", "kind", kind, "error", err)
	if p.observe != nil {
		p.observe(kind)
	}
}

// Gate is the outcome of checking one request. It is immutable; the zero
// value is an anonymous caller.
type Gate struct {
	subject     string
	roles       map[string]struct{}
	permissions map[string]struct{}
	expiry      time.Time
}

// IsAuthenticated reports whether the request carried a valid access token.
func (g Gate) IsAuthenticated() bool { return g.subject != "" }

func (g Gate) Subject() string { return g.subject }

// Expiry is when the access token stops being valid. Zero when anonymous.
func (g Gate) Expiry() time.Time { return g.expiry }

// Roles returns the granted roles, sorted. Never nil.
func (g Gate) Roles() []string { return sortedKeys(g.roles) }

// Permissions returns the granted permissions, sorted. Never nil.
func (g Gate) Permissions() []string { return sortedKeys(g.permissions) }

func (g Gate) HasRole(name string) bool {
	_, ok := g.roles[name]
	return ok
}

func (g Gate) HasPermission(name string) bool {
	_, ok := g.permissions[name]
	return ok
}

type ctxKey struct{}

// WithContext stores g on ctx.
func WithContext(ctx context.Context, g Gate) context.Context {
	return context.WithValue(ctx, ctxKey{}, g)
}

// FromContext returns the Gate stored on ctx, or the anonymous Gate.
func FromContext(ctx context.Context) Gate {
	if g, ok := ctx.Value(ctxKey{}).(Gate); ok {
		return g
	}
	return Gate{}
}

// IsMisconfigured reports whether the policy rejects everything because of
// its configuration. Readiness checks use it.
func (p *Policy) IsMisconfigured() bool { return p.broken != nil }

// Err returns the configuration problem, if any.
func (p *Policy) Err() error {
	if p.broken == nil {
		return nil
	}
	return errors.Join(oidcx.ErrMissingConfiguration, p.broken)
}

func setOf(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
