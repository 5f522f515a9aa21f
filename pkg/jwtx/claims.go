package jwtx

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim. A token minted for one purpose
// must never be accepted for another, so every verifier states which type it
// expects.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
	TypeID      = "id"
)

// DefaultAccessTokenTTL is the lifetime the dev tooling mints tokens with.
const DefaultAccessTokenTTL = 15 * time.Minute

// Claims are the claims we care about across access, refresh and identity
// tokens. Anything we don't model explicitly is kept around so callers can
// dig out provider specific claims (namespaced role maps and friends).
type Claims struct {
	jwt.RegisteredClaims

	// Type is one of TypeAccess, TypeRefresh or TypeID. We don't use the
	// JOSE "typ" header for this because providers set it inconsistently.
	Type string `json:"type,omitempty"`

	// Roles and Permissions are flat string sets, e.g. ["editor"] and
	// ["calendar:write"].
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	// Nonce is only meaningful on identity tokens.
	Nonce string `json:"nonce,omitempty"`

	// Display attributes, mostly from identity tokens.
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`

	extra map[string]json.RawMessage
}

// UnmarshalJSON decodes the known claims and keeps the raw payload so
// Claim can look up anything else.
func (c *Claims) UnmarshalJSON(b []byte) error {
	type plain Claims

	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}

	*c = Claims(p)
	c.extra = all
	return nil
}

// Claim decodes a raw claim by name into dst. It reports false when the
// claim is absent.
func (c Claims) Claim(name string, dst any) (bool, error) {
	raw, ok := c.extra[name]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, err
	}
	return true, nil
}

// RoleSet returns the roles as a set. Never nil.
func (c Claims) RoleSet() map[string]struct{} {
	return toSet(c.Roles)
}

// PermissionSet returns the permissions as a set. Never nil.
func (c Claims) PermissionSet() map[string]struct{} {
	return toSet(c.Permissions)
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

// NewAccessClaims builds minimally-correct access token claims.
func NewAccessClaims(
	subject string,
	roles, permissions []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: registered(subject, ttl, issuer, audience, now),
		Type:             TypeAccess,
		Roles:            roles,
		Permissions:      permissions,
	}
}

// NewRefreshClaims builds refresh token claims. Refresh tokens carry no
// roles, they only identify the subject.
func NewRefreshClaims(subject string, ttl time.Duration, issuer string, audience []string, now time.Time) Claims {
	return Claims{
		RegisteredClaims: registered(subject, ttl, issuer, audience, now),
		Type:             TypeRefresh,
	}
}

func registered(subject string, ttl time.Duration, issuer string, audience []string, now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings(audience),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        NewJTI(),
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuerMismatch
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudienceMismatch
}

// ValidateType checks the "type" claim. With optional set a missing claim
// passes, but a present one must still match.
func (c *Claims) ValidateType(expected string, optional bool) error {
	if expected == "" {
		return nil
	}
	if c.Type == "" && optional {
		return nil
	}
	if c.Type != expected {
		return ErrWrongTokenType
	}
	return nil
}

// ValidateNonce compares the nonce in constant time.
func (c *Claims) ValidateNonce(expected string) error {
	if expected == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(c.Nonce), []byte(expected)) != 1 {
		return ErrNonceMismatch
	}
	return nil
}

// Remaining returns the time left until exp. Tokens without exp report
// zero, they are never treated as long lived.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
