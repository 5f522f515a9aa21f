package authsdk

import (
	"time"

	"github.com/aussiebroadwan/litcal/pkg/httpx"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the JSON body of every non-2xx response from the web
// service. Kind is the error taxonomy name (StateMismatch, Expired, ...).
type ErrorResponse = httpx.ErrorBody

// ============================================================================
// Token Types
// ============================================================================

// RefreshRequest is the optional JSON body of POST /auth/refresh. Browsers
// send the refresh token as a cookie instead.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by POST /auth/refresh.
type TokenResponse struct {
	// AccessToken is the signed access token for resource API calls
	AccessToken string `json:"access_token"`

	// RefreshToken is the rotated refresh token. The previous one is dead
	// as soon as this response is sent.
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the identity token, kept only as a logout hint
	IDToken string `json:"id_token,omitempty"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in"`
}

// LogoutResponse is returned by POST /auth/logout.
type LogoutResponse struct {
	// LogoutURL is the identity provider's end-session URL. Empty when the
	// provider does not publish one.
	LogoutURL string `json:"logout_url"`
}

// ============================================================================
// Session Types
// ============================================================================

// SessionResponse is the server's view of the caller, from GET /v1/session.
type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	Subject       string     `json:"subject,omitempty"`
	Roles         []string   `json:"roles"`
	Permissions   []string   `json:"permissions"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// SessionCheckResponse answers GET /v1/session/check.
type SessionCheckResponse struct {
	Role       bool `json:"role"`
	Permission bool `json:"permission"`
}

// UserInfoResponse is the provider's userinfo, from GET /v1/userinfo.
type UserInfoResponse struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	Name          string   `json:"name,omitempty"`
	Picture       string   `json:"picture,omitempty"`
	Roles         []string `json:"roles"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	// Status is "ok" or "unavailable"
	Status string `json:"status"`

	// Uptime is the service uptime (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	Version string `json:"version,omitempty"`

	// Checks is only present on /readyz
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports each dependency /readyz looks at.
type HealthChecks struct {
	// Store is the pending login store
	Store string `json:"store"`

	// Provider is discovery and signing key warm-up
	Provider string `json:"provider"`

	// Gate is the access token policy configuration
	Gate string `json:"gate"`
}
