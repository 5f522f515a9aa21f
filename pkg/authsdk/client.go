package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to the litcal web service. It has no state of its own;
// Manager holds the tokens.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the web service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RefreshTokens trades a refresh token for a new token pair via
// POST /auth/refresh. Providers rotate refresh tokens, so the one passed in
// is spent whether or not this succeeds.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	body, err := json.Marshal(RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/refresh", bytes.NewReader(body), "",
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("%w: response has no access_token", ErrRefreshFailed)
	}

	return &tokens, nil
}

// Logout tells the service the session is over via POST /auth/logout and
// returns the provider logout URL, if any.
func (c *Client) Logout(ctx context.Context, accessToken string) (*LogoutResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/logout", nil, accessToken, nil)
	if err != nil {
		return nil, err
	}

	var out LogoutResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}

// Session asks the service how it sees accessToken via GET /v1/session.
func (c *Client) Session(ctx context.Context, accessToken string) (*SessionResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/session", nil, accessToken, nil)
	if err != nil {
		return nil, err
	}

	var out SessionResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}

// UserInfo fetches the provider's profile for the caller via GET /v1/userinfo.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfoResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/userinfo", nil, accessToken, nil)
	if err != nil {
		return nil, err
	}

	var out UserInfoResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetLiveness checks if the service is alive.
func (c *Client) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/livez")
}

// GetReadiness checks if the service is ready.
func (c *Client) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/readyz")
}

func (c *Client) health(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, "", nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}

	return &health, nil
}
