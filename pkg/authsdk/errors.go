package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/litcal/pkg/httpx"
)

var (
	// ErrNotAuthenticated is returned when there is no usable access token.
	ErrNotAuthenticated = errors.New("authsdk: not authenticated")

	// ErrExpired is returned when a refresh is asked for after the access
	// token has already expired. That session is over; sign in again.
	ErrExpired = errors.New("authsdk: session expired")

	// ErrRefreshInProgress is returned by a refresh trigger that lost the
	// race to one already in flight.
	ErrRefreshInProgress = errors.New("authsdk: refresh already in progress")

	// ErrRefreshFailed wraps whatever made a refresh fail.
	ErrRefreshFailed = errors.New("authsdk: refresh failed")

	// ErrNoRefreshToken is returned when a refresh is due but none is stored.
	ErrNoRefreshToken = errors.New("authsdk: no refresh token")

	// ErrSuperseded is returned when the tokens changed while a refresh was
	// in flight (logout, or a new login). The refresh result is dropped.
	ErrSuperseded = errors.New("authsdk: tokens changed during refresh")

	// ErrNotFound is returned by a Tier that has no value for a key.
	ErrNotFound = errors.New("authsdk: not found")
)

// ============================================================================
// APIError
// ============================================================================

// fallbackMessage is shown when the service gave us nothing better.
const fallbackMessage = "Something went wrong. Please try again."

// APIError is a non-2xx response from the web service. The server side
// writes these with WriteError, the client side gets them from every Client
// method.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
	Kind       string `json:"kind,omitempty"`
	LoginURL   string `json:"login_url,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("authsdk: %d %s (%s): %s", e.StatusCode, e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("authsdk: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// UserMessage is safe to show to a person.
func (e *APIError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return fallbackMessage
}

// WriteError writes the error as a JSON response.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, ErrorResponse{
		Error:    e.Code,
		Message:  e.Message,
		Kind:     e.Kind,
		LoginURL: e.LoginURL,
	})
}

// NewAPIError creates an APIError.
func NewAPIError(statusCode int, code, kind, message string) *APIError {
	return &APIError{StatusCode: statusCode, Code: code, Kind: kind, Message: message}
}

// UserMessage picks a message for any error a Client or Manager returns.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	switch {
	case errors.Is(err, ErrExpired), errors.Is(err, ErrNotAuthenticated):
		return "Your session has ended. Please sign in again."
	default:
		return fallbackMessage
	}
}

// parseErrorResponse turns a non-2xx response into an *APIError. Returns nil
// for 2xx.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       errResp.Error,
			Message:    errResp.Message,
			Kind:       errResp.Kind,
			LoginURL:   errResp.LoginURL,
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       "http_error",
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
