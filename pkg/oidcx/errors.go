package oidcx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"golang.org/x/oauth2"
)

var (
	ErrStateMismatch        = errors.New("oidcx: state mismatch")
	ErrMissingVerifier      = errors.New("oidcx: no pending authorization request")
	ErrProviderUnreachable  = errors.New("oidcx: identity provider unreachable")
	ErrMalformedResponse    = errors.New("oidcx: malformed provider response")
	ErrMissingConfiguration = errors.New("oidcx: missing configuration")
	ErrProviderRejected     = errors.New("oidcx: identity provider rejected the request")
	ErrRefreshFailed        = errors.New("oidcx: refresh failed")
)

// ProviderError carries the OAuth2 error response body from the identity
// provider. It unwraps to ErrProviderRejected.
type ProviderError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oidcx: provider error %d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("oidcx: provider error %d %s", e.StatusCode, e.Code)
}

func (e *ProviderError) Unwrap() error { return ErrProviderRejected }

const genericLoginMessage = "Sign-in failed. Please try again."

// UserMessage is what the login page shows. The provider's own wording wins
// when it sent any.
func (e *ProviderError) UserMessage() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Code != "":
		return e.Code
	default:
		return genericLoginMessage
	}
}

// UserMessage picks a displayable message for any flow error.
func UserMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.UserMessage()
	}
	switch {
	case errors.Is(err, ErrStateMismatch), errors.Is(err, ErrMissingVerifier):
		return "Your sign-in attempt expired. Please start again."
	case errors.Is(err, ErrProviderUnreachable):
		return "The sign-in service is unavailable right now. Please try again shortly."
	default:
		return genericLoginMessage
	}
}

// classifyTransport maps errors out of x/oauth2 and net/http onto our
// taxonomy.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := &ProviderError{Code: re.ErrorCode, Description: re.ErrorDescription}
		if re.Response != nil {
			pe.StatusCode = re.Response.StatusCode
		}
		// A 5xx without an OAuth error body is the provider falling over,
		// not the provider saying no.
		if pe.Code == "" && pe.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", ErrProviderUnreachable, pe.StatusCode)
		}
		return pe
	}

	var ue *url.Error
	var ne net.Error
	if errors.As(err, &ue) || errors.As(err, &ne) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrProviderUnreachable, err)
	}

	return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
}

// Kind names the error category for logs, metric labels and JSON bodies.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jwtx.ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, jwtx.ErrExpired):
		return "Expired"
	case errors.Is(err, jwtx.ErrNotYetValid):
		return "NotYetValid"
	case errors.Is(err, jwtx.ErrWrongTokenType):
		return "WrongTokenType"
	case errors.Is(err, jwtx.ErrAlgNotAllowed), errors.Is(err, jwtx.ErrUnknownKID):
		return "InvalidSignature"
	case errors.Is(err, jwtx.ErrMalformed), errors.Is(err, jwtx.ErrInvalidClaim):
		return "MalformedResponse"
	case errors.Is(err, ErrStateMismatch):
		return "StateMismatch"
	case errors.Is(err, jwtx.ErrNonceMismatch):
		return "NonceMismatch"
	case errors.Is(err, jwtx.ErrAudienceMismatch):
		return "AudienceMismatch"
	case errors.Is(err, jwtx.ErrIssuerMismatch):
		return "IssuerMismatch"
	case errors.Is(err, ErrProviderUnreachable):
		return "ProviderUnreachable"
	case errors.Is(err, ErrMalformedResponse):
		return "MalformedResponse"
	case errors.Is(err, ErrMissingConfiguration), errors.Is(err, jwtx.ErrWeakSecret):
		return "MissingConfiguration"
	case errors.Is(err, ErrMissingVerifier):
		return "MissingVerifier"
	case errors.Is(err, ErrProviderRejected):
		return "ProviderRejected"
	case errors.Is(err, ErrRefreshFailed):
		return "RefreshFailed"
	default:
		return "Unknown"
	}
}
