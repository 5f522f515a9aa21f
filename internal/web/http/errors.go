package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/litcal/pkg/authsdk"
	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
)

// callbackStatus maps a login failure to a status. The browser's fault
// (a stale or replayed callback, or the user declining) is a 400, the provider's fault a 502, and
// not reaching the provider at all a 503.
func callbackStatus(err error) int {
	switch {
	case deniedAtCallback(err),
		errors.Is(err, oidcx.ErrStateMismatch),
		errors.Is(err, oidcx.ErrMissingVerifier),
		errors.Is(err, jwtx.ErrNonceMismatch):
		return http.StatusBadRequest
	case errors.Is(err, oidcx.ErrProviderUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, oidcx.ErrMissingConfiguration):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// loginPath is where a browser starts over after a terminal failure.
const loginPath = "/auth/login"

// deniedAtCallback reports a provider error that arrived as callback query
// parameters rather than as a token endpoint response, which has a status.
func deniedAtCallback(err error) bool {
	var pe *oidcx.ProviderError
	return errors.As(err, &pe) && pe.StatusCode == 0
}

func writeCallbackError(w http.ResponseWriter, err error) {
	apiErr := authsdk.NewAPIError(callbackStatus(err), "callback_failed", oidcx.Kind(err), oidcx.UserMessage(err))
	if oidcx.IsTerminal(err) {
		apiErr.LoginURL = loginPath
	}
	apiErr.WriteError(w)
}

const sessionEndedMessage = "Your session has ended. Please sign in again."

func writeRefreshError(w http.ResponseWriter, err error) {
	apiErr := authsdk.NewAPIError(http.StatusUnauthorized, "refresh_failed", oidcx.Kind(err), sessionEndedMessage)
	if oidcx.IsTerminal(err) {
		apiErr.LoginURL = loginPath
	}
	apiErr.WriteError(w)
}
