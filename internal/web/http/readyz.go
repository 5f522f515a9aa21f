package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/service"
	"github.com/aussiebroadwan/litcal/internal/web/store"
	"github.com/aussiebroadwan/litcal/pkg/authsdk"
	"github.com/aussiebroadwan/litcal/pkg/gate"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
)

const readyTimeout = 5 * time.Second

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe endpoint returning service health status and checks for critical dependencies
//	@Description	Includes uptime, version, and status of the pending-login store, the identity provider and the request gate
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	login *service.LoginService,
	policy *gate.Policy,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := &authsdk.HealthChecks{
			Store:    "ok",
			Provider: "ok",
			Gate:     "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		// Check the pending-login store
		if err := st.Ping(ctx); err != nil {
			checks.Store = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		// Check discovery and signing keys are loaded
		if err := login.Ready(ctx); err != nil {
			checks.Provider = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		// A misconfigured gate turns every caller away
		if policy.IsMisconfigured() {
			checks.Gate = "error: " + policy.Err().Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
