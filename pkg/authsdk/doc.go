/*
Package authsdk is the client side of litcal sign-in: it keeps the user's
tokens, keeps them fresh, and tells the UI when the session is about to end.

# Client vs Manager

  - Client: a stateless HTTP client for the litcal web service (refresh,
    logout, session and userinfo endpoints)
  - Manager: owns one user's tokens, decides locally whether they are signed
    in, and runs the refresh and expiry-warning schedulers

	client := authsdk.NewClient("https://litcal.example.org")
	mgr := authsdk.NewManager(authsdk.ManagerConfig{
		Store:   authsdk.NewTokenStore(authsdk.NewMemoryTier(), authsdk.NewKeyringTier("")),
		Backend: client,
		OnWarning: func(left time.Duration) {
			ui.ShowBanner(fmt.Sprintf("Your session ends in %s", left.Round(time.Second)))
		},
		OnLogout: func(reason authsdk.LogoutReason) {
			ui.ShowLogin(reason)
		},
	})

	// After the browser comes back from /auth/callback:
	_ = mgr.SetTokenPair(access, refresh, rememberMe)
	mgr.Start(ctx)
	defer mgr.Stop()

# Storage tiers

Tokens live in exactly one of two tiers. The ephemeral tier (MemoryTier)
is gone when the process exits; the persistent tier (KeyringTier, or
FileTier where there is no OS credential store) survives restarts.
SetTokenPair writes to one tier and empties the other, and a refresh
writes back to whichever tier held the tokens before it.

# Schedulers

The refresh scheduler checks every minute and refreshes once less than
five minutes remain. It never refreshes an expired token: that session is
over and OnLogout receives ReasonExpired.

The warning scheduler checks every 30 seconds. Inside the last two minutes
it calls OnWarning with the time left and moves the single auto-logout
timer to fire at expiry. A successful refresh clears the warning.

# Refresh races

Identity providers rotate refresh tokens, so two refreshes racing with the
same token lose the session. Only one refresh runs at a time; any other
trigger returns ErrRefreshInProgress without a request. A refresh whose
result arrives after the tokens were cleared or replaced is discarded
(ErrSuperseded).

# Errors

Failures from the web service are *APIError, carrying the HTTP status, an
error code, the taxonomy kind (StateMismatch, Expired, ...) and a message
fit for display. UserMessage picks a display message for any error this
package returns.
*/
package authsdk
