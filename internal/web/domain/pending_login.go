package domain

import "time"

// PendingLogin is one login attempt parked between the redirect to the
// identity provider and the callback. Payload is opaque to the store; the
// login service seals the verifier, state and nonce into it.
type PendingLogin struct {
	SessionID string
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the attempt can no longer complete.
func (p PendingLogin) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
