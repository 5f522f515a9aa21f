package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/domain"
	"github.com/aussiebroadwan/litcal/internal/web/store"
	"github.com/aussiebroadwan/litcal/pkg/cryptox"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
)

// PendingKeyPurpose is the key derivation label for sealing pending logins.
const PendingKeyPurpose = "litcal/web/pending-login/v1"

// PendingStore adapts a store.Store to oidcx.PendingStore. The code
// verifier, state and nonce are sealed before they reach the backend, bound
// to the session id so a record can't be replayed under another session.
type PendingStore struct {
	Store  store.Store
	TTL    time.Duration
	Now    func() time.Time
	sealer *cryptox.Sealer
}

var _ oidcx.PendingStore = (*PendingStore)(nil)

// NewPendingStore derives the sealing key from the server secret.
func NewPendingStore(s store.Store, secret []byte, ttl time.Duration) (*PendingStore, error) {
	key, err := cryptox.SubKey(secret, PendingKeyPurpose)
	if err != nil {
		return nil, err
	}
	sealer, err := cryptox.NewSealer(key)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = oidcx.DefaultPendingTTL
	}
	return &PendingStore{Store: s, TTL: ttl, Now: time.Now, sealer: sealer}, nil
}

func (p *PendingStore) Save(ctx context.Context, sessionID string, req oidcx.AuthRequest) error {
	plain, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode pending login: %w", err)
	}
	sealed, err := p.sealer.Seal(plain, []byte(sessionID))
	if err != nil {
		return err
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = p.Now().UTC()
	}
	return p.Store.PendingLogins().SavePendingLogin(ctx, domain.PendingLogin{
		SessionID: sessionID,
		Payload:   sealed,
		CreatedAt: created,
		ExpiresAt: created.Add(p.TTL),
	})
}

func (p *PendingStore) Take(ctx context.Context, sessionID string) (oidcx.AuthRequest, error) {
	rec, err := p.Store.PendingLogins().TakePendingLogin(ctx, sessionID, p.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return oidcx.AuthRequest{}, oidcx.ErrMissingVerifier
	}
	if err != nil {
		return oidcx.AuthRequest{}, fmt.Errorf("take pending login: %w", err)
	}

	plain, err := p.sealer.Open(rec.Payload, []byte(sessionID))
	if err != nil {
		// Sealed under another secret (rotated) or tampered with.
		return oidcx.AuthRequest{}, fmt.Errorf("%w: %w", oidcx.ErrMissingVerifier, err)
	}

	var req oidcx.AuthRequest
	if err := json.Unmarshal(plain, &req); err != nil {
		return oidcx.AuthRequest{}, fmt.Errorf("%w: decode: %w", oidcx.ErrMissingVerifier, err)
	}
	return req, nil
}
