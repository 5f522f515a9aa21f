package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/domain"
	"github.com/aussiebroadwan/litcal/internal/web/store"
)

type pendingLoginsRepo struct {
	s *Store
}

const (
	upsertPendingLogin = `
INSERT INTO pending_logins (session_id, payload, created_at, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET
    payload    = excluded.payload,
    created_at = excluded.created_at,
    expires_at = excluded.expires_at`

	selectPendingLogin = `
SELECT session_id, payload, created_at, expires_at
FROM pending_logins
WHERE session_id = ?`

	deletePendingLogin = `DELETE FROM pending_logins WHERE session_id = ?`

	deleteExpiredPendingLogins = `DELETE FROM pending_logins WHERE expires_at <= ?`
)

func (r *pendingLoginsRepo) SavePendingLogin(ctx context.Context, p domain.PendingLogin) error {
	_, err := r.s.db.ExecContext(ctx, upsertPendingLogin,
		p.SessionID, p.Payload, p.CreatedAt.UnixMilli(), p.ExpiresAt.UnixMilli())
	return mapErr(err)
}

func (r *pendingLoginsRepo) TakePendingLogin(ctx context.Context, sessionID string, now time.Time) (domain.PendingLogin, error) {
	var p domain.PendingLogin
	err := r.s.WithTx(ctx, func(tx *sql.Tx) error {
		var createdAt, expiresAt int64
		err := tx.QueryRowContext(ctx, selectPendingLogin, sessionID).
			Scan(&p.SessionID, &p.Payload, &createdAt, &expiresAt)
		if err != nil {
			return err
		}
		p.CreatedAt = time.UnixMilli(createdAt).UTC()
		p.ExpiresAt = time.UnixMilli(expiresAt).UTC()

		if _, err := tx.ExecContext(ctx, deletePendingLogin, sessionID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.PendingLogin{}, mapErr(err)
	}

	// The row is gone either way; an expired one just doesn't count.
	if p.Expired(now) {
		return domain.PendingLogin{}, store.ErrNotFound
	}
	return p, nil
}

func (r *pendingLoginsRepo) DeleteExpiredPendingLogins(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.s.db.ExecContext(ctx, deleteExpiredPendingLogins, now.UnixMilli())
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}
