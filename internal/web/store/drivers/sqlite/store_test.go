package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/domain"
	"github.com/aussiebroadwan/litcal/internal/web/store"
	"github.com/aussiebroadwan/litcal/internal/web/store/drivers/sqlite"
	"github.com/aussiebroadwan/litcal/internal/web/store/storetest"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, newStore, storetest.Options{})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.ApplyMigrations())
}

func TestPendingLoginSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.db")
	now := time.UnixMilli(1_760_000_000_000).UTC()

	s, err := sqlite.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.PendingLogins().SavePendingLogin(context.Background(), domain.PendingLogin{
		SessionID: "sess-1",
		Payload:   []byte("sealed"),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.Close())

	s, err = sqlite.NewStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.ApplyMigrations())

	got, err := s.PendingLogins().TakePendingLogin(context.Background(), "sess-1", now)
	require.NoError(t, err)
	require.Equal(t, []byte("sealed"), got.Payload)
}
