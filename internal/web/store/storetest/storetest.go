// Package storetest is the behaviour every store driver must share. Driver
// tests call Run with a constructor for a fresh, migrated store.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/domain"
	"github.com/aussiebroadwan/litcal/internal/web/store"
	"github.com/stretchr/testify/require"
)

// Options adjust the suite to a driver.
type Options struct {
	// TTLHousekeeping is set by drivers whose backend expires records on its
	// own, so DeleteExpiredPendingLogins has nothing to count.
	TTLHousekeeping bool
}

// epoch is a whole millisecond: drivers store times at that precision.
var epoch = time.UnixMilli(1_760_000_000_000).UTC()

func login(id string, created time.Time, ttl time.Duration, payload string) domain.PendingLogin {
	return domain.PendingLogin{
		SessionID: id,
		Payload:   []byte(payload),
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
}

// Run exercises a driver. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store, opts Options) {
	t.Run("save and take", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		repo := s.PendingLogins()

		require.NoError(t, repo.SavePendingLogin(ctx, login("sess-1", epoch, 10*time.Minute, "sealed")))

		got, err := repo.TakePendingLogin(ctx, "sess-1", epoch.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, "sess-1", got.SessionID)
		require.Equal(t, []byte("sealed"), got.Payload)
		require.True(t, got.CreatedAt.Equal(epoch))
		require.True(t, got.ExpiresAt.Equal(epoch.Add(10*time.Minute)))

		_, err = repo.TakePendingLogin(ctx, "sess-1", epoch.Add(time.Minute))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unknown session", func(t *testing.T) {
		s := newStore(t)
		_, err := s.PendingLogins().TakePendingLogin(context.Background(), "nobody", epoch)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("save replaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		repo := s.PendingLogins()

		require.NoError(t, repo.SavePendingLogin(ctx, login("sess-1", epoch, 10*time.Minute, "first")))
		require.NoError(t, repo.SavePendingLogin(ctx, login("sess-1", epoch.Add(time.Second), 10*time.Minute, "second")))

		got, err := repo.TakePendingLogin(ctx, "sess-1", epoch.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, []byte("second"), got.Payload)
	})

	t.Run("expired is not found and gone", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		repo := s.PendingLogins()

		require.NoError(t, repo.SavePendingLogin(ctx, login("sess-1", epoch, time.Minute, "old")))

		_, err := repo.TakePendingLogin(ctx, "sess-1", epoch.Add(time.Minute))
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = repo.TakePendingLogin(ctx, "sess-1", epoch)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("sessions are independent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		repo := s.PendingLogins()

		require.NoError(t, repo.SavePendingLogin(ctx, login("a", epoch, time.Hour, "a")))
		require.NoError(t, repo.SavePendingLogin(ctx, login("b", epoch, time.Hour, "b")))

		got, err := repo.TakePendingLogin(ctx, "b", epoch)
		require.NoError(t, err)
		require.Equal(t, []byte("b"), got.Payload)

		got, err = repo.TakePendingLogin(ctx, "a", epoch)
		require.NoError(t, err)
		require.Equal(t, []byte("a"), got.Payload)
	})

	t.Run("concurrent take redeems once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		repo := s.PendingLogins()

		require.NoError(t, repo.SavePendingLogin(ctx, login("sess-1", epoch, time.Hour, "once")))

		const racers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range racers {
			wg.Go(func() {
				if _, err := repo.TakePendingLogin(ctx, "sess-1", epoch); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			})
		}
		wg.Wait()
		require.Equal(t, 1, wins)
	})

	t.Run("delete expired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		repo := s.PendingLogins()

		require.NoError(t, repo.SavePendingLogin(ctx, login("old-1", epoch, time.Minute, "x")))
		require.NoError(t, repo.SavePendingLogin(ctx, login("old-2", epoch, 2*time.Minute, "x")))
		require.NoError(t, repo.SavePendingLogin(ctx, login("fresh", epoch, time.Hour, "x")))

		n, err := repo.DeleteExpiredPendingLogins(ctx, epoch.Add(5*time.Minute))
		require.NoError(t, err)
		if !opts.TTLHousekeeping {
			require.EqualValues(t, 2, n)
		}

		_, err = repo.TakePendingLogin(ctx, "fresh", epoch.Add(5*time.Minute))
		require.NoError(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(context.Background()))
	})
}
