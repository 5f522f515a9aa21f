package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/metrics"
	"github.com/aussiebroadwan/litcal/internal/web/store"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
)

// HousekeepingService periodically deletes pending logins that were never
// completed and refreshes the provider signing keys ahead of need.
type HousekeepingService struct {
	Store    store.Store
	Keys     *oidcx.KeyCache
	Metrics  metrics.Recorder
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	// Internal channels for lifecycle management
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// NewHousekeepingService creates a new housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 5 minutes. keys may be
// nil.
func NewHousekeepingService(s store.Store, keys *oidcx.KeyCache, rec metrics.Recorder, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if rec == nil {
		rec = metrics.NewNoopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:    s,
		Keys:     keys,
		Metrics:  rec,
		Logger:   logger,
		Interval: interval,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts down the background worker, waiting for any in-progress run.
// It is a no-op if Start was never called.
func (s *HousekeepingService) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs one pass. Each task is independent; a failure in one
// doesn't stop the other.
func (s *HousekeepingService) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Interval)
	defer cancel()

	n, err := s.Store.PendingLogins().DeleteExpiredPendingLogins(ctx, s.Now().UTC())
	if err != nil {
		s.Logger.Error("failed to delete expired pending logins", "error", err)
	} else {
		s.Metrics.RecordPendingLoginsExpired(n)
		s.Logger.Debug("deleted expired pending logins", "count", n)
	}

	if s.Keys != nil {
		if err := s.Keys.Warm(ctx); err != nil {
			s.Logger.Warn("failed to refresh provider signing keys", "error", err, "kind", oidcx.Kind(err))
		} else {
			s.Logger.Debug("provider signing keys refreshed", "kids", s.Keys.KIDs())
		}
	}
}
