package index

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/observability"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/database"
)

type entry struct {
	fences   []domain.Geofence
	loadedAt time.Time
}

// GeofenceIndex caches active geofence definitions per account so the
// hot path never pays a database round trip. Misses load through to the
// source of truth with single-flight coordination per account; a refresh
// loop re-reads every cached account on a fixed interval, and external
// change notifications invalidate individual accounts.
type GeofenceIndex struct {
	source          database.GeofenceSource
	refreshInterval time.Duration

	mu      sync.RWMutex
	entries map[string]entry
	sf      singleflight.Group
	log     *zap.Logger
}

func New(source database.GeofenceSource, refreshInterval time.Duration, log *zap.Logger) *GeofenceIndex {
	return &GeofenceIndex{
		source:          source,
		refreshInterval: refreshInterval,
		entries:         make(map[string]entry),
		log:             log.With(zap.String("component", "geofence_index")),
	}
}

// GeofencesFor returns the active fences for an account, loading through
// on a miss or when the cached entry has outlived the refresh interval.
// An account with no fences yields an empty slice, not an error. A source
// failure with nothing cached yields a retryable error so the caller
// holds the sample instead of treating it as fence-less; with a stale
// entry cached, the stale definitions are served instead, same as the
// refresh loop.
func (ix *GeofenceIndex) GeofencesFor(ctx context.Context, accountID string) ([]domain.Geofence, error) {
	ix.mu.RLock()
	e, ok := ix.entries[accountID]
	ix.mu.RUnlock()
	if ok && time.Since(e.loadedAt) < ix.refreshInterval {
		return e.fences, nil
	}

	v, err, _ := ix.sf.Do(accountID, func() (interface{}, error) {
		return ix.load(ctx, accountID)
	})
	if err != nil {
		if ok {
			ix.log.Warn("index reload failed, serving stale entry",
				zap.String("account_id", accountID), zap.Error(err))
			return e.fences, nil
		}
		return nil, domain.Retryable("geofence load", err)
	}
	return v.([]domain.Geofence), nil
}

// Invalidate drops an account's cached fences; the next sample for the
// account loads fresh definitions.
func (ix *GeofenceIndex) Invalidate(accountID string) {
	ix.mu.Lock()
	delete(ix.entries, accountID)
	ix.mu.Unlock()
	ix.log.Debug("index entry invalidated", zap.String("account_id", accountID))
}

// Run refreshes every cached account on the configured interval and
// applies invalidations arriving on the notification channel. Blocks
// until ctx is cancelled.
func (ix *GeofenceIndex) Run(ctx context.Context, invalidations <-chan string) {
	ticker := time.NewTicker(ix.refreshInterval)
	defer ticker.Stop()

	ix.log.Info("index refresh loop started", zap.Duration("interval", ix.refreshInterval))
	for {
		select {
		case <-ctx.Done():
			ix.log.Info("index refresh loop stopped")
			return
		case accountID, ok := <-invalidations:
			if !ok {
				invalidations = nil
				continue
			}
			ix.Invalidate(accountID)
		case <-ticker.C:
			ix.refreshAll(ctx)
		}
	}
}

func (ix *GeofenceIndex) load(ctx context.Context, accountID string) ([]domain.Geofence, error) {
	observability.IndexLoads.Inc()
	fences, err := ix.source.ListActiveGeofences(ctx, accountID)
	if err != nil {
		observability.IndexLoadFailures.Inc()
		return nil, err
	}
	if fences == nil {
		fences = []domain.Geofence{}
	}
	ix.mu.Lock()
	ix.entries[accountID] = entry{fences: fences, loadedAt: time.Now()}
	ix.mu.Unlock()
	return fences, nil
}

func (ix *GeofenceIndex) refreshAll(ctx context.Context) {
	ix.mu.RLock()
	accounts := make([]string, 0, len(ix.entries))
	for id := range ix.entries {
		accounts = append(accounts, id)
	}
	ix.mu.RUnlock()

	for _, id := range accounts {
		if _, err := ix.load(ctx, id); err != nil {
			// Keep serving the stale entry; the next refresh retries.
			ix.log.Warn("index refresh failed", zap.String("account_id", id), zap.Error(err))
		}
	}
}
