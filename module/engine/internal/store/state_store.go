package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/observability"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/cache"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/database"
)

// Config bounds the durable-write retry loop.
type Config struct {
	PersistAttempts int
	PersistBackoff  time.Duration
}

// StateStore layers the Redis fast cache over the durable state table.
// Reads try the cache first, then the table; a miss in both means the
// pair has never been evaluated.
// Writes go cache-first so the owning partition worker always sees its
// own latest state, then persist with bounded retries; exhausting the
// retries is downgraded to a durability-risk metric rather than an error,
// because the in-memory view stays correct for the life of the process.
type StateStore struct {
	cache cache.StateCache
	repo  database.StateRepository
	cfg   Config
	log   *zap.Logger
}

func New(c cache.StateCache, repo database.StateRepository, cfg Config, log *zap.Logger) *StateStore {
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = 3
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 100 * time.Millisecond
	}
	return &StateStore{
		cache: c,
		repo:  repo,
		cfg:   cfg,
		log:   log.With(zap.String("component", "state_store")),
	}
}

func (s *StateStore) Load(ctx context.Context, deviceID, geofenceID string) (*domain.ContainmentState, error) {
	st, err := s.cache.Get(ctx, deviceID, geofenceID)
	if err != nil {
		// A broken cache read degrades to a table read.
		s.log.Warn("state cache read failed", zap.String("device_id", deviceID), zap.Error(err))
	} else if st != nil {
		return st, nil
	}

	st, err = s.repo.Get(ctx, deviceID, geofenceID)
	if err != nil {
		return nil, domain.Retryable("state load", err)
	}
	if st == nil {
		return nil, nil
	}

	if err := s.cache.Set(ctx, deviceID, geofenceID, st); err != nil {
		s.log.Warn("state cache prime failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	return st, nil
}

func (s *StateStore) Save(ctx context.Context, deviceID, geofenceID string, st *domain.ContainmentState) error {
	if err := s.cache.Set(ctx, deviceID, geofenceID, st); err != nil {
		s.log.Warn("state cache write failed", zap.String("device_id", deviceID), zap.Error(err))
	}

	backoff := s.cfg.PersistBackoff
	var lastErr error
	for attempt := 1; attempt <= s.cfg.PersistAttempts; attempt++ {
		lastErr = s.repo.Upsert(ctx, deviceID, geofenceID, st)
		if lastErr == nil {
			return nil
		}
		if attempt < s.cfg.PersistAttempts {
			select {
			case <-ctx.Done():
				return domain.Retryable("state persist", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	observability.DurabilityRisk.Inc()
	s.log.Error("state persist exhausted retries, continuing on in-memory state",
		zap.String("device_id", deviceID),
		zap.String("geofence_id", geofenceID),
		zap.Int("attempts", s.cfg.PersistAttempts),
		zap.Error(lastErr),
	)
	return nil
}
