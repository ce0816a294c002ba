package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/cache"
)

var _ cache.StateCache = (*StateCache)(nil)

// StateCache keeps containment states in Redis as JSON values under
// state:<device>:<geofence>. Every read and write refreshes the idle TTL,
// so only pairs that go quiet expire.
type StateCache struct {
	rdb     *redis.Client
	idleTTL time.Duration
}

func NewStateCache(rdb *redis.Client, idleTTL time.Duration) *StateCache {
	return &StateCache{rdb: rdb, idleTTL: idleTTL}
}

func (c *StateCache) Get(ctx context.Context, deviceID, geofenceID string) (*domain.ContainmentState, error) {
	key := stateKey(deviceID, geofenceID)
	raw, err := c.rdb.GetEx(ctx, key, c.idleTTL).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var st domain.ContainmentState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode cached state %s: %w", key, err)
	}
	return &st, nil
}

func (c *StateCache) Set(ctx context.Context, deviceID, geofenceID string, st *domain.ContainmentState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	key := stateKey(deviceID, geofenceID)
	if err := c.rdb.Set(ctx, key, raw, c.idleTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func stateKey(deviceID, geofenceID string) string {
	return "state:" + deviceID + ":" + geofenceID
}
