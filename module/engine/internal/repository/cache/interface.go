package cache

import (
	"context"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

// StateCache is the fast, evictable tier in front of the durable state
// table. A miss is (nil, nil); eviction is always safe because the
// durable row is written before or alongside cache population.
type StateCache interface {
	Get(ctx context.Context, deviceID, geofenceID string) (*domain.ContainmentState, error)
	Set(ctx context.Context, deviceID, geofenceID string, st *domain.ContainmentState) error
}
