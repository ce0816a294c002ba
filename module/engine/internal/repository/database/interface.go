package database

import (
	"context"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

// GeofenceSource reads the geofence system of record owned by the
// external CRUD system. The engine never writes it.
type GeofenceSource interface {
	ListActiveGeofences(ctx context.Context, accountID string) ([]domain.Geofence, error)
}

// StateRepository is the durable containment-state table, one row per
// (device, geofence) pair.
type StateRepository interface {
	// Get returns (nil, nil) for a pair that has never been evaluated.
	Get(ctx context.Context, deviceID, geofenceID string) (*domain.ContainmentState, error)
	Upsert(ctx context.Context, deviceID, geofenceID string, st *domain.ContainmentState) error
	// ListByDevice returns all tracked states for one device, keyed by
	// geofence id. Operator introspection only.
	ListByDevice(ctx context.Context, deviceID string) (map[string]*domain.ContainmentState, error)
}

// EventLog is the durable, append-only transition record. Insert reports
// whether the row was new; a duplicate deterministic id is a no-op.
type EventLog interface {
	Insert(ctx context.Context, ev *domain.GeofenceEvent) (bool, error)
}
