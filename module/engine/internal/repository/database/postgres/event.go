package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/database"
)

var _ database.EventLog = (*EventLogRepo)(nil)

// EventLogRepo is the durable transition log. The deterministic event id
// is the primary key, so replaying a transition is a no-op insert.
type EventLogRepo struct {
	db *sql.DB
}

func NewEventLogRepo(db *sql.DB) *EventLogRepo {
	return &EventLogRepo{db: db}
}

func (r *EventLogRepo) Insert(ctx context.Context, ev *domain.GeofenceEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO geofence_events (id, device_id, geofence_id, account_id, event_type, latitude, longitude, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.DeviceID, ev.GeofenceID, ev.AccountID, string(ev.Type), ev.Point.Lat, ev.Point.Lon, ev.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert geofence event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert geofence event: rows affected: %w", err)
	}
	return n > 0, nil
}

// RecentByDevice returns the newest events for a device, for operator
// introspection.
func (r *EventLogRepo) RecentByDevice(ctx context.Context, deviceID string, limit int) ([]domain.GeofenceEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, geofence_id, account_id, event_type, latitude, longitude, occurred_at
		 FROM geofence_events
		 WHERE device_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.GeofenceEvent
	for rows.Next() {
		var (
			ev        domain.GeofenceEvent
			eventType string
		)
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &ev.GeofenceID, &ev.AccountID, &eventType, &ev.Point.Lat, &ev.Point.Lon, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.EventType(eventType)
		out = append(out, ev)
	}
	return out, rows.Err()
}
