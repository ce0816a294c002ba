package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/database"
)

var _ database.StateRepository = (*StateRepo)(nil)

// StateRepo persists containment states, one row per (device, geofence)
// pair with a unique constraint on the pair.
type StateRepo struct {
	db *sql.DB
}

func NewStateRepo(db *sql.DB) *StateRepo {
	return &StateRepo{db: db}
}

func (r *StateRepo) Get(ctx context.Context, deviceID, geofenceID string) (*domain.ContainmentState, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT status, entered_at, last_sample_at, last_event
		 FROM containment_states
		 WHERE device_id = $1 AND geofence_id = $2`,
		deviceID, geofenceID,
	)

	var (
		st        domain.ContainmentState
		status    string
		enteredAt sql.NullTime
		lastEvent sql.NullString
	)
	if err := row.Scan(&status, &enteredAt, &st.LastSampleAt, &lastEvent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get containment state: %w", err)
	}
	st.Status = domain.ContainmentStatus(status)
	if enteredAt.Valid {
		t := enteredAt.Time
		st.EnteredAt = &t
	}
	if lastEvent.Valid {
		st.LastEvent = domain.EventType(lastEvent.String)
	}
	return &st, nil
}

func (r *StateRepo) Upsert(ctx context.Context, deviceID, geofenceID string, st *domain.ContainmentState) error {
	var enteredAt sql.NullTime
	if st.EnteredAt != nil {
		enteredAt = sql.NullTime{Time: *st.EnteredAt, Valid: true}
	}
	var lastEvent sql.NullString
	if st.LastEvent != "" {
		lastEvent = sql.NullString{String: string(st.LastEvent), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO containment_states (device_id, geofence_id, status, entered_at, last_sample_at, last_event)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (device_id, geofence_id)
		 DO UPDATE SET status = $3, entered_at = $4, last_sample_at = $5, last_event = $6`,
		deviceID, geofenceID, string(st.Status), enteredAt, st.LastSampleAt, lastEvent,
	)
	if err != nil {
		return fmt.Errorf("upsert containment state: %w", err)
	}
	return nil
}

func (r *StateRepo) ListByDevice(ctx context.Context, deviceID string) (map[string]*domain.ContainmentState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT geofence_id, status, entered_at, last_sample_at, last_event
		 FROM containment_states
		 WHERE device_id = $1
		 ORDER BY geofence_id`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list containment states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*domain.ContainmentState)
	for rows.Next() {
		var (
			geofenceID string
			st         domain.ContainmentState
			status     string
			enteredAt  sql.NullTime
			lastEvent  sql.NullString
		)
		if err := rows.Scan(&geofenceID, &status, &enteredAt, &st.LastSampleAt, &lastEvent); err != nil {
			return nil, fmt.Errorf("scan containment state: %w", err)
		}
		st.Status = domain.ContainmentStatus(status)
		if enteredAt.Valid {
			t := enteredAt.Time
			st.EnteredAt = &t
		}
		if lastEvent.Valid {
			st.LastEvent = domain.EventType(lastEvent.String)
		}
		out[geofenceID] = &st
	}
	return out, rows.Err()
}
