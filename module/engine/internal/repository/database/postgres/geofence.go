package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/observability"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/database"
)

var _ database.GeofenceSource = (*GeofenceRepo)(nil)

// GeofenceRepo reads active geofence definitions from the CRUD system's
// table. Fences with malformed geometry are skipped with a warning so one
// bad row cannot blind the whole account.
type GeofenceRepo struct {
	db  *sql.DB
	log *zap.Logger
}

func NewGeofenceRepo(db *sql.DB, log *zap.Logger) *GeofenceRepo {
	return &GeofenceRepo{db: db, log: log.With(zap.String("component", "geofence_repo"))}
}

func (r *GeofenceRepo) ListActiveGeofences(ctx context.Context, accountID string) ([]domain.Geofence, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, kind, center_lat, center_lon, radius_m, geometry, dwell_seconds
		 FROM geofences
		 WHERE account_id = $1 AND active = TRUE
		 ORDER BY id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active geofences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fences []domain.Geofence
	for rows.Next() {
		var (
			gf        domain.Geofence
			kind      string
			centerLat sql.NullFloat64
			centerLon sql.NullFloat64
			radius    sql.NullFloat64
			geometry  []byte
			dwellSecs sql.NullInt64
		)
		if err := rows.Scan(&gf.ID, &gf.AccountID, &kind, &centerLat, &centerLon, &radius, &geometry, &dwellSecs); err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		gf.Kind = domain.GeofenceKind(kind)
		gf.Center = domain.GeoPoint{Lat: centerLat.Float64, Lon: centerLon.Float64}
		gf.RadiusMeters = radius.Float64
		gf.Active = true
		if dwellSecs.Valid && dwellSecs.Int64 > 0 {
			gf.DwellThreshold = time.Duration(dwellSecs.Int64) * time.Second
		}

		if err := r.decode(&gf, geometry); err != nil {
			observability.FencesSkipped.Inc()
			r.log.Warn("skipping geofence with malformed geometry",
				zap.String("geofence_id", gf.ID),
				zap.String("account_id", accountID),
				zap.Error(err),
			)
			continue
		}
		fences = append(fences, gf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate geofences: %w", err)
	}
	return fences, nil
}

func (r *GeofenceRepo) decode(gf *domain.Geofence, geometry []byte) error {
	switch gf.Kind {
	case domain.KindPolygon, domain.KindMultiPolygon:
		if len(geometry) == 0 {
			return domain.MalformedGeometry(gf.ID, fmt.Errorf("missing geometry column"))
		}
		if err := gf.DecodeGeometry(geometry); err != nil {
			return err
		}
	}
	return gf.Validate()
}
