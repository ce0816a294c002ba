package config

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// NewPostgres opens the connection pool backing the state table, the
// event log and the geofence reads. Pool sizing is capped explicitly:
// every partition worker can hold a connection during a state persist,
// so the open-connection ceiling bounds how hard a retry storm can lean
// on the database.
func NewPostgres(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.PGMaxOpenConns)
	db.SetMaxIdleConns(cfg.PGMaxIdleConns)
	db.SetConnMaxLifetime(cfg.PGConnLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
