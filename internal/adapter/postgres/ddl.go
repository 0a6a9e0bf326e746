package postgres

import (
	"context"
	"fmt"
)

// directDDL creates the direct-schema tables. Rainfall is numeric; legacy
// deployments with a boolean column keep their existing table.
var directDDL = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_key  INTEGER PRIMARY KEY,
		meeting_key  INTEGER,
		name         TEXT,
		date         TIMESTAMPTZ,
		circuit      TEXT,
		type         TEXT,
		location     TEXT,
		country_name TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS drivers (
		driver_number  INTEGER PRIMARY KEY,
		name           TEXT,
		team           TEXT,
		country_code   TEXT,
		team_color     TEXT,
		first_name     TEXT,
		last_name      TEXT,
		short_name     TEXT,
		broadcast_name TEXT,
		headshot_url   TEXT,
		updated_at     TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS lap_data (
		id            BIGSERIAL PRIMARY KEY,
		driver_number INTEGER NOT NULL,
		lap_number    INTEGER NOT NULL,
		lap_time      DOUBLE PRECISION,
		sector_1      DOUBLE PRECISION,
		sector_2      DOUBLE PRECISION,
		sector_3      DOUBLE PRECISION,
		speed_trap    INTEGER,
		timestamp     TIMESTAMPTZ NOT NULL,
		UNIQUE (driver_number, lap_number)
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id            BIGSERIAL PRIMARY KEY,
		driver_number INTEGER NOT NULL,
		position      INTEGER NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry (
		id            BIGSERIAL PRIMARY KEY,
		driver_number INTEGER NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL,
		speed         INTEGER,
		rpm           INTEGER,
		gear          INTEGER,
		throttle      INTEGER,
		brake         INTEGER,
		drs           INTEGER,
		x             DOUBLE PRECISION,
		y             DOUBLE PRECISION,
		z             DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS race_control (
		id            BIGSERIAL PRIMARY KEY,
		timestamp     TIMESTAMPTZ NOT NULL,
		message       TEXT NOT NULL,
		category      TEXT,
		flag          TEXT,
		driver_number INTEGER,
		scope         TEXT,
		sector        INTEGER,
		lap_number    INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS weather (
		id             BIGSERIAL PRIMARY KEY,
		timestamp      TIMESTAMPTZ NOT NULL,
		air_temp       DOUBLE PRECISION,
		track_temp     DOUBLE PRECISION,
		humidity       DOUBLE PRECISION,
		pressure       DOUBLE PRECISION,
		wind_speed     DOUBLE PRECISION,
		wind_direction INTEGER,
		rainfall       DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_driver_ts ON positions (driver_number, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_driver_ts ON telemetry (driver_number, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_lap_data_driver ON lap_data (driver_number)`,
}

// CreateDirectTables creates the direct-schema tables and indexes if they
// do not exist. The hosted schema is managed outside the service.
func CreateDirectTables(ctx context.Context, db Execer) error {
	for _, stmt := range directDDL {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create direct tables: %w", err)
		}
	}
	return nil
}
