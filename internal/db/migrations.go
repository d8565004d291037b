package db

import (
	"fmt"

	"gorm.io/gorm"
)

var postgresMigrations = []string{
	// Реестр автомобилей, которым разрешён въезд
	`CREATE TABLE IF NOT EXISTS vehicles (
		number_plate    TEXT PRIMARY KEY,
		owner_name      TEXT NOT NULL,
		vehicle_type    TEXT NOT NULL,
		allowed         BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,

	// Таблица мест: number_plate IS NULL означает свободное место
	`CREATE TABLE IF NOT EXISTS parking_slots (
		slot_number     INTEGER PRIMARY KEY,
		number_plate    TEXT,
		assigned_at     TIMESTAMPTZ
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_slots_number_plate ON parking_slots(number_plate) WHERE number_plate IS NOT NULL;`,

	`CREATE TABLE IF NOT EXISTS gate_events (
		id               UUID PRIMARY KEY,
		camera_id        TEXT NOT NULL,
		source           TEXT,
		raw_plate        TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		confidence       NUMERIC(5,2),
		direction        TEXT,
		decision         TEXT NOT NULL,
		slot_number      INTEGER,
		owner_name       TEXT,
		snapshot_url     TEXT,
		raw_payload      JSONB,
		event_time       TIMESTAMPTZ NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_normalized_plate_time ON gate_events(normalized_plate, event_time DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_event_time ON gate_events(event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_decision ON gate_events(decision);`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		number_plate    TEXT PRIMARY KEY,
		owner_name      TEXT NOT NULL,
		vehicle_type    TEXT NOT NULL,
		allowed         BOOLEAN NOT NULL DEFAULT 1 CHECK (allowed IN (0, 1)),
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,

	`CREATE TABLE IF NOT EXISTS parking_slots (
		slot_number     INTEGER PRIMARY KEY,
		number_plate    TEXT,
		assigned_at     DATETIME
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_slots_number_plate ON parking_slots(number_plate) WHERE number_plate IS NOT NULL;`,

	`CREATE TABLE IF NOT EXISTS gate_events (
		id               TEXT PRIMARY KEY,
		camera_id        TEXT NOT NULL,
		source           TEXT,
		raw_plate        TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		confidence       REAL,
		direction        TEXT,
		decision         TEXT NOT NULL,
		slot_number      INTEGER,
		owner_name       TEXT,
		snapshot_url     TEXT,
		raw_payload      TEXT,
		event_time       DATETIME NOT NULL,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_normalized_plate_time ON gate_events(normalized_plate, event_time DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_event_time ON gate_events(event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_decision ON gate_events(decision);`,
}

func runMigrations(db *gorm.DB, driver string) error {
	statements := sqliteMigrations
	if driver == DriverPostgres {
		statements = postgresMigrations
	}
	for i, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
