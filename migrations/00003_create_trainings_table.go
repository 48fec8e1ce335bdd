package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateTrainings, downCreateTrainings)
}

func upCreateTrainings(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE training_types (
	  id TEXT PRIMARY KEY,
	  name TEXT NOT NULL
	);
	CREATE TABLE trainings (
	  id TEXT PRIMARY KEY,
	  training_type_id TEXT NOT NULL REFERENCES training_types(id),
	  title TEXT NOT NULL,
	  max_participants INTEGER CHECK (max_participants IS NULL OR max_participants >= 0),
	  active BOOLEAN NOT NULL DEFAULT TRUE,
	  apply_policies BOOLEAN NOT NULL DEFAULT TRUE,
	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);
	CREATE INDEX idx_trainings_type_active ON trainings(training_type_id) WHERE active;
	CREATE TABLE training_events (
	  id TEXT PRIMARY KEY,
	  training_id TEXT NOT NULL REFERENCES trainings(id) ON DELETE CASCADE,
	  starts_at TIMESTAMP WITH TIME ZONE NOT NULL,
	  ends_at TIMESTAMP WITH TIME ZONE NOT NULL,
	  CHECK (ends_at >= starts_at)
	);
	CREATE INDEX idx_training_events_training ON training_events(training_id, starts_at);
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateTrainings(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS training_events; DROP TABLE IF EXISTS trainings; DROP TABLE IF EXISTS training_types;`)
	return err
}
