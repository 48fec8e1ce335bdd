package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateStudents, downCreateStudents)
}

func upCreateStudents(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE students (
	  id TEXT PRIMARY KEY,
	  user_id TEXT NOT NULL UNIQUE,
	  practice_id TEXT NOT NULL REFERENCES practices(id),
	  full_name TEXT NOT NULL,
	  email TEXT NOT NULL,
	  active BOOLEAN NOT NULL DEFAULT TRUE,
	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);
	CREATE INDEX idx_students_practice ON students(practice_id);
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateStudents(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS students;`)
	return err
}
