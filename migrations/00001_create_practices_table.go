package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreatePractices, downCreatePractices)
}

func upCreatePractices(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE practices (
	  id TEXT PRIMARY KEY,
	  name TEXT NOT NULL,
	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreatePractices(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS practices;`)
	return err
}
