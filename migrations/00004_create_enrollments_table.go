package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateEnrollments, downCreateEnrollments)
}

func upCreateEnrollments(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE enrollments (
	  student_id TEXT NOT NULL REFERENCES students(id),
	  training_id TEXT NOT NULL REFERENCES trainings(id) ON DELETE CASCADE,
	  status TEXT NOT NULL CHECK (status IN ('enrolled', 'waitlist', 'waitlist-invited', 'waitlist-invite-expired', 'waitlist-declined')),
	  enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
	  invited_at TIMESTAMP WITH TIME ZONE,
	  paid BOOLEAN NOT NULL DEFAULT FALSE,
	  PRIMARY KEY (student_id, training_id),
	  CHECK (status <> 'waitlist-invited' OR invited_at IS NOT NULL)
	);
	CREATE INDEX idx_enrollments_training_queue ON enrollments(training_id, status, enrolled_at, student_id);
	CREATE INDEX idx_enrollments_invited ON enrollments(invited_at) WHERE status = 'waitlist-invited';
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateEnrollments(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS enrollments;`)
	return err
}
