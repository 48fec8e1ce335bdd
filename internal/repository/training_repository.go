package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

const trainingColumns = `id, training_type_id, title, max_participants, active, apply_policies, created_at`

// TrainingRepository reads trainings and their scheduled events.
type TrainingRepository struct {
	db *sqlx.DB
}

// NewTrainingRepository constructs the repository.
func NewTrainingRepository(db *sqlx.DB) *TrainingRepository {
	return &TrainingRepository{db: db}
}

// FindByID returns a training with its events ordered by start.
func (r *TrainingRepository) FindByID(ctx context.Context, id string) (*models.Training, error) {
	return getTraining(ctx, r.db, id)
}

// ListActiveByType returns active trainings of a type that have at least one event.
func (r *TrainingRepository) ListActiveByType(ctx context.Context, trainingTypeID string) ([]models.Training, error) {
	query := `SELECT ` + trainingColumns + ` FROM trainings t
        WHERE t.training_type_id = $1 AND t.active = TRUE
        AND EXISTS (SELECT 1 FROM training_events ev WHERE ev.training_id = t.id)
        ORDER BY t.created_at`
	var trainings []models.Training
	if err := sqlx.SelectContext(ctx, r.db, &trainings, query, trainingTypeID); err != nil {
		return nil, fmt.Errorf("list trainings by type: %w", err)
	}
	if err := attachEvents(ctx, r.db, trainings); err != nil {
		return nil, err
	}
	return trainings, nil
}

// ListWithWaitlist returns ids of active trainings that currently have waitlisted entries.
func (r *TrainingRepository) ListWithWaitlist(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT t.id FROM trainings t
        JOIN enrollments e ON e.training_id = t.id
        WHERE t.active = TRUE AND e.status = $1
        ORDER BY t.id`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, models.EnrollmentStatusWaitlist); err != nil {
		return nil, fmt.Errorf("list trainings with waitlist: %w", err)
	}
	return ids, nil
}

func getTraining(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Training, error) {
	query := `SELECT ` + trainingColumns + ` FROM trainings WHERE id = $1`
	var training models.Training
	if err := sqlx.GetContext(ctx, q, &training, query, id); err != nil {
		return nil, err
	}
	trainings := []models.Training{training}
	if err := attachEvents(ctx, q, trainings); err != nil {
		return nil, err
	}
	return &trainings[0], nil
}

func attachEvents(ctx context.Context, q sqlx.QueryerContext, trainings []models.Training) error {
	if len(trainings) == 0 {
		return nil
	}
	ids := make([]string, len(trainings))
	index := make(map[string]int, len(trainings))
	for i, t := range trainings {
		ids[i] = t.ID
		index[t.ID] = i
	}
	const query = `SELECT id, training_id, starts_at, ends_at FROM training_events WHERE training_id = ANY($1) ORDER BY starts_at, id`
	var events []models.TrainingEvent
	if err := sqlx.SelectContext(ctx, q, &events, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list training events: %w", err)
	}
	for _, ev := range events {
		if i, ok := index[ev.TrainingID]; ok {
			trainings[i].Events = append(trainings[i].Events, ev)
		}
	}
	return nil
}
