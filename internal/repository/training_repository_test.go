package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

var trainingRowColumns = []string{"id", "training_type_id", "title", "max_participants", "active", "apply_policies", "created_at"}

func TestTrainingRepositoryFindByIDAttachesEvents(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTrainingRepository(db)

	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM trainings WHERE id = $1")).
		WithArgs("tr-1").
		WillReturnRows(sqlmock.NewRows(trainingRowColumns).AddRow("tr-1", "bls", "Basic life support", 12, true, true, start))
	mock.ExpectQuery(regexp.QuoteMeta("FROM training_events WHERE training_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "training_id", "starts_at", "ends_at"}).
			AddRow("ev-1", "tr-1", start, start.Add(3*time.Hour)).
			AddRow("ev-2", "tr-1", start.Add(24*time.Hour), start.Add(27*time.Hour)))

	training, err := repo.FindByID(context.Background(), "tr-1")
	require.NoError(t, err)
	require.NotNil(t, training.MaxParticipants)
	assert.Equal(t, 12, *training.MaxParticipants)
	assert.Len(t, training.Events, 2)
	first, ok := training.FirstStart()
	assert.True(t, ok)
	assert.True(t, first.Equal(start))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrainingRepositoryListActiveByType(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTrainingRepository(db)

	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.training_type_id = $1 AND t.active = TRUE")).
		WithArgs("bls").
		WillReturnRows(sqlmock.NewRows(trainingRowColumns).
			AddRow("tr-1", "bls", "Morning", nil, true, true, start).
			AddRow("tr-2", "bls", "Evening", 4, true, false, start))
	mock.ExpectQuery(regexp.QuoteMeta("FROM training_events")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "training_id", "starts_at", "ends_at"}).
			AddRow("ev-2", "tr-2", start, start.Add(time.Hour)).
			AddRow("ev-1", "tr-1", start.Add(time.Hour), start.Add(2*time.Hour)))

	trainings, err := repo.ListActiveByType(context.Background(), "bls")
	require.NoError(t, err)
	require.Len(t, trainings, 2)
	assert.Nil(t, trainings[0].MaxParticipants)
	assert.Equal(t, "ev-1", trainings[0].Events[0].ID)
	assert.Equal(t, "ev-2", trainings[1].Events[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrainingRepositoryListWithWaitlist(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTrainingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT t.id FROM trainings t")).
		WithArgs(models.EnrollmentStatusWaitlist).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tr-1").AddRow("tr-3"))

	ids, err := repo.ListWithWaitlist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tr-1", "tr-3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
