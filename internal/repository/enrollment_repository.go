package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

const enrollmentColumns = `student_id, training_id, status, enrolled_at, invited_at, paid`

// EnrollmentStore is the transaction-scoped view of a locked training and its enrollments.
type EnrollmentStore interface {
	GetTraining(ctx context.Context, id string) (*models.Training, error)
	ListByTraining(ctx context.Context, trainingID string) ([]models.Enrollment, error)
	Find(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error)
	Insert(ctx context.Context, enrollment *models.Enrollment) error
	Update(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, trainingID, studentID string) error
	BookingDates(ctx context.Context, studentID, trainingTypeID string) ([]time.Time, error)
	// LockStudent row-locks the participant until the transaction ends, serialising
	// enrollments of one student across trainings.
	LockStudent(ctx context.Context, studentID string) error
}

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// WithTrainingLock runs fn in a transaction holding row locks on the given trainings.
// Locks are taken in id order so concurrent multi-training operations cannot deadlock.
func (r *EnrollmentRepository) WithTrainingLock(ctx context.Context, trainingIDs []string, fn func(store EnrollmentStore) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ids := uniqueSorted(trainingIDs)
	const lockQuery = `SELECT id FROM trainings WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	var locked []string
	if err = tx.SelectContext(ctx, &locked, lockQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("lock trainings: %w", err)
	}

	if err = fn(&enrollmentQueries{q: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment transaction: %w", err)
	}
	return nil
}

// ListByTraining returns all enrollments of a training outside of any lock.
func (r *EnrollmentRepository) ListByTraining(ctx context.Context, trainingID string) ([]models.Enrollment, error) {
	return (&enrollmentQueries{q: r.db}).ListByTraining(ctx, trainingID)
}

// BookingDates returns the participant's confirmed booking dates for a training type.
func (r *EnrollmentRepository) BookingDates(ctx context.Context, studentID, trainingTypeID string) ([]time.Time, error) {
	return (&enrollmentQueries{q: r.db}).BookingDates(ctx, studentID, trainingTypeID)
}

// List returns enrollments of a training with student details and paging.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	where := sq.And{sq.Eq{"e.training_id": filter.TrainingID}}
	if filter.Status != "" {
		where = append(where, sq.Eq{"e.status": filter.Status})
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.full_name",
		"status":       "e.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query, args, err := r.builder.
		Select("e.student_id", "e.training_id", "e.status", "e.enrolled_at", "e.invited_at", "e.paid",
			"s.full_name AS student_name", "s.email AS student_email", "s.user_id", "s.practice_id").
		From("enrollments e").
		Join("students s ON s.id = e.student_id").
		Where(where).
		OrderBy(orderBy+" "+order, "e.student_id ASC").
		Limit(uint64(size)).
		Offset(uint64((page - 1) * size)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list enrollments query: %w", err)
	}
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery, countArgs, err := r.builder.Select("COUNT(*)").From("enrollments e").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count enrollments query: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ListDetailByTraining returns every enrollment of a training with student details, FIFO ordered.
func (r *EnrollmentRepository) ListDetailByTraining(ctx context.Context, trainingID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.student_id, e.training_id, e.status, e.enrolled_at, e.invited_at, e.paid,
        s.full_name AS student_name, s.email AS student_email, s.user_id, s.practice_id
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        WHERE e.training_id = $1
        ORDER BY e.enrolled_at, e.student_id`
	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, trainingID); err != nil {
		return nil, fmt.Errorf("list enrollment details: %w", err)
	}
	return details, nil
}

// ListExpiredInvitations returns invitations issued before the cutoff.
func (r *EnrollmentRepository) ListExpiredInvitations(ctx context.Context, cutoff time.Time) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
        WHERE status = $1 AND invited_at IS NOT NULL AND invited_at < $2
        ORDER BY training_id, invited_at`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, models.EnrollmentStatusWaitlistInvited, cutoff); err != nil {
		return nil, fmt.Errorf("list expired invitations: %w", err)
	}
	return enrollments, nil
}

type enrollmentQueries struct {
	q sqlx.ExtContext
}

func (s *enrollmentQueries) GetTraining(ctx context.Context, id string) (*models.Training, error) {
	return getTraining(ctx, s.q, id)
}

func (s *enrollmentQueries) ListByTraining(ctx context.Context, trainingID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE training_id = $1 ORDER BY enrolled_at, student_id`
	var enrollments []models.Enrollment
	if err := sqlx.SelectContext(ctx, s.q, &enrollments, query, trainingID); err != nil {
		return nil, fmt.Errorf("list training enrollments: %w", err)
	}
	return enrollments, nil
}

func (s *enrollmentQueries) Find(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE training_id = $1 AND student_id = $2`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, s.q, &enrollment, query, trainingID, studentID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (s *enrollmentQueries) Insert(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (student_id, training_id, status, enrolled_at, invited_at, paid)
        VALUES (:student_id, :training_id, :status, :enrolled_at, :invited_at, :paid)`
	if _, err := sqlx.NamedExecContext(ctx, s.q, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

func (s *enrollmentQueries) Update(ctx context.Context, enrollment *models.Enrollment) error {
	const query = `UPDATE enrollments SET status = $3, enrolled_at = $4, invited_at = $5, paid = $6
        WHERE training_id = $1 AND student_id = $2`
	res, err := s.q.ExecContext(ctx, query, enrollment.TrainingID, enrollment.StudentID, enrollment.Status,
		enrollment.EnrolledAt, enrollment.InvitedAt, enrollment.Paid)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	return requireAffected(res)
}

func (s *enrollmentQueries) Delete(ctx context.Context, trainingID, studentID string) error {
	const query = `DELETE FROM enrollments WHERE training_id = $1 AND student_id = $2`
	res, err := s.q.ExecContext(ctx, query, trainingID, studentID)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return requireAffected(res)
}

// BookingDates uses the first event of each active training of the type the student is enrolled in.
func (s *enrollmentQueries) BookingDates(ctx context.Context, studentID, trainingTypeID string) ([]time.Time, error) {
	const query = `SELECT MIN(ev.starts_at) AS first_start
        FROM enrollments e
        JOIN trainings t ON t.id = e.training_id
        JOIN training_events ev ON ev.training_id = t.id
        WHERE e.student_id = $1 AND t.training_type_id = $2 AND t.active = TRUE AND e.status = $3
        GROUP BY t.id
        ORDER BY first_start`
	var dates []time.Time
	if err := sqlx.SelectContext(ctx, s.q, &dates, query, studentID, trainingTypeID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("list booking dates: %w", err)
	}
	return dates, nil
}

func (s *enrollmentQueries) LockStudent(ctx context.Context, studentID string) error {
	const query = `SELECT id FROM students WHERE id = $1 FOR UPDATE`
	var id string
	if err := sqlx.GetContext(ctx, s.q, &id, query, studentID); err != nil {
		return fmt.Errorf("lock student %s: %w", studentID, err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
