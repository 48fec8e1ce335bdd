package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	"github.com/noah-isme/training-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	WithTrainingLock(ctx context.Context, trainingIDs []string, fn func(store repository.EnrollmentStore) error) error
	BookingDates(ctx context.Context, studentID, trainingTypeID string) ([]time.Time, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type trainingReader interface {
	FindByID(ctx context.Context, id string) (*models.Training, error)
	ListActiveByType(ctx context.Context, trainingTypeID string) ([]models.Training, error)
}

// NotificationDispatcher receives enrollment events once the transition has committed.
type NotificationDispatcher interface {
	Notify(ctx context.Context, event models.NotificationEvent)
}

type capacityInvalidator interface {
	Invalidate(ctx context.Context, trainingID string)
}

type transitionRecorder interface {
	RecordTransition(action string, status models.EnrollmentStatus)
	RecordCascade(promoted int)
	RecordPolicyRejection()
}

// EnrollRequest describes an enroll attempt.
type EnrollRequest struct {
	TrainingID string `json:"-" validate:"required"`
	StudentID  string `json:"student_id" validate:"required"`
}

// CancelRequest describes a cancellation. Operator cancellations do not trigger the cascade.
type CancelRequest struct {
	TrainingID  string `validate:"required"`
	StudentID   string `validate:"required"`
	IsAdmin     bool
	OutOfPolicy bool
}

// ActionRequest applies a named action to an existing enrollment.
type ActionRequest struct {
	TrainingID string                  `json:"-" validate:"required"`
	StudentID  string                  `json:"-" validate:"required"`
	Action     models.EnrollmentAction `json:"action" validate:"required"`
}

// BulkMoveOperation selects whether source enrollments are kept.
type BulkMoveOperation string

// Bulk transfer operations.
const (
	BulkMoveOperationMove BulkMoveOperation = "move"
	BulkMoveOperationCopy BulkMoveOperation = "copy"
)

// BulkMoveRequest transfers enrollments between trainings without policy checks or notifications.
type BulkMoveRequest struct {
	SourceTrainingID string                   `json:"-" validate:"required"`
	TargetTrainingID string                   `json:"target_training_id" validate:"required,nefield=SourceTrainingID"`
	StudentIDs       []string                 `json:"student_ids" validate:"required,min=1,dive,required"`
	Operation        BulkMoveOperation        `json:"operation" validate:"required,oneof=move copy"`
	OverrideStatus   *models.EnrollmentStatus `json:"override_status,omitempty"`
}

// BulkMoveItemError reports why a single student could not be transferred.
type BulkMoveItemError struct {
	StudentID string `json:"student_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// BulkMoveResult accumulates per-student outcomes of a bulk transfer.
type BulkMoveResult struct {
	Moved   []string            `json:"moved"`
	Skipped []string            `json:"skipped"`
	Errors  []BulkMoveItemError `json:"errors"`
}

// CanBookResult answers whether a student may book a training under the booking window rule.
type CanBookResult struct {
	TrainingID string `json:"training_id"`
	StudentID  string `json:"student_id"`
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
}

// BookableTraining is one row of a bulk booking window evaluation.
type BookableTraining struct {
	TrainingID string    `json:"training_id"`
	Title      string    `json:"title"`
	StartsAt   time.Time `json:"starts_at"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
}

// EnrollmentServiceConfig tunes the state machine.
type EnrollmentServiceConfig struct {
	Now func() time.Time
}

type actionHandler func(ctx context.Context, store repository.EnrollmentStore, training *models.Training, e *models.Enrollment, log *transitionLog) error

// EnrollmentService is the enrollment state machine. Every transition runs inside one
// transaction holding the training row lock; notifications are sent after commit.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	trainings trainingReader
	policy    *BookingWindowPolicy
	tracker   *CapacityTracker
	cascade   *WaitlistCascadeEngine
	notifier  NotificationDispatcher
	capacity  capacityInvalidator
	metrics   transitionRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	rules     []enrollmentRule
	actions   map[models.EnrollmentAction]actionHandler
}

// NewEnrollmentService wires the state machine.
func NewEnrollmentService(
	repo enrollmentRepository,
	students studentReader,
	trainings trainingReader,
	policy *BookingWindowPolicy,
	notifier NotificationDispatcher,
	capacity capacityInvalidator,
	metrics transitionRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg EnrollmentServiceConfig,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if policy == nil {
		policy = NewBookingWindowPolicy(models.BookingWindowConfig{}, cfg.Now)
	}
	tracker := NewCapacityTracker()
	s := &EnrollmentService{
		repo:      repo,
		students:  students,
		trainings: trainings,
		policy:    policy,
		tracker:   tracker,
		cascade:   NewWaitlistCascadeEngine(tracker),
		notifier:  notifier,
		capacity:  capacity,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       cfg.Now,
		rules:     newEnrollmentRules(policy),
	}
	s.actions = map[models.EnrollmentAction]actionHandler{
		models.ActionInvite:           s.invite,
		models.ActionAccept:           s.accept,
		models.ActionDeinvite:         s.deinvite,
		models.ActionReturnToWaitlist: s.returnToWaitlist,
		models.ActionForceEnroll:      s.forceEnroll,
		models.ActionDecline:          s.decline,
		models.ActionTogglePaid:       s.togglePaid,
	}
	return s
}

// Enroll admits the student to the training, or waitlists them when no seat is free.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	var result models.Enrollment
	log := newTransitionLog(req.TrainingID)
	err = s.repo.WithTrainingLock(ctx, []string{req.TrainingID}, func(store repository.EnrollmentStore) error {
		now := s.clock()
		training, err := s.lockedTraining(ctx, store, req.TrainingID)
		if err != nil {
			return err
		}
		existing, err := store.Find(ctx, req.TrainingID, req.StudentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		rc := &enrollmentContext{training: training, student: student, existing: existing, now: now}
		if training.ApplyPolicies && s.policy.Enabled() {
			// History spans other trainings of the type, which the training lock does not cover.
			if err := store.LockStudent(ctx, req.StudentID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock student")
			}
			if rc.history, err = store.BookingDates(ctx, req.StudentID, training.TrainingTypeID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking history")
			}
		}
		if rule, err := checkEnrollmentRules(s.rules, rc); err != nil {
			if rule == "booking_window" && s.metrics != nil {
				s.metrics.RecordPolicyRejection()
			}
			return err
		}

		enrollments, err := store.ListByTraining(ctx, req.TrainingID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
		}
		status := models.EnrollmentStatusWaitlist
		if s.tracker.View(training, enrollments).HasSeat() {
			status = models.EnrollmentStatusEnrolled
		}

		result = models.Enrollment{StudentID: req.StudentID, TrainingID: req.TrainingID, Status: status, EnrolledAt: now}
		if existing != nil {
			err = store.Update(ctx, &result)
		} else {
			err = store.Insert(ctx, &result)
		}
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save enrollment")
		}

		log.record("enroll", result)
		if status == models.EnrollmentStatusEnrolled {
			log.emit(models.NotifyEnrolled, result, now)
		} else {
			log.emit(models.NotifyWaitlisted, result, now)
		}
		return nil
	})
	if err != nil {
		return nil, translateError(err, "failed to enroll student")
	}
	s.afterCommit(ctx, log)
	return &result, nil
}

// Cancel deletes a live enrollment before the training starts. Only participant
// cancellations hand the freed seat to the waitlist.
func (s *EnrollmentService) Cancel(ctx context.Context, req CancelRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}
	log := newTransitionLog(req.TrainingID)
	err := s.repo.WithTrainingLock(ctx, []string{req.TrainingID}, func(store repository.EnrollmentStore) error {
		now := s.clock()
		training, err := s.lockedTraining(ctx, store, req.TrainingID)
		if err != nil {
			return err
		}
		existing, err := s.lockedEnrollment(ctx, store, req.TrainingID, req.StudentID)
		if err != nil {
			return err
		}
		if !existing.Status.Cancellable() {
			return appErrors.Clone(appErrors.ErrNotFound, "no live enrollment to cancel")
		}
		if training.Started(now) {
			return appErrors.Clone(appErrors.ErrAlreadyStarted, "training already started")
		}
		if err := store.Delete(ctx, req.TrainingID, req.StudentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
		}

		log.record("cancel", *existing)
		event := models.NotifyDerolled
		if req.IsAdmin && req.OutOfPolicy {
			event = models.NotifyDerolledOutOfPolicy
		}
		log.emit(event, *existing, now)

		if req.IsAdmin {
			return nil
		}
		return s.cascadeLocked(ctx, store, training, log)
	})
	if err != nil {
		return translateError(err, "failed to cancel enrollment")
	}
	s.afterCommit(ctx, log)
	return nil
}

// Action applies one of the closed set of enrollment actions.
func (s *EnrollmentService) Action(ctx context.Context, req ActionRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid action payload")
	}
	handler, ok := s.actions[req.Action]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnknownAction, fmt.Sprintf("unknown action %q", req.Action))
	}

	var result models.Enrollment
	log := newTransitionLog(req.TrainingID)
	err := s.repo.WithTrainingLock(ctx, []string{req.TrainingID}, func(store repository.EnrollmentStore) error {
		training, err := s.lockedTraining(ctx, store, req.TrainingID)
		if err != nil {
			return err
		}
		enrollment, err := s.lockedEnrollment(ctx, store, req.TrainingID, req.StudentID)
		if err != nil {
			return err
		}
		if err := handler(ctx, store, training, enrollment, log); err != nil {
			return err
		}
		result = *enrollment
		return nil
	})
	if err != nil {
		return nil, translateError(err, "failed to apply enrollment action")
	}
	s.afterCommit(ctx, log)
	return &result, nil
}

// Invite offers a free seat to a waitlisted student.
func (s *EnrollmentService) Invite(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error) {
	return s.Action(ctx, ActionRequest{TrainingID: trainingID, StudentID: studentID, Action: models.ActionInvite})
}

// Decline rejects an invitation and hands the seat on.
func (s *EnrollmentService) Decline(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error) {
	return s.Action(ctx, ActionRequest{TrainingID: trainingID, StudentID: studentID, Action: models.ActionDecline})
}

// ForceEnroll promotes a waitlisted student regardless of free seats.
func (s *EnrollmentService) ForceEnroll(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error) {
	return s.Action(ctx, ActionRequest{TrainingID: trainingID, StudentID: studentID, Action: models.ActionForceEnroll})
}

// Accept confirms an invitation.
func (s *EnrollmentService) Accept(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error) {
	return s.Action(ctx, ActionRequest{TrainingID: trainingID, StudentID: studentID, Action: models.ActionAccept})
}

// Deinvite withdraws an invitation by hand. The seat is not passed on.
func (s *EnrollmentService) Deinvite(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error) {
	return s.Action(ctx, ActionRequest{TrainingID: trainingID, StudentID: studentID, Action: models.ActionDeinvite})
}

// ReturnToWaitlist puts an invited student back on the waitlist without notifying them.
func (s *EnrollmentService) ReturnToWaitlist(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error) {
	return s.Action(ctx, ActionRequest{TrainingID: trainingID, StudentID: studentID, Action: models.ActionReturnToWaitlist})
}

// TogglePaid flips the paid flag.
func (s *EnrollmentService) TogglePaid(ctx context.Context, trainingID, studentID string) (*models.Enrollment, error) {
	return s.Action(ctx, ActionRequest{TrainingID: trainingID, StudentID: studentID, Action: models.ActionTogglePaid})
}

// ExpireInvitations moves invitations issued before cutoff to expired and runs the cascade.
func (s *EnrollmentService) ExpireInvitations(ctx context.Context, trainingID string, cutoff time.Time) (int, error) {
	expired := 0
	log := newTransitionLog(trainingID)
	err := s.repo.WithTrainingLock(ctx, []string{trainingID}, func(store repository.EnrollmentStore) error {
		expired = 0
		now := s.clock()
		training, err := s.lockedTraining(ctx, store, trainingID)
		if err != nil {
			return err
		}
		enrollments, err := store.ListByTraining(ctx, trainingID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
		}
		for i := range enrollments {
			e := &enrollments[i]
			if e.Status != models.EnrollmentStatusWaitlistInvited || e.InvitedAt == nil || !e.InvitedAt.Before(cutoff) {
				continue
			}
			e.Status = models.EnrollmentStatusInviteExpired
			if err := store.Update(ctx, e); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire invitation")
			}
			log.record("expire", *e)
			log.emit(models.NotifyDeinvited, *e, now)
			expired++
		}
		if expired == 0 {
			return nil
		}
		return s.cascadeLocked(ctx, store, training, log)
	})
	if err != nil {
		return 0, translateError(err, "failed to expire invitations")
	}
	s.afterCommit(ctx, log)
	return expired, nil
}

// CascadeWaitlist invites waitlisted students into any free seats of a not yet started training.
func (s *EnrollmentService) CascadeWaitlist(ctx context.Context, trainingID string) (int, error) {
	log := newTransitionLog(trainingID)
	err := s.repo.WithTrainingLock(ctx, []string{trainingID}, func(store repository.EnrollmentStore) error {
		training, err := s.lockedTraining(ctx, store, trainingID)
		if err != nil {
			return err
		}
		if !training.Active || training.Started(s.clock()) {
			return nil
		}
		return s.cascadeLocked(ctx, store, training, log)
	})
	if err != nil {
		return 0, translateError(err, "failed to cascade waitlist")
	}
	s.afterCommit(ctx, log)
	return log.promoted, nil
}

// BulkMove transfers enrollments between trainings. Each student is handled in its own
// transaction; failures are collected instead of aborting the batch.
func (s *EnrollmentService) BulkMove(ctx context.Context, req BulkMoveRequest) (*BulkMoveResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk move payload")
	}
	if req.OverrideStatus != nil && (!req.OverrideStatus.Valid() || *req.OverrideStatus == models.EnrollmentStatusForceOffWaitlist) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid override status %q", *req.OverrideStatus))
	}
	for _, id := range []string{req.SourceTrainingID, req.TargetTrainingID} {
		if _, err := s.trainings.FindByID(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "training not found: "+id)
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load training")
		}
	}

	result := &BulkMoveResult{Moved: []string{}, Skipped: []string{}, Errors: []BulkMoveItemError{}}
	for _, studentID := range req.StudentIDs {
		skipped, err := s.transferOne(ctx, req, studentID)
		switch {
		case err != nil:
			appErr := appErrors.FromError(translateError(err, "failed to transfer enrollment"))
			result.Errors = append(result.Errors, BulkMoveItemError{StudentID: studentID, Code: appErr.Code, Message: appErr.Message})
		case skipped:
			result.Skipped = append(result.Skipped, studentID)
		default:
			result.Moved = append(result.Moved, studentID)
		}
	}

	if s.capacity != nil {
		s.capacity.Invalidate(ctx, req.SourceTrainingID)
		s.capacity.Invalidate(ctx, req.TargetTrainingID)
	}
	s.logger.Info("bulk enrollment transfer",
		zap.String("source_training_id", req.SourceTrainingID),
		zap.String("target_training_id", req.TargetTrainingID),
		zap.String("operation", string(req.Operation)),
		zap.Int("moved", len(result.Moved)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *EnrollmentService) transferOne(ctx context.Context, req BulkMoveRequest, studentID string) (bool, error) {
	skipped := false
	err := s.repo.WithTrainingLock(ctx, []string{req.SourceTrainingID, req.TargetTrainingID}, func(store repository.EnrollmentStore) error {
		skipped = false
		source, err := store.Find(ctx, req.SourceTrainingID, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not enrolled in source training")
			}
			return err
		}
		if _, err := store.Find(ctx, req.TargetTrainingID, studentID); err == nil {
			skipped = true
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		moved := *source
		moved.TrainingID = req.TargetTrainingID
		if req.OverrideStatus != nil {
			moved.Status = *req.OverrideStatus
			switch {
			case moved.Status != models.EnrollmentStatusWaitlistInvited:
				moved.InvitedAt = nil
			case moved.InvitedAt == nil:
				now := s.clock()
				moved.InvitedAt = &now
			}
		}
		if err := store.Insert(ctx, &moved); err != nil {
			return err
		}
		if req.Operation == BulkMoveOperationMove {
			return store.Delete(ctx, req.SourceTrainingID, studentID)
		}
		return nil
	})
	return skipped, err
}

// CanBook evaluates the booking window rule for one training without enrolling.
func (s *EnrollmentService) CanBook(ctx context.Context, trainingID, studentID string) (*CanBookResult, error) {
	if trainingID == "" || studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "training and student are required")
	}
	training, err := s.trainings.FindByID(ctx, trainingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "training not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load training")
	}
	result := &CanBookResult{TrainingID: trainingID, StudentID: studentID, Allowed: true}
	start, hasStart := training.FirstStart()
	if !training.ApplyPolicies || !s.policy.Enabled() || !hasStart {
		return result, nil
	}
	history, err := s.repo.BookingDates(ctx, studentID, training.TrainingTypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking history")
	}
	decision := s.policy.Check(start, history)
	result.Allowed = decision.Allowed
	result.Reason = decision.Reason
	return result, nil
}

// BookableTrainings evaluates the booking window rule for every active training of a type.
func (s *EnrollmentService) BookableTrainings(ctx context.Context, studentID, trainingTypeID string) ([]BookableTraining, error) {
	if studentID == "" || trainingTypeID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student and training type are required")
	}
	trainings, err := s.trainings.ListActiveByType(ctx, trainingTypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list trainings")
	}
	history, err := s.repo.BookingDates(ctx, studentID, trainingTypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking history")
	}

	candidates := make([]BookingCandidate, 0, len(trainings))
	for i := range trainings {
		if start, ok := trainings[i].FirstStart(); ok && trainings[i].ApplyPolicies {
			candidates = append(candidates, BookingCandidate{TrainingID: trainings[i].ID, Date: start})
		}
	}
	decisions := s.policy.CheckMany(candidates, history)

	items := make([]BookableTraining, 0, len(trainings))
	for i := range trainings {
		item := BookableTraining{TrainingID: trainings[i].ID, Title: trainings[i].Title, Allowed: true}
		item.StartsAt, _ = trainings[i].FirstStart()
		if decision, ok := decisions[trainings[i].ID]; ok {
			item.Allowed = decision.Allowed
			item.Reason = decision.Reason
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *EnrollmentService) invite(ctx context.Context, store repository.EnrollmentStore, training *models.Training, e *models.Enrollment, log *transitionLog) error {
	if e.Status != models.EnrollmentStatusWaitlist {
		return wrongState(models.ActionInvite, e.Status)
	}
	enrollments, err := store.ListByTraining(ctx, training.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	if !s.tracker.View(training, enrollments).HasSeat() {
		return appErrors.Clone(appErrors.ErrNoCapacity, "no free seat to invite into")
	}
	now := s.clock()
	e.Status = models.EnrollmentStatusWaitlistInvited
	e.InvitedAt = &now
	if err := s.save(ctx, store, e); err != nil {
		return err
	}
	log.record(string(models.ActionInvite), *e)
	log.emit(models.NotifyInvited, *e, now)
	return nil
}

func (s *EnrollmentService) accept(ctx context.Context, store repository.EnrollmentStore, _ *models.Training, e *models.Enrollment, log *transitionLog) error {
	if e.Status != models.EnrollmentStatusWaitlistInvited {
		return wrongState(models.ActionAccept, e.Status)
	}
	e.Status = models.EnrollmentStatusEnrolled
	if err := s.save(ctx, store, e); err != nil {
		return err
	}
	log.record(string(models.ActionAccept), *e)
	log.emit(models.NotifyEnrolled, *e, s.clock())
	return nil
}

func (s *EnrollmentService) deinvite(ctx context.Context, store repository.EnrollmentStore, _ *models.Training, e *models.Enrollment, log *transitionLog) error {
	if e.Status != models.EnrollmentStatusWaitlistInvited {
		return wrongState(models.ActionDeinvite, e.Status)
	}
	e.Status = models.EnrollmentStatusInviteExpired
	if err := s.save(ctx, store, e); err != nil {
		return err
	}
	log.record(string(models.ActionDeinvite), *e)
	log.emit(models.NotifyDeinvited, *e, s.clock())
	return nil
}

// returnToWaitlist is silent: no notification is sent.
func (s *EnrollmentService) returnToWaitlist(ctx context.Context, store repository.EnrollmentStore, _ *models.Training, e *models.Enrollment, log *transitionLog) error {
	if e.Status != models.EnrollmentStatusWaitlistInvited {
		return wrongState(models.ActionReturnToWaitlist, e.Status)
	}
	e.Status = models.EnrollmentStatusWaitlist
	e.InvitedAt = nil
	if err := s.save(ctx, store, e); err != nil {
		return err
	}
	log.record(string(models.ActionReturnToWaitlist), *e)
	return nil
}

// forceEnroll bypasses the seat check, so occupancy may exceed the limit afterwards.
func (s *EnrollmentService) forceEnroll(ctx context.Context, store repository.EnrollmentStore, _ *models.Training, e *models.Enrollment, log *transitionLog) error {
	if e.Status != models.EnrollmentStatusWaitlist {
		return wrongState(models.ActionForceEnroll, e.Status)
	}
	// force-off-waitlist is never persisted; the row goes straight to enrolled.
	e.Status = models.EnrollmentStatusEnrolled
	if err := s.save(ctx, store, e); err != nil {
		return err
	}
	log.record(string(models.ActionForceEnroll), *e)
	log.emit(models.NotifyEnrolled, *e, s.clock())
	return nil
}

func (s *EnrollmentService) decline(ctx context.Context, store repository.EnrollmentStore, training *models.Training, e *models.Enrollment, log *transitionLog) error {
	if e.Status != models.EnrollmentStatusWaitlistInvited {
		return wrongState(models.ActionDecline, e.Status)
	}
	e.Status = models.EnrollmentStatusWaitlistDeclined
	if err := s.save(ctx, store, e); err != nil {
		return err
	}
	log.record(string(models.ActionDecline), *e)
	log.emit(models.NotifyDeclined, *e, s.clock())
	return s.cascadeLocked(ctx, store, training, log)
}

func (s *EnrollmentService) togglePaid(ctx context.Context, store repository.EnrollmentStore, _ *models.Training, e *models.Enrollment, log *transitionLog) error {
	e.Paid = !e.Paid
	if err := s.save(ctx, store, e); err != nil {
		return err
	}
	log.record(string(models.ActionTogglePaid), *e)
	return nil
}

// cascadeLocked invites waitlisted entries, oldest first, into the free seats.
func (s *EnrollmentService) cascadeLocked(ctx context.Context, store repository.EnrollmentStore, training *models.Training, log *transitionLog) error {
	enrollments, err := store.ListByTraining(ctx, training.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	for _, candidate := range s.cascade.EligibleForPromotion(training, enrollments) {
		e := candidate
		if err := s.invite(ctx, store, training, &e, log); err != nil {
			if errors.Is(err, appErrors.ErrNoCapacity) {
				break
			}
			return err
		}
		log.promoted++
	}
	return nil
}

func (s *EnrollmentService) save(ctx context.Context, store repository.EnrollmentStore, e *models.Enrollment) error {
	if err := store.Update(ctx, e); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	return nil
}

func (s *EnrollmentService) lockedTraining(ctx context.Context, store repository.EnrollmentStore, id string) (*models.Training, error) {
	training, err := store.GetTraining(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "training not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load training")
	}
	return training, nil
}

func (s *EnrollmentService) lockedEnrollment(ctx context.Context, store repository.EnrollmentStore, trainingID, studentID string) (*models.Enrollment, error) {
	enrollment, err := store.Find(ctx, trainingID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// afterCommit runs side effects that must never undo a committed transition.
func (s *EnrollmentService) afterCommit(ctx context.Context, log *transitionLog) {
	for _, id := range log.trainingIDs {
		if s.capacity != nil {
			s.capacity.Invalidate(ctx, id)
		}
	}
	if s.metrics != nil {
		for _, t := range log.transitions {
			s.metrics.RecordTransition(t.action, t.status)
		}
		if log.promoted > 0 {
			s.metrics.RecordCascade(log.promoted)
		}
	}
	for _, t := range log.transitions {
		s.logger.Info("enrollment transition",
			zap.String("action", t.action),
			zap.String("training_id", t.trainingID),
			zap.String("student_id", t.studentID),
			zap.String("status", string(t.status)),
		)
	}
	if s.notifier == nil {
		return
	}
	for _, event := range log.events {
		student, err := s.students.FindByID(ctx, event.Enrollment.StudentID)
		if err != nil {
			s.logger.Warn("notification recipient lookup failed",
				zap.String("event", string(event.Type)),
				zap.String("student_id", event.Enrollment.StudentID),
				zap.Error(err))
			continue
		}
		if student.UserID != "" {
			event.Recipients = []string{student.UserID}
		}
		s.notifier.Notify(ctx, event)
	}
}

func (s *EnrollmentService) clock() time.Time {
	return s.now().UTC()
}

func wrongState(action models.EnrollmentAction, status models.EnrollmentStatus) error {
	return appErrors.Clone(appErrors.ErrWrongState, fmt.Sprintf("cannot %s enrollment in status %s", action, status))
}

func translateError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

type loggedTransition struct {
	action     string
	trainingID string
	studentID  string
	status     models.EnrollmentStatus
}

// transitionLog collects side effects during a transaction so they run only after commit.
type transitionLog struct {
	trainingIDs []string
	transitions []loggedTransition
	events      []models.NotificationEvent
	promoted    int
}

func newTransitionLog(trainingIDs ...string) *transitionLog {
	return &transitionLog{trainingIDs: trainingIDs}
}

func (l *transitionLog) record(action string, e models.Enrollment) {
	l.transitions = append(l.transitions, loggedTransition{
		action:     action,
		trainingID: e.TrainingID,
		studentID:  e.StudentID,
		status:     e.Status,
	})
}

func (l *transitionLog) emit(kind models.NotificationEventType, e models.Enrollment, at time.Time) {
	l.events = append(l.events, models.NotificationEvent{
		ID:         uuid.NewString(),
		Type:       kind,
		Enrollment: e,
		OccurredAt: at,
	})
}
