package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

type expiredInvitationLister interface {
	ListExpiredInvitations(ctx context.Context, cutoff time.Time) ([]models.Enrollment, error)
}

type waitlistedTrainingLister interface {
	ListWithWaitlist(ctx context.Context) ([]string, error)
}

type waitlistMaintainer interface {
	ExpireInvitations(ctx context.Context, trainingID string, cutoff time.Time) (int, error)
	CascadeWaitlist(ctx context.Context, trainingID string) (int, error)
}

// InvitationExpiryService runs the periodic waitlist maintenance: expiring stale
// invitations and re-running the cascade on trainings with free seats.
type InvitationExpiryService struct {
	invitations expiredInvitationLister
	trainings   waitlistedTrainingLister
	enrollments waitlistMaintainer
	ttl         time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewInvitationExpiryService constructs the service.
func NewInvitationExpiryService(invitations expiredInvitationLister, trainings waitlistedTrainingLister, enrollments waitlistMaintainer, ttl time.Duration, now func() time.Time, logger *zap.Logger) *InvitationExpiryService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvitationExpiryService{invitations: invitations, trainings: trainings, enrollments: enrollments, ttl: ttl, now: now, logger: logger}
}

// ExpireInvitations expires every invitation older than the TTL, one training at a time.
// A failing training does not stop the others.
func (s *InvitationExpiryService) ExpireInvitations(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.ttl)
	stale, err := s.invitations.ListExpiredInvitations(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var trainingIDs []string
	seen := make(map[string]struct{})
	for _, e := range stale {
		if _, ok := seen[e.TrainingID]; ok {
			continue
		}
		seen[e.TrainingID] = struct{}{}
		trainingIDs = append(trainingIDs, e.TrainingID)
	}

	total := 0
	var errs []error
	for _, id := range trainingIDs {
		n, err := s.enrollments.ExpireInvitations(ctx, id, cutoff)
		if err != nil {
			s.logger.Error("expire invitations failed", zap.String("training_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("invitations expired", zap.Int("count", total), zap.Int("trainings", len(trainingIDs)))
	}
	return total, errors.Join(errs...)
}

// SweepWaitlists runs the cascade for every active training with a waitlist.
func (s *InvitationExpiryService) SweepWaitlists(ctx context.Context) (int, error) {
	ids, err := s.trainings.ListWithWaitlist(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, id := range ids {
		n, err := s.enrollments.CascadeWaitlist(ctx, id)
		if err != nil {
			s.logger.Error("waitlist sweep failed", zap.String("training_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("waitlist sweep invited students", zap.Int("count", total))
	}
	return total, errors.Join(errs...)
}

// Tasks binds the maintenance operations to their task kinds.
func (s *InvitationExpiryService) Tasks() map[TaskKind]TaskHandler {
	return map[TaskKind]TaskHandler{
		TaskExpireInvitations: func(ctx context.Context) error {
			_, err := s.ExpireInvitations(ctx)
			return err
		},
		TaskCascadeWaitlists: func(ctx context.Context) error {
			_, err := s.SweepWaitlists(ctx)
			return err
		},
	}
}
