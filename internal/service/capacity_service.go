package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

type capacityTrainingReader interface {
	FindByID(ctx context.Context, id string) (*models.Training, error)
}

type capacityEnrollmentReader interface {
	ListByTraining(ctx context.Context, trainingID string) ([]models.Enrollment, error)
}

// CapacityService serves occupancy snapshots through a read-through cache.
// State transitions never read from it; they only invalidate entries after commit.
type CapacityService struct {
	trainings   capacityTrainingReader
	enrollments capacityEnrollmentReader
	cache       *CacheService
	tracker     *CapacityTracker
	ttl         time.Duration
	logger      *zap.Logger
}

// NewCapacityService constructs the service. A nil cache disables caching.
func NewCapacityService(trainings capacityTrainingReader, enrollments capacityEnrollmentReader, cache *CacheService, ttl time.Duration, logger *zap.Logger) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{
		trainings:   trainings,
		enrollments: enrollments,
		cache:       cache,
		tracker:     NewCapacityTracker(),
		ttl:         ttl,
		logger:      logger,
	}
}

// Get returns the current capacity view of a training and whether it came from cache.
// A freshly loaded view is cached only if no invalidation ran while it was being read.
func (s *CapacityService) Get(ctx context.Context, trainingID string) (*models.CapacityView, bool, error) {
	key, genKey := capacityCacheKey(trainingID), capacityGenerationKey(trainingID)
	var cached models.CapacityView
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}
	gen, cacheable := s.cache.Generation(ctx, genKey)

	training, err := s.trainings.FindByID(ctx, trainingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "training not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load training")
	}
	enrollments, err := s.enrollments.ListByTraining(ctx, trainingID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	view := s.tracker.View(training, enrollments)
	if cacheable {
		if stored, err := s.cache.SetAtGeneration(ctx, key, view, s.ttl, genKey, gen); err == nil && !stored {
			s.logger.Debug("capacity view superseded by invalidation", zap.String("training_id", trainingID))
		}
	}
	return &view, false, nil
}

// Invalidate drops the cached view of a training. The generation is bumped first so a
// concurrent Get that loaded pre-commit rows cannot store them afterwards.
func (s *CapacityService) Invalidate(ctx context.Context, trainingID string) {
	if err := s.cache.Bump(ctx, capacityGenerationKey(trainingID)); err != nil {
		s.logger.Warn("capacity cache generation bump failed", zap.String("training_id", trainingID), zap.Error(err))
	}
	if err := s.cache.Delete(ctx, capacityCacheKey(trainingID)); err != nil {
		s.logger.Warn("capacity cache invalidation failed", zap.String("training_id", trainingID), zap.Error(err))
	}
}

// PurgeAll drops every cached view. It runs at startup so a new release never serves
// snapshots written by an older one.
func (s *CapacityService) PurgeAll(ctx context.Context) {
	n, err := s.cache.Purge(ctx, capacityKeyPrefix)
	if err != nil {
		return
	}
	if n > 0 {
		s.logger.Info("capacity cache purged", zap.Int("keys", n))
	}
}

// Generation keys sit outside capacityKeyPrefix so PurgeAll never resets them. The
// braces keep a view and its generation in one cluster slot.
const (
	capacityKeyPrefix = "capacity:"
	capacityGenPrefix = "capacity-gen:"
)

func capacityCacheKey(trainingID string) string {
	return capacityKeyPrefix + "{" + trainingID + "}"
}

func capacityGenerationKey(trainingID string) string {
	return capacityGenPrefix + "{" + trainingID + "}"
}
