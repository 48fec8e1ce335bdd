package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Incr(ctx context.Context, key string) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)
	SetIfCounter(ctx context.Context, key string, value interface{}, ttl time.Duration, counterKey string, expected int64) (bool, error)
}

type cacheRecorder interface {
	RecordCacheOperation(hit bool, duration time.Duration)
}

// CacheService wraps a CacheRepository with hit/miss accounting. A nil *CacheService is a
// valid disabled cache, so callers never branch on configuration.
type CacheService struct {
	repo       CacheRepository
	metrics    cacheRecorder
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics cacheRecorder, defaultTTL time.Duration, logger *zap.Logger) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.repo != nil
}

// Get reports whether key was found and decoded into dest. Backend errors count as misses.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.record(err == nil, time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	default:
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
}

// Set stores the value; ttl <= 0 uses the default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.repo.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Generation reads the invalidation counter at genKey. ok is false when the cache is
// disabled or unreachable, in which case callers must not write.
func (s *CacheService) Generation(ctx context.Context, genKey string) (gen int64, ok bool) {
	if !s.Enabled() {
		return 0, false
	}
	gen, err := s.repo.Counter(ctx, genKey)
	if err != nil {
		s.logger.Warn("cache generation read failed", zap.String("key", genKey), zap.Error(err))
		return 0, false
	}
	return gen, true
}

// Bump advances the invalidation counter at genKey so in-flight writes guarded by an
// older generation are discarded.
func (s *CacheService) Bump(ctx context.Context, genKey string) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.repo.Incr(ctx, genKey); err != nil {
		s.logger.Warn("cache generation bump failed", zap.String("key", genKey), zap.Error(err))
		return err
	}
	return nil
}

// SetAtGeneration stores the value unless genKey moved past gen since it was read.
func (s *CacheService) SetAtGeneration(ctx context.Context, key string, value interface{}, ttl time.Duration, genKey string, gen int64) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	stored, err := s.repo.SetIfCounter(ctx, key, value, ttl, genKey, gen)
	if err != nil {
		s.logger.Warn("cache conditional set failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return stored, nil
}

// Delete removes the given keys.
func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if !s.Enabled() || len(keys) == 0 {
		return nil
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// Purge removes every entry under prefix.
func (s *CacheService) Purge(ctx context.Context, prefix string) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	n, err := s.repo.DeletePrefix(ctx, prefix)
	if err != nil {
		s.logger.Warn("cache purge failed", zap.String("prefix", prefix), zap.Error(err))
	}
	return n, err
}

func (s *CacheService) record(hit bool, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(hit, d)
	}
}
