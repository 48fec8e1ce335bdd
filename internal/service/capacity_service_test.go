package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

type memoryCache struct {
	values   map[string][]byte
	counters map[string]int64
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n := 0
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			delete(m.values, key)
			n++
		}
	}
	return n, nil
}

func (m *memoryCache) Incr(ctx context.Context, key string) (int64, error) {
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryCache) Counter(ctx context.Context, key string) (int64, error) {
	return m.counters[key], nil
}

func (m *memoryCache) SetIfCounter(ctx context.Context, key string, value interface{}, ttl time.Duration, counterKey string, expected int64) (bool, error) {
	if m.counters[counterKey] != expected {
		return false, nil
	}
	return true, m.Set(ctx, key, value, ttl)
}

type capacityStub struct {
	training    *models.Training
	enrollments []models.Enrollment
	loads       int
	onList      func()
}

func (c *capacityStub) FindByID(ctx context.Context, id string) (*models.Training, error) {
	c.loads++
	if c.training == nil || c.training.ID != id {
		return nil, errors.New("sql: no rows in result set")
	}
	return c.training, nil
}

func (c *capacityStub) ListByTraining(ctx context.Context, trainingID string) ([]models.Enrollment, error) {
	rows := c.enrollments
	if c.onList != nil {
		c.onList()
	}
	return rows, nil
}

func TestCapacityServiceReadThroughAndInvalidate(t *testing.T) {
	stub := &capacityStub{
		training:    &models.Training{ID: "tr-1", MaxParticipants: seats(2)},
		enrollments: []models.Enrollment{{StudentID: "a", TrainingID: "tr-1", Status: models.EnrollmentStatusEnrolled}},
	}
	metrics := NewMetricsService()
	cache := NewCacheService(&memoryCache{values: map[string][]byte{}}, metrics, time.Minute, zap.NewNop())
	svc := NewCapacityService(stub, stub, cache, time.Minute, nil)
	ctx := context.Background()

	view, hit, err := svc.Get(ctx, "tr-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, view.Available)

	view, hit, err = svc.Get(ctx, "tr-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, view.Available)
	assert.Equal(t, 1, stub.loads)

	stub.enrollments = append(stub.enrollments, models.Enrollment{StudentID: "b", TrainingID: "tr-1", Status: models.EnrollmentStatusWaitlistInvited})
	svc.Invalidate(ctx, "tr-1")

	view, hit, err = svc.Get(ctx, "tr-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Zero(t, view.Available)
	assert.Equal(t, 2, view.Occupied)
	assert.InDelta(t, 1.0/3.0, metrics.Snapshot().CacheHitRatio, 0.001)
}

func TestCapacityServiceDropsViewInvalidatedDuringLoad(t *testing.T) {
	stub := &capacityStub{
		training:    &models.Training{ID: "tr-1", MaxParticipants: seats(2)},
		enrollments: []models.Enrollment{{StudentID: "a", TrainingID: "tr-1", Status: models.EnrollmentStatusEnrolled}},
	}
	store := &memoryCache{values: map[string][]byte{}}
	svc := NewCapacityService(stub, stub, NewCacheService(store, nil, time.Minute, nil), time.Minute, nil)
	ctx := context.Background()

	// An enrollment commits and invalidates after the rows were read but before they are cached.
	stub.onList = func() {
		stub.onList = nil
		stub.enrollments = append(stub.enrollments, models.Enrollment{StudentID: "b", TrainingID: "tr-1", Status: models.EnrollmentStatusEnrolled})
		svc.Invalidate(ctx, "tr-1")
	}

	view, hit, err := svc.Get(ctx, "tr-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, view.Occupied)
	assert.Empty(t, store.values)

	view, hit, err = svc.Get(ctx, "tr-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, view.Occupied)
	assert.Zero(t, view.Available)

	view, hit, err = svc.Get(ctx, "tr-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 2, view.Occupied)
}

func TestCapacityServiceWithoutCache(t *testing.T) {
	stub := &capacityStub{training: &models.Training{ID: "tr-1"}}
	svc := NewCapacityService(stub, stub, nil, 0, nil)

	view, hit, err := svc.Get(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.True(t, view.Unlimited)
	svc.Invalidate(context.Background(), "tr-1")
}

func TestCapacityServicePurgeAllKeepsForeignKeys(t *testing.T) {
	store := &memoryCache{values: map[string][]byte{
		capacityCacheKey("tr-1"):      []byte(`{}`),
		capacityCacheKey("tr-2"):      []byte(`{}`),
		capacityGenerationKey("tr-1"): []byte(`3`),
		"other:tr-1":                  []byte(`{}`),
	}}
	svc := NewCapacityService(&capacityStub{}, &capacityStub{}, NewCacheService(store, nil, 0, nil), time.Minute, nil)

	svc.PurgeAll(context.Background())

	assert.Len(t, store.values, 2)
	assert.Contains(t, store.values, "other:tr-1")
	assert.Contains(t, store.values, capacityGenerationKey("tr-1"))
}
