package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	"github.com/noah-isme/training-enrollment-api/pkg/jobs"
)

type eventPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

type notificationFailureRecorder interface {
	RecordNotificationFailure(eventType models.NotificationEventType)
}

// NotificationConfig tunes the dispatch queue.
type NotificationConfig struct {
	SubjectPrefix string
	Workers       int
	Retries       int
	RetryDelay    time.Duration
}

// NotificationService queues enrollment events and publishes them in the background.
// Delivery is best effort: failures are logged and counted, never surfaced to callers.
type NotificationService struct {
	publisher eventPublisher
	queue     *jobs.Queue
	prefix    string
	metrics   notificationFailureRecorder
	logger    *zap.Logger
}

// NewNotificationService constructs the service. Call Start before Notify.
func NewNotificationService(publisher eventPublisher, cfg NotificationConfig, metrics notificationFailureRecorder, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "trainings.enrollment"
	}
	s := &NotificationService{publisher: publisher, prefix: prefix, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnGiveUp: func(job jobs.Job, err error) {
			s.recordFailure(models.NotificationEventType(job.Type))
		},
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop waits for the workers to exit. Queued events are dropped.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify queues the event without blocking the caller.
func (s *NotificationService) Notify(_ context.Context, event models.NotificationEvent) {
	job := jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.logger.Warn("notification dropped",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		s.recordFailure(event.Type)
	}
}

// Subject returns the subject an event type is published on.
func (s *NotificationService) Subject(eventType models.NotificationEventType) string {
	return s.prefix + "." + string(eventType)
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.NotificationEvent)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.Subject(event.Type), payload); err != nil {
		return err
	}
	s.logger.Debug("notification published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Strings("recipients", event.Recipients))
	return nil
}

func (s *NotificationService) recordFailure(eventType models.NotificationEventType) {
	if s.metrics != nil {
		s.metrics.RecordNotificationFailure(eventType)
	}
}
