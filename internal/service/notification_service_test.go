package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

type publishedMessage struct {
	subject string
	payload []byte
}

type publisherStub struct {
	mu       sync.Mutex
	failures int
	messages []publishedMessage
}

func (p *publisherStub) Publish(ctx context.Context, subject string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, publishedMessage{subject: subject, payload: payload})
	return nil
}

func (p *publisherStub) published() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.messages...)
}

type failureCounter struct {
	mu     sync.Mutex
	counts map[models.NotificationEventType]int
}

func (f *failureCounter) RecordNotificationFailure(eventType models.NotificationEventType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[models.NotificationEventType]int{}
	}
	f.counts[eventType]++
}

func (f *failureCounter) count(eventType models.NotificationEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[eventType]
}

func TestNotificationServicePublishesWithRetry(t *testing.T) {
	publisher := &publisherStub{failures: 1}
	svc := NewNotificationService(publisher, NotificationConfig{SubjectPrefix: "trainings.enrollment.", Workers: 1, Retries: 2, RetryDelay: time.Millisecond}, nil, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	event := models.NotificationEvent{
		ID:         "evt-1",
		Type:       models.NotifyInvited,
		Enrollment: models.Enrollment{StudentID: "s-1", TrainingID: "tr-1", Status: models.EnrollmentStatusWaitlistInvited},
		Recipients: []string{"user-1"},
	}
	svc.Notify(context.Background(), event)

	require.Eventually(t, func() bool { return len(publisher.published()) == 1 }, time.Second, 5*time.Millisecond)
	msg := publisher.published()[0]
	require.Equal(t, "trainings.enrollment.invited", msg.subject)

	var decoded models.NotificationEvent
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	require.Equal(t, "evt-1", decoded.ID)
	require.Equal(t, []string{"user-1"}, decoded.Recipients)
}

func TestNotificationServiceCountsUndeliverableEvents(t *testing.T) {
	publisher := &publisherStub{failures: 100}
	failures := &failureCounter{}
	svc := NewNotificationService(publisher, NotificationConfig{Workers: 1, Retries: 1, RetryDelay: time.Millisecond}, failures, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Notify(context.Background(), models.NotificationEvent{ID: "evt-2", Type: models.NotifyDerolled})

	require.Eventually(t, func() bool { return failures.count(models.NotifyDerolled) == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, publisher.published())
}

func TestNotificationServiceDropsWhenNotStarted(t *testing.T) {
	failures := &failureCounter{}
	svc := NewNotificationService(&publisherStub{}, NotificationConfig{}, failures, nil)

	svc.Notify(context.Background(), models.NotificationEvent{ID: "evt-3", Type: models.NotifyEnrolled})

	require.Equal(t, 1, failures.count(models.NotifyEnrolled))
	require.Equal(t, "trainings.enrollment.enrolled", svc.Subject(models.NotifyEnrolled))
}
