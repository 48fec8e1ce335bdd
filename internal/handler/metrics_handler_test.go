package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	"github.com/noah-isme/training-enrollment-api/internal/service"
)

type pingerStub struct{ err error }

func (p pingerStub) PingContext(context.Context) error { return p.err }

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(service.NewMetricsService(), pingerStub{})
	c, rec := newTestContext(http.MethodGet, "/ready", "", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewMetricsHandler(service.NewMetricsService(), pingerStub{err: errors.New("connection refused")})
	c, rec = newTestContext(http.MethodGet, "/ready", "", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsHandlerPrometheusExposesDomainCounters(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordTransition("enroll", models.EnrollmentStatusEnrolled)
	metrics.ObserveHTTPRequest(http.MethodPost, "/api/v1/trainings/:id/enrollments", http.StatusCreated, 5*time.Millisecond)

	h := NewMetricsHandler(metrics, nil)
	c, rec := newTestContext(http.MethodGet, "/metrics", "", nil)
	h.Prometheus(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")

	c, snap := newTestContext(http.MethodGet, "/admin/metrics/snapshot", "", nil)
	h.Snapshot(c)
	assert.Contains(t, snap.Body.String(), `"transitions":1`)
	assert.Contains(t, snap.Body.String(), `"requests_total":1`)
}
