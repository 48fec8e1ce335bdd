package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/training-enrollment-api/internal/middleware"
	"github.com/noah-isme/training-enrollment-api/internal/models"
	"github.com/noah-isme/training-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
	"github.com/noah-isme/training-enrollment-api/pkg/response"
)

type bookingService interface {
	CanBook(ctx context.Context, trainingID, studentID string) (*service.CanBookResult, error)
	BookableTrainings(ctx context.Context, studentID, trainingTypeID string) ([]service.BookableTraining, error)
}

type capacityService interface {
	Get(ctx context.Context, trainingID string) (*models.CapacityView, bool, error)
}

// BookingHandler answers read-only booking questions.
type BookingHandler struct {
	bookings bookingService
	capacity capacityService
}

// NewBookingHandler constructs the handler.
func NewBookingHandler(bookings bookingService, capacity capacityService) *BookingHandler {
	return &BookingHandler{bookings: bookings, capacity: capacity}
}

// CanBook godoc
// @Summary Check the booking window rule for one training
// @Tags Bookings
// @Produce json
// @Param id path string true "Training ID"
// @Param student_id query string false "Student ID, defaults to the caller"
// @Success 200 {object} response.Envelope
// @Router /trainings/{id}/can-book [get]
func (h *BookingHandler) CanBook(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	studentID := strings.TrimSpace(c.Query("student_id"))
	if studentID == "" && claims != nil {
		studentID = claims.StudentID
	}
	if studentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id is required"))
		return
	}
	if !claims.ActsFor(studentID) {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	result, err := h.bookings.CanBook(c.Request.Context(), c.Param("id"), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Bookable godoc
// @Summary Evaluate the booking window rule for every active training of a type
// @Tags Bookings
// @Produce json
// @Param studentId path string true "Student ID"
// @Param training_type_id query string true "Training type ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/bookable-trainings [get]
func (h *BookingHandler) Bookable(c *gin.Context) {
	typeID := strings.TrimSpace(c.Query("training_type_id"))
	if typeID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "training_type_id is required"))
		return
	}
	items, err := h.bookings.BookableTrainings(c.Request.Context(), c.Param(middleware.SelfParam), typeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Capacity godoc
// @Summary Occupancy snapshot of a training
// @Tags Bookings
// @Produce json
// @Param id path string true "Training ID"
// @Success 200 {object} response.Envelope
// @Router /trainings/{id}/capacity [get]
func (h *BookingHandler) Capacity(c *gin.Context) {
	if h.capacity == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	view, cacheHit, err := h.capacity.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{
			"cache_hit":          cacheHit,
			"processing_time_ms": time.Since(start).Milliseconds(),
		}
	}
	response.JSON(c, http.StatusOK, view, nil, meta)
}
