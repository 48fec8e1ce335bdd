package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/training-enrollment-api/internal/middleware"
	"github.com/noah-isme/training-enrollment-api/internal/models"
	"github.com/noah-isme/training-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
	"github.com/noah-isme/training-enrollment-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, req service.EnrollRequest) (*models.Enrollment, error)
	Cancel(ctx context.Context, req service.CancelRequest) error
	Action(ctx context.Context, req service.ActionRequest) (*models.Enrollment, error)
	BulkMove(ctx context.Context, req service.BulkMoveRequest) (*service.BulkMoveResult, error)
}

type rosterService interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
	Export(ctx context.Context, trainingID string, format service.ExportFormat) (*service.RosterExport, error)
}

// cancelReasonOutOfPolicy marks an operator cancellation outside the normal rules.
const cancelReasonOutOfPolicy = "out_of_policy"

// EnrollmentHandler exposes enrollment endpoints of a training.
type EnrollmentHandler struct {
	enrollments enrollmentService
	roster      rosterService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, roster rosterService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, roster: roster}
}

// List godoc
// @Summary List enrollments of a training
// @Tags Enrollments
// @Produce json
// @Param id path string true "Training ID"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "Sort column"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /trainings/{id}/enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := models.EnrollmentFilter{
		TrainingID: c.Param("id"),
		Status:     models.EnrollmentStatus(strings.ToLower(c.Query("status"))),
		SortBy:     c.Query("sort"),
		SortOrder:  c.Query("order"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	enrollments, pagination, err := h.roster.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Create godoc
// @Summary Enroll a student into a training
// @Description Books a seat when one is free, otherwise places the student on the waitlist.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Training ID"
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /trainings/{id}/enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.TrainingID = c.Param("id")
	if !middleware.CurrentClaims(c).ActsFor(req.StudentID) {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Delete godoc
// @Summary Cancel an enrollment
// @Description Operators may pass reason=out_of_policy; their cancellations never trigger the waitlist cascade.
// @Tags Enrollments
// @Produce json
// @Param id path string true "Training ID"
// @Param studentId path string true "Student ID"
// @Param reason query string false "out_of_policy"
// @Success 204
// @Router /trainings/{id}/enrollments/{studentId} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	studentID := c.Param("studentId")
	if !claims.ActsFor(studentID) {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	isAdmin := claims.IsOperator()
	req := service.CancelRequest{
		TrainingID:  c.Param("id"),
		StudentID:   studentID,
		IsAdmin:     isAdmin,
		OutOfPolicy: isAdmin && c.Query("reason") == cancelReasonOutOfPolicy,
	}
	if err := h.enrollments.Cancel(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Action godoc
// @Summary Apply an action to an enrollment
// @Description Students may accept or decline their own invitation; every other action is reserved for operators.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Training ID"
// @Param studentId path string true "Student ID"
// @Param payload body service.ActionRequest true "Action payload"
// @Success 200 {object} response.Envelope
// @Router /trainings/{id}/enrollments/{studentId}/actions [post]
func (h *EnrollmentHandler) Action(c *gin.Context) {
	var req service.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.TrainingID = c.Param("id")
	req.StudentID = c.Param("studentId")

	claims := middleware.CurrentClaims(c)
	allowed := claims.IsOperator() || (req.Action.SelfService() && claims.ActsFor(req.StudentID))
	if !allowed {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	enrollment, err := h.enrollments.Action(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// BulkMove godoc
// @Summary Move or copy enrollments to another training
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Source training ID"
// @Param payload body service.BulkMoveRequest true "Transfer payload"
// @Success 200 {object} response.Envelope
// @Router /trainings/{id}/bulk-move [post]
func (h *EnrollmentHandler) BulkMove(c *gin.Context) {
	var req service.BulkMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.SourceTrainingID = c.Param("id")
	result, err := h.enrollments.BulkMove(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Download the roster of a training
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Training ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /trainings/{id}/roster [get]
func (h *EnrollmentHandler) Export(c *gin.Context) {
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ExportFormatCSV))))
	roster, err := h.roster.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, roster.Filename, roster.ContentType, roster.Payload)
}
