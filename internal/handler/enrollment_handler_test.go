package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/training-enrollment-api/internal/middleware"
	"github.com/noah-isme/training-enrollment-api/internal/models"
	"github.com/noah-isme/training-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

type fakeEnrollmentSrv struct {
	enrollReq  *service.EnrollRequest
	cancelReq  *service.CancelRequest
	actionReq  *service.ActionRequest
	bulkReq    *service.BulkMoveRequest
	enrollment *models.Enrollment
	err        error
}

func (f *fakeEnrollmentSrv) Enroll(_ context.Context, req service.EnrollRequest) (*models.Enrollment, error) {
	f.enrollReq = &req
	return f.enrollment, f.err
}

func (f *fakeEnrollmentSrv) Cancel(_ context.Context, req service.CancelRequest) error {
	f.cancelReq = &req
	return f.err
}

func (f *fakeEnrollmentSrv) Action(_ context.Context, req service.ActionRequest) (*models.Enrollment, error) {
	f.actionReq = &req
	return f.enrollment, f.err
}

func (f *fakeEnrollmentSrv) BulkMove(_ context.Context, req service.BulkMoveRequest) (*service.BulkMoveResult, error) {
	f.bulkReq = &req
	return &service.BulkMoveResult{Moved: req.StudentIDs}, f.err
}

type fakeRosterSrv struct {
	filter models.EnrollmentFilter
	export *service.RosterExport
	err    error
}

func (f *fakeRosterSrv) List(_ context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	f.filter = filter
	return []models.EnrollmentDetail{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, f.err
}

func (f *fakeRosterSrv) Export(_ context.Context, trainingID string, format service.ExportFormat) (*service.RosterExport, error) {
	return f.export, f.err
}

func studentClaims(studentID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "u-" + studentID, Role: models.RoleStudent, StudentID: studentID}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}
}

func newTestContext(method, target, body string, claims *models.JWTClaims, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

type errorEnvelope struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestEnrollmentHandlerCreateSelf(t *testing.T) {
	srv := &fakeEnrollmentSrv{enrollment: &models.Enrollment{StudentID: "s-1", TrainingID: "tr-1", Status: models.EnrollmentStatusEnrolled}}
	h := NewEnrollmentHandler(srv, &fakeRosterSrv{})

	c, rec := newTestContext(http.MethodPost, "/trainings/tr-1/enrollments", `{"student_id":"s-1"}`, studentClaims("s-1"), gin.Param{Key: "id", Value: "tr-1"})
	h.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, srv.enrollReq)
	assert.Equal(t, "tr-1", srv.enrollReq.TrainingID)
	assert.Equal(t, "s-1", srv.enrollReq.StudentID)
}

func TestEnrollmentHandlerCreateForOtherStudentForbidden(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	h := NewEnrollmentHandler(srv, &fakeRosterSrv{})

	c, rec := newTestContext(http.MethodPost, "/trainings/tr-1/enrollments", `{"student_id":"s-2"}`, studentClaims("s-1"), gin.Param{Key: "id", Value: "tr-1"})
	h.Create(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, srv.enrollReq)
}

func TestEnrollmentHandlerCreateMapsServiceErrors(t *testing.T) {
	srv := &fakeEnrollmentSrv{err: appErrors.Clone(appErrors.ErrPolicyViolation, "booking window exceeded")}
	h := NewEnrollmentHandler(srv, &fakeRosterSrv{})

	c, rec := newTestContext(http.MethodPost, "/trainings/tr-1/enrollments", `{"student_id":"s-1"}`, adminClaims(), gin.Param{Key: "id", Value: "tr-1"})
	h.Create(c)

	assert.Equal(t, appErrors.ErrPolicyViolation.Status, rec.Code)
	assert.Equal(t, appErrors.ErrPolicyViolation.Code, decodeErrorCode(t, rec))
}

func TestEnrollmentHandlerCreateInvalidPayload(t *testing.T) {
	h := NewEnrollmentHandler(&fakeEnrollmentSrv{}, &fakeRosterSrv{})

	c, rec := newTestContext(http.MethodPost, "/trainings/tr-1/enrollments", `{`, adminClaims(), gin.Param{Key: "id", Value: "tr-1"})
	h.Create(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrollmentHandlerDeleteOutOfPolicyOnlyForAdmins(t *testing.T) {
	params := []gin.Param{{Key: "id", Value: "tr-1"}, {Key: "studentId", Value: "s-1"}}

	srv := &fakeEnrollmentSrv{}
	h := NewEnrollmentHandler(srv, &fakeRosterSrv{})
	c, rec := newTestContext(http.MethodDelete, "/trainings/tr-1/enrollments/s-1?reason=out_of_policy", "", studentClaims("s-1"), params...)
	h.Delete(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status(), rec.Body.String())
	require.NotNil(t, srv.cancelReq)
	assert.False(t, srv.cancelReq.IsAdmin)
	assert.False(t, srv.cancelReq.OutOfPolicy)

	srv = &fakeEnrollmentSrv{}
	h = NewEnrollmentHandler(srv, &fakeRosterSrv{})
	c, _ = newTestContext(http.MethodDelete, "/trainings/tr-1/enrollments/s-1?reason=out_of_policy", "", adminClaims(), params...)
	h.Delete(c)
	require.NotNil(t, srv.cancelReq)
	assert.True(t, srv.cancelReq.IsAdmin)
	assert.True(t, srv.cancelReq.OutOfPolicy)
}

func TestEnrollmentHandlerDeleteForeignEnrollmentForbidden(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	h := NewEnrollmentHandler(srv, &fakeRosterSrv{})

	c, rec := newTestContext(http.MethodDelete, "/trainings/tr-1/enrollments/s-2", "", studentClaims("s-1"),
		gin.Param{Key: "id", Value: "tr-1"}, gin.Param{Key: "studentId", Value: "s-2"})
	h.Delete(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, srv.cancelReq)
}

func TestEnrollmentHandlerActionPermissions(t *testing.T) {
	cases := []struct {
		name    string
		claims  *models.JWTClaims
		action  models.EnrollmentAction
		allowed bool
	}{
		{name: "student accepts own invitation", claims: studentClaims("s-1"), action: models.ActionAccept, allowed: true},
		{name: "student declines own invitation", claims: studentClaims("s-1"), action: models.ActionDecline, allowed: true},
		{name: "student cannot invite", claims: studentClaims("s-1"), action: models.ActionInvite, allowed: false},
		{name: "student cannot accept for others", claims: studentClaims("s-9"), action: models.ActionAccept, allowed: false},
		{name: "admin toggles paid", claims: adminClaims(), action: models.ActionTogglePaid, allowed: true},
		{name: "anonymous rejected", claims: nil, action: models.ActionAccept, allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := &fakeEnrollmentSrv{enrollment: &models.Enrollment{StudentID: "s-1", TrainingID: "tr-1"}}
			h := NewEnrollmentHandler(srv, &fakeRosterSrv{})
			body := `{"action":"` + string(tc.action) + `"}`
			c, rec := newTestContext(http.MethodPost, "/trainings/tr-1/enrollments/s-1/actions", body, tc.claims,
				gin.Param{Key: "id", Value: "tr-1"}, gin.Param{Key: "studentId", Value: "s-1"})

			h.Action(c)

			if tc.allowed {
				assert.Equal(t, http.StatusOK, rec.Code)
				require.NotNil(t, srv.actionReq)
				assert.Equal(t, tc.action, srv.actionReq.Action)
				assert.Equal(t, "s-1", srv.actionReq.StudentID)
			} else {
				assert.Equal(t, http.StatusForbidden, rec.Code)
				assert.Nil(t, srv.actionReq)
			}
		})
	}
}

func TestEnrollmentHandlerBulkMoveUsesPathSource(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	h := NewEnrollmentHandler(srv, &fakeRosterSrv{})

	body := `{"target_training_id":"tr-2","student_ids":["s-1","s-2"],"operation":"copy"}`
	c, rec := newTestContext(http.MethodPost, "/trainings/tr-1/bulk-move", body, adminClaims(), gin.Param{Key: "id", Value: "tr-1"})
	h.BulkMove(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, srv.bulkReq)
	assert.Equal(t, "tr-1", srv.bulkReq.SourceTrainingID)
	assert.Equal(t, service.BulkMoveOperationCopy, srv.bulkReq.Operation)
	assert.Equal(t, []string{"s-1", "s-2"}, srv.bulkReq.StudentIDs)
}

func TestEnrollmentHandlerListParsesFilter(t *testing.T) {
	roster := &fakeRosterSrv{}
	h := NewEnrollmentHandler(&fakeEnrollmentSrv{}, roster)

	c, rec := newTestContext(http.MethodGet, "/trainings/tr-1/enrollments?status=WAITLIST&page=2&limit=5&sort=enrolled_at", "", adminClaims(), gin.Param{Key: "id", Value: "tr-1"})
	h.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tr-1", roster.filter.TrainingID)
	assert.Equal(t, models.EnrollmentStatusWaitlist, roster.filter.Status)
	assert.Equal(t, 2, roster.filter.Page)
	assert.Equal(t, 5, roster.filter.PageSize)
	assert.Equal(t, "enrolled_at", roster.filter.SortBy)
}

func TestEnrollmentHandlerExportStreamsPayload(t *testing.T) {
	roster := &fakeRosterSrv{export: &service.RosterExport{Filename: "roster.csv", ContentType: "text/csv", Payload: []byte("Student\n")}}
	h := NewEnrollmentHandler(&fakeEnrollmentSrv{}, roster)

	c, rec := newTestContext(http.MethodGet, "/trainings/tr-1/roster?format=csv", "", adminClaims(), gin.Param{Key: "id", Value: "tr-1"})
	h.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "roster.csv")
	assert.Equal(t, "Student\n", rec.Body.String())
}

func TestEnrollmentHandlerExportError(t *testing.T) {
	roster := &fakeRosterSrv{err: appErrors.Clone(appErrors.ErrValidation, "unsupported format")}
	h := NewEnrollmentHandler(&fakeEnrollmentSrv{}, roster)

	c, rec := newTestContext(http.MethodGet, "/trainings/tr-1/roster?format=xls", "", adminClaims(), gin.Param{Key: "id", Value: "tr-1"})
	h.Export(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
