package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
	"github.com/noah-isme/training-enrollment-api/pkg/export"
)

type rosterStub struct {
	training *models.Training
	details  []models.EnrollmentDetail
}

func (r rosterStub) FindByID(ctx context.Context, id string) (*models.Training, error) {
	if r.training == nil || r.training.ID != id {
		return nil, sql.ErrNoRows
	}
	return r.training, nil
}

func (r rosterStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	if filter.PageSize < len(r.details) {
		return r.details[:filter.PageSize], len(r.details), nil
	}
	return r.details, len(r.details), nil
}

func (r rosterStub) ListDetailByTraining(ctx context.Context, trainingID string) ([]models.EnrollmentDetail, error) {
	return r.details, nil
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func newRosterServiceForTest() *RosterService {
	invited := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stub := rosterStub{
		training: &models.Training{ID: "tr-1", Title: "First Aid: Basics"},
		details: []models.EnrollmentDetail{
			{
				Enrollment:  models.Enrollment{StudentID: "s-1", TrainingID: "tr-1", Status: models.EnrollmentStatusEnrolled, EnrolledAt: invited.Add(-time.Hour), Paid: true},
				StudentName: "Ada",
				StudentMail: "ada@example.com",
				PracticeID:  "p-1",
			},
			{
				Enrollment:  models.Enrollment{StudentID: "s-2", TrainingID: "tr-1", Status: models.EnrollmentStatusWaitlistInvited, EnrolledAt: invited.Add(-30 * time.Minute), InvitedAt: ptrTime(invited)},
				StudentName: "Grace",
				StudentMail: "grace@example.com",
				PracticeID:  "p-2",
			},
		},
	}
	svc := NewRosterService(stub, stub, zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
	svc.now = func() time.Time { return invited }
	return svc
}

func TestRosterServiceExportCSV(t *testing.T) {
	svc := newRosterServiceForTest()

	out, err := svc.Export(context.Background(), "tr-1", ExportFormatCSV)
	require.NoError(t, err)
	require.Equal(t, "text/csv", out.ContentType)
	require.Equal(t, "roster_first_aid-_basics_20260302_090000.csv", out.Filename)

	lines := strings.Split(strings.TrimSpace(string(out.Payload)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Student,Email,Practice,Status,Enrolled At,Invited At,Paid", lines[0])
	require.Contains(t, lines[1], "Ada,ada@example.com,p-1,enrolled")
	require.True(t, strings.HasSuffix(lines[1], ",,yes"))
	require.Contains(t, lines[2], "waitlist-invited,2026-03-02T08:30:00Z,2026-03-02T09:00:00Z,no")
}

func TestRosterServiceExportPDF(t *testing.T) {
	svc := newRosterServiceForTest()

	out, err := svc.Export(context.Background(), "tr-1", ExportFormatPDF)
	require.NoError(t, err)
	require.Equal(t, "application/pdf", out.ContentType)
	require.True(t, strings.HasPrefix(string(out.Payload), "%PDF"))
}

func TestRosterServiceExportErrors(t *testing.T) {
	svc := newRosterServiceForTest()

	_, err := svc.Export(context.Background(), "tr-1", "xlsx")
	require.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Export(context.Background(), "missing", ExportFormatCSV)
	require.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestRosterServiceList(t *testing.T) {
	svc := newRosterServiceForTest()

	items, pagination, err := svc.List(context.Background(), models.EnrollmentFilter{TrainingID: "tr-1", PageSize: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, &models.Pagination{Page: 1, PageSize: 1, TotalCount: 2}, pagination)

	_, _, err = svc.List(context.Background(), models.EnrollmentFilter{TrainingID: "tr-1", Status: "cancelled"})
	require.True(t, errors.Is(err, appErrors.ErrValidation))
}
