package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
	"github.com/noah-isme/training-enrollment-api/pkg/export"
)

type rosterRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	ListDetailByTraining(ctx context.Context, trainingID string) ([]models.EnrollmentDetail, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat is the rendered roster format.
type ExportFormat string

// Supported roster formats.
const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// RosterExport is a rendered roster ready to be streamed to the client.
type RosterExport struct {
	Filename    string
	ContentType string
	Payload     []byte
}

var rosterHeaders = []string{"Student", "Email", "Practice", "Status", "Enrolled At", "Invited At", "Paid"}

// RosterService lists and renders training rosters for operators.
type RosterService struct {
	trainings capacityTrainingReader
	roster    rosterRepository
	csv       csvRenderer
	pdf       pdfRenderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewRosterService constructs an RosterService.
func NewRosterService(trainings capacityTrainingReader, roster rosterRepository, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &RosterService{trainings: trainings, roster: roster, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// Export renders the enrollment list of a training in FIFO order.
func (s *RosterService) Export(ctx context.Context, trainingID string, format ExportFormat) (*RosterExport, error) {
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", format))
	}
	training, err := s.trainings.FindByID(ctx, trainingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "training not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load training")
	}
	details, err := s.roster.ListDetailByTraining(ctx, trainingID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	dataset := buildRosterDataset(details)
	out := &RosterExport{Filename: s.buildFilename(training, format)}
	switch format {
	case ExportFormatPDF:
		out.ContentType = "application/pdf"
		out.Payload, err = s.pdf.Render(dataset, "Roster "+training.Title)
	default:
		out.ContentType = "text/csv"
		out.Payload, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	s.logger.Debug("roster exported",
		zap.String("training_id", trainingID),
		zap.String("format", string(format)),
		zap.Int("rows", len(details)))
	return out, nil
}

// List returns one page of a training's enrollments.
func (s *RosterService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if filter.TrainingID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "training is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %s", filter.Status))
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	items, total, err := s.roster.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func buildRosterDataset(details []models.EnrollmentDetail) export.Dataset {
	rows := make([][]string, 0, len(details))
	for _, d := range details {
		paid := "no"
		if d.Paid {
			paid = "yes"
		}
		rows = append(rows, []string{
			d.StudentName,
			d.StudentMail,
			d.PracticeID,
			string(d.Status),
			d.EnrolledAt.UTC().Format(time.RFC3339),
			formatReportTime(d.InvitedAt),
			paid,
		})
	}
	return export.Dataset{Headers: rosterHeaders, Rows: rows}
}

func (s *RosterService) buildFilename(training *models.Training, format ExportFormat) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	name := training.Title
	if name == "" {
		name = training.ID
	}
	return fmt.Sprintf("roster_%s_%s.%s", strings.ToLower(sanitizeFilename(name)), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_", "\"", "")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
