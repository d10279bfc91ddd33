package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
	"github.com/campuskit/attendance-api/pkg/export"
)

// ExportFormat selects the rendering of an eligibility export.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type eligibilityReporter interface {
	CourseEligibility(ctx context.Context, courseID, actorID string, role models.UserRole) (*models.CourseEligibilityReport, error)
}

// ExportService renders eligibility reports as downloadable files.
type ExportService struct {
	reports eligibilityReporter
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewExportService constructs the export service.
func NewExportService(reports eligibilityReporter, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		reports: reports,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

// ExportFile is a rendered report ready to send to the client.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// CourseEligibility renders the course eligibility report in the requested
// format, honoring the same access rules as the JSON report.
func (s *ExportService) CourseEligibility(ctx context.Context, courseID string, format ExportFormat, actorID string, role models.UserRole) (*ExportFile, error) {
	report, err := s.reports.CourseEligibility(ctx, courseID, actorID, role)
	if err != nil {
		return nil, err
	}

	data := eligibilityDataset(report)
	switch format {
	case ExportFormatCSV:
		body, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render CSV")
		}
		return &ExportFile{
			Filename:    fmt.Sprintf("eligibility-%s.csv", report.CourseID),
			ContentType: "text/csv",
			Body:        body,
		}, nil
	case ExportFormatPDF:
		title := fmt.Sprintf("Attendance Eligibility - %s", report.CourseName)
		body, err := s.pdf.Render(data, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render PDF")
		}
		return &ExportFile{
			Filename:    fmt.Sprintf("eligibility-%s.pdf", report.CourseID),
			ContentType: "application/pdf",
			Body:        body,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func eligibilityDataset(report *models.CourseEligibilityReport) export.Dataset {
	headers := []string{"Student", "Email", "Attended", "Finished", "Planned", "Attendance %", "Eligible"}
	rows := make([]map[string]string, 0, len(report.Items))
	for _, item := range report.Items {
		eligible := "no"
		if item.Eligible {
			eligible = "yes"
		}
		rows = append(rows, map[string]string{
			"Student":      item.Student.FullName,
			"Email":        item.Student.Email,
			"Attended":     strconv.Itoa(item.Attended),
			"Finished":     strconv.Itoa(item.FinishedSessions),
			"Planned":      strconv.Itoa(item.PlannedSessions),
			"Attendance %": strconv.FormatFloat(item.AttendancePct, 'f', 2, 64),
			"Eligible":     eligible,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
