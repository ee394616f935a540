package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
	"github.com/okulsys/attendance-api/pkg/export"
)

type exportReportRepository interface {
	ReportRows(ctx context.Context, courseID, termID string) ([]models.AttendanceReportRow, error)
}

type exportPolicyFlags interface {
	CountExcusedAsAbsence(ctx context.Context) bool
}

// ExportFormat selects the rendered output.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportService renders absence reports as CSV or PDF.
type ExportService struct {
	repo   exportReportRepository
	flags  exportPolicyFlags
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs the service.
func NewExportService(repo exportReportRepository, flags exportPolicyFlags, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		repo:   repo,
		flags:  flags,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
		now:    time.Now,
	}
}

// ExportResult carries rendered bytes with their content type.
type ExportResult struct {
	ContentType string
	Filename    string
	Bytes       []byte
}

// AbsenceReport renders the per-student absence report for a course/term
// scope. Percentages follow the same counting policy and rounding as the
// absence calculator.
func (s *ExportService) AbsenceReport(ctx context.Context, courseID, termID string, format ExportFormat) (*ExportResult, error) {
	rows, err := s.repo.ReportRows(ctx, courseID, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report rows")
	}

	countExcused := s.flags.CountExcusedAsAbsence(ctx)
	dataset := export.Dataset{
		Title:       "Absence Report",
		Columns:     []string{"Student", "Course", "Sessions", "Present", "Excused", "Unexcused", "Absence %"},
		GeneratedAt: s.now().UTC(),
	}
	for _, row := range rows {
		// Sessions without a record count as absences, like the calculator.
		unrecorded := row.TotalSessions - row.Present - row.Excused - row.Unexcused
		absences := unrecorded + row.Unexcused
		if countExcused {
			absences += row.Excused
		}
		pct := 0.0
		if row.TotalSessions > 0 {
			pct = roundOneDecimal(float64(absences) / float64(row.TotalSessions) * 100)
		}
		dataset.Rows = append(dataset.Rows, []string{
			row.StudentName,
			row.CourseName,
			fmt.Sprintf("%d", row.TotalSessions),
			fmt.Sprintf("%d", row.Present),
			fmt.Sprintf("%d", row.Excused),
			fmt.Sprintf("%d", row.Unexcused),
			fmt.Sprintf("%.1f", pct),
		})
	}

	switch format {
	case ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{ContentType: "text/csv", Filename: "absence-report.csv", Bytes: data}, nil
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{ContentType: "application/pdf", Filename: "absence-report.pdf", Bytes: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
