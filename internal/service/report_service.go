package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencampus/course-reg-api/internal/models"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
	"github.com/opencampus/course-reg-api/pkg/export"
	"github.com/opencampus/course-reg-api/pkg/storage"
)

type minCreditSource interface {
	ListUnderMinCredits(ctx context.Context, termID string, defaultMin int) ([]models.MinCreditReportRow, error)
}

// MinCreditReport describes a rendered report artifact and its download token.
type MinCreditReport struct {
	ReportID  string              `json:"report_id"`
	TermID    string              `json:"term_id"`
	Format    models.ReportFormat `json:"format"`
	RowCount  int                 `json:"row_count"`
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ReportService renders the term-close minimum-credit report. Minimums are
// never enforced per request, so the registrar pulls this after a term closes
// to see who ended up under the floor.
type ReportService struct {
	students   minCreditSource
	csv        *export.CSVExporter
	pdf        *export.PDFExporter
	files      *storage.LocalStorage
	signer     *storage.SignedURLSigner
	defaultMin int
	logger     *zap.Logger
}

// NewReportService constructs a ReportService instance.
func NewReportService(students minCreditSource, files *storage.LocalStorage, signer *storage.SignedURLSigner, defaultMin int, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		students:   students,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		files:      files,
		signer:     signer,
		defaultMin: defaultMin,
		logger:     logger,
	}
}

// GenerateMinCredit renders the under-minimum report for a term and stores it,
// returning a signed download token.
func (s *ReportService) GenerateMinCredit(ctx context.Context, termID string, format models.ReportFormat) (*MinCreditReport, error) {
	if format != models.ReportFormatCSV && format != models.ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report format %q", format))
	}

	rows, err := s.students.ListUnderMinCredits(ctx, termID, s.defaultMin)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect report rows")
	}

	dataset := export.Dataset{
		Headers: []string{"Student Number", "Name", "Enrolled Credits", "Minimum"},
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, row := range rows {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student Number":   row.StudentNumber,
			"Name":             row.StudentName,
			"Enrolled Credits": strconv.Itoa(row.EnrolledCredits),
			"Minimum":          strconv.Itoa(row.MinCredits),
		})
	}

	var rendered []byte
	switch format {
	case models.ReportFormatCSV:
		rendered, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		rendered, err = s.pdf.Render(dataset, fmt.Sprintf("Students Under Minimum Credits - Term %s", termID))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	reportID := uuid.NewString()
	filename := fmt.Sprintf("min-credit-%s-%s.%s", termID, reportID, format)
	relPath, err := s.files.Save(filename, rendered)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store report")
	}

	token, expiresAt, err := s.signer.Generate(reportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}

	s.logger.Info("min-credit report generated",
		zap.String("report_id", reportID),
		zap.String("term_id", termID),
		zap.String("format", string(format)),
		zap.Int("rows", len(rows)))

	return &MinCreditReport{
		ReportID:  reportID,
		TermID:    termID,
		Format:    format,
		RowCount:  len(rows),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload validates a signed token and returns the stored file path.
func (s *ReportService) ResolveDownload(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	return s.files.Path(relPath), nil
}
