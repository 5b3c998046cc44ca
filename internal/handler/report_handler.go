package handler

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/opencampus/course-reg-api/internal/models"
	"github.com/opencampus/course-reg-api/internal/service"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
	"github.com/opencampus/course-reg-api/pkg/response"
)

type reportService interface {
	GenerateMinCredit(ctx context.Context, termID string, format models.ReportFormat) (*service.MinCreditReport, error)
	ResolveDownload(token string) (string, error)
}

// ReportHandler exposes term-close report generation and download.
type ReportHandler struct {
	service reportService
}

// NewReportHandler creates a new handler.
func NewReportHandler(svc reportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// MinCredit godoc
// @Summary Generate the minimum-credit report
// @Description Render the under-minimum report for a term and return a signed download token
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param term_id query string true "Term ID"
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {object} response.Envelope
// @Router /reports/min-credits [post]
func (h *ReportHandler) MinCredit(c *gin.Context) {
	termID := c.Query("term_id")
	if termID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term_id is required"))
		return
	}
	format := models.ReportFormat(c.DefaultQuery("format", string(models.ReportFormatCSV)))

	report, err := h.service.GenerateMinCredit(c.Request.Context(), termID, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, report, nil)
}

// Download godoc
// @Summary Download a generated report
// @Description Serve a report file referenced by a signed token; the token is the only credential
// @Tags Reports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /reports/download [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	path, err := h.service.ResolveDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.FileAttachment(path, filepath.Base(path))
}
