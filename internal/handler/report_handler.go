package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/okulsys/attendance-api/internal/service"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
	"github.com/okulsys/attendance-api/pkg/response"
)

// ReportHandler streams rendered absence reports.
type ReportHandler struct {
	export *service.ExportService
}

// NewReportHandler constructs a report handler.
func NewReportHandler(export *service.ExportService) *ReportHandler {
	return &ReportHandler{export: export}
}

// Absence godoc
// @Summary Export absence report
// @Description Render the per-student absence report as CSV or PDF
// @Tags Reports
// @Produce octet-stream
// @Security BearerAuth
// @Param courseId query string true "Course ID"
// @Param termId query string true "Term ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /reports/absence [get]
func (h *ReportHandler) Absence(c *gin.Context) {
	courseID := c.Query("courseId")
	termID := c.Query("termId")
	if courseID == "" || termID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "courseId and termId are required"))
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))

	result, err := h.export.AbsenceReport(c.Request.Context(), courseID, termID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(200, result.ContentType, result.Bytes)
}
