package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/okulsys/attendance-api/internal/middleware"
	"github.com/okulsys/attendance-api/internal/service"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
	"github.com/okulsys/attendance-api/pkg/response"
)

// StudentHandler exposes per-student absence figures.
type StudentHandler struct {
	attendance *service.AttendanceService
}

// NewStudentHandler constructs a student handler.
func NewStudentHandler(attendance *service.AttendanceService) *StudentHandler {
	return &StudentHandler{attendance: attendance}
}

// AbsenceSummary godoc
// @Summary Student absence summary
// @Description Absence percentage of a student within a course and term
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param courseId query string true "Course ID"
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/{id}/absence-summary [get]
func (h *StudentHandler) AbsenceSummary(c *gin.Context) {
	courseID := c.Query("courseId")
	termID := c.Query("termId")
	if courseID == "" || termID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "courseId and termId are required"))
		return
	}
	summary, cacheHit, err := h.attendance.StudentSummary(c.Request.Context(), c.Param("id"), courseID, termID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}
