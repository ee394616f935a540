package service

import (
	"math"

	"github.com/okulsys/attendance-api/internal/models"
)

// AbsenceCalculator computes per-student absence percentages over a set of
// sessions. It is stateless; the counting policy is passed per call.
type AbsenceCalculator struct{}

// NewAbsenceCalculator constructs the calculator.
func NewAbsenceCalculator() *AbsenceCalculator {
	return &AbsenceCalculator{}
}

// Percentage computes the absence percentage for one student across the
// given sessions. Records must belong to the same student; they are indexed
// by session id. A session without a record counts as an absence:
// unrecorded attendance is absent, not present.
//
// The result is rounded to one decimal place, half up. Zero sessions yield
// zero, never an error.
func (c *AbsenceCalculator) Percentage(sessions []models.Session, records []models.AttendanceRecord, countExcusedAsAbsence bool) (float64, int) {
	total := len(sessions)
	if total == 0 {
		return 0, 0
	}

	bySession := make(map[string]models.AttendanceStatus, len(records))
	for _, rec := range records {
		bySession[rec.SessionID] = rec.Status
	}

	absences := 0
	for _, session := range sessions {
		status, ok := bySession[session.ID]
		if !ok {
			absences++
			continue
		}
		if status.CountsAsAbsence(countExcusedAsAbsence) {
			absences++
		}
	}

	return roundOneDecimal(float64(absences) / float64(total) * 100), absences
}

// Summary builds the full summary for a scope.
func (c *AbsenceCalculator) Summary(studentID, courseID, termID string, sessions []models.Session, records []models.AttendanceRecord, countExcusedAsAbsence bool) models.AbsenceSummary {
	pct, absences := c.Percentage(sessions, records, countExcusedAsAbsence)
	return models.AbsenceSummary{
		StudentID:     studentID,
		CourseID:      courseID,
		TermID:        termID,
		TotalSessions: len(sessions),
		AbsenceCount:  absences,
		Percentage:    pct,
	}
}

// roundOneDecimal rounds half up to one decimal place.
func roundOneDecimal(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}
