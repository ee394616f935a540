package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/okulsys/attendance-api/internal/models"
)

func absenceSessions(n int) []models.Session {
	sessions := make([]models.Session, n)
	for i := range sessions {
		sessions[i] = models.Session{ID: fmt.Sprintf("sess-%d", i+1)}
	}
	return sessions
}

func recordsFor(statuses map[string]models.AttendanceStatus) []models.AttendanceRecord {
	records := make([]models.AttendanceRecord, 0, len(statuses))
	for sessionID, status := range statuses {
		records = append(records, models.AttendanceRecord{
			SessionID: sessionID,
			StudentID: "student-1",
			Status:    status,
		})
	}
	return records
}

func TestAbsencePercentageEmptyHistory(t *testing.T) {
	calc := NewAbsenceCalculator()
	pct, absences := calc.Percentage(nil, nil, true)
	assert.Equal(t, 0.0, pct)
	assert.Equal(t, 0, absences)
}

func TestAbsencePercentageAllPresent(t *testing.T) {
	calc := NewAbsenceCalculator()
	sessions := absenceSessions(4)
	records := recordsFor(map[string]models.AttendanceStatus{
		"sess-1": models.AttendanceStatusPresent,
		"sess-2": models.AttendanceStatusPresent,
		"sess-3": models.AttendanceStatusPresent,
		"sess-4": models.AttendanceStatusPresent,
	})

	pct, absences := calc.Percentage(sessions, records, true)
	assert.Equal(t, 0.0, pct)
	assert.Equal(t, 0, absences)
}

func TestAbsencePercentageAllUnexcused(t *testing.T) {
	calc := NewAbsenceCalculator()
	sessions := absenceSessions(3)
	records := recordsFor(map[string]models.AttendanceStatus{
		"sess-1": models.AttendanceStatusUnexcused,
		"sess-2": models.AttendanceStatusUnexcused,
		"sess-3": models.AttendanceStatusUnexcused,
	})

	pct, absences := calc.Percentage(sessions, records, false)
	assert.Equal(t, 100.0, pct)
	assert.Equal(t, 3, absences)
}

func TestAbsencePercentageExcusedPolicyToggle(t *testing.T) {
	calc := NewAbsenceCalculator()
	sessions := absenceSessions(2)
	records := recordsFor(map[string]models.AttendanceStatus{
		"sess-1": models.AttendanceStatusExcused,
		"sess-2": models.AttendanceStatusExcused,
	})

	counted, absences := calc.Percentage(sessions, records, true)
	assert.Equal(t, 100.0, counted)
	assert.Equal(t, 2, absences)

	ignored, none := calc.Percentage(sessions, records, false)
	assert.Equal(t, 0.0, ignored)
	assert.Equal(t, 0, none)
}

func TestAbsencePercentageMissingRecordIsAbsent(t *testing.T) {
	calc := NewAbsenceCalculator()
	sessions := absenceSessions(4)
	records := recordsFor(map[string]models.AttendanceStatus{
		"sess-1": models.AttendanceStatusPresent,
	})

	pct, absences := calc.Percentage(sessions, records, false)
	assert.Equal(t, 75.0, pct)
	assert.Equal(t, 3, absences)
}

func TestAbsencePercentageRounding(t *testing.T) {
	calc := NewAbsenceCalculator()

	// 1 of 3 = 33.333... rounds to 33.3.
	sessions := absenceSessions(3)
	records := recordsFor(map[string]models.AttendanceStatus{
		"sess-1": models.AttendanceStatusUnexcused,
		"sess-2": models.AttendanceStatusPresent,
		"sess-3": models.AttendanceStatusPresent,
	})
	pct, _ := calc.Percentage(sessions, records, false)
	assert.Equal(t, 33.3, pct)

	// 2 of 3 = 66.666... rounds half up to 66.7.
	records = recordsFor(map[string]models.AttendanceStatus{
		"sess-1": models.AttendanceStatusUnexcused,
		"sess-2": models.AttendanceStatusUnexcused,
		"sess-3": models.AttendanceStatusPresent,
	})
	pct, _ = calc.Percentage(sessions, records, false)
	assert.Equal(t, 66.7, pct)

	// 1 of 16 = 6.25 rounds half up to 6.3.
	sessions = absenceSessions(16)
	records = recordsFor(map[string]models.AttendanceStatus{"sess-1": models.AttendanceStatusUnexcused})
	for i := 2; i <= 16; i++ {
		records = append(records, models.AttendanceRecord{
			SessionID: fmt.Sprintf("sess-%d", i),
			StudentID: "student-1",
			Status:    models.AttendanceStatusPresent,
		})
	}
	pct, _ = calc.Percentage(sessions, records, false)
	assert.Equal(t, 6.3, pct)
}

func TestAbsenceSummary(t *testing.T) {
	calc := NewAbsenceCalculator()
	sessions := absenceSessions(10)
	records := recordsFor(map[string]models.AttendanceStatus{
		"sess-1": models.AttendanceStatusUnexcused,
		"sess-2": models.AttendanceStatusUnexcused,
		"sess-3": models.AttendanceStatusUnexcused,
	})
	for i := 4; i <= 10; i++ {
		records = append(records, models.AttendanceRecord{
			SessionID: fmt.Sprintf("sess-%d", i),
			StudentID: "student-1",
			Status:    models.AttendanceStatusPresent,
		})
	}

	summary := calc.Summary("student-1", "course-1", "term-1", sessions, records, false)
	assert.Equal(t, 10, summary.TotalSessions)
	assert.Equal(t, 3, summary.AbsenceCount)
	assert.Equal(t, 30.0, summary.Percentage)
	assert.Equal(t, "student-1", summary.StudentID)
}
