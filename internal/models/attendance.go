package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent   AttendanceStatus = "present"
	AttendanceStatusExcused   AttendanceStatus = "excused"
	AttendanceStatusUnexcused AttendanceStatus = "unexcused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusExcused, AttendanceStatusUnexcused:
		return true
	default:
		return false
	}
}

// CountsAsAbsence reports whether the status contributes to the absence
// percentage under the given counting policy.
func (s AttendanceStatus) CountsAsAbsence(countExcusedAsAbsence bool) bool {
	switch s {
	case AttendanceStatusUnexcused:
		return true
	case AttendanceStatusExcused:
		return countExcusedAsAbsence
	default:
		return false
	}
}

// AttendanceRecord is the observed status of one student for one session.
// At most one record exists per (session, student) pair.
type AttendanceRecord struct {
	ID        string           `db:"id" json:"id"`
	SessionID string           `db:"session_id" json:"session_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Status    AttendanceStatus `db:"status" json:"status"`
	TakenBy   string           `db:"taken_by" json:"taken_by"`
	TakenAt   time.Time        `db:"taken_at" json:"taken_at"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// AttendanceEntry is one (student, status) pair inside a submission batch.
type AttendanceEntry struct {
	StudentID string `json:"student_id" validate:"required"`
	Status    string `json:"status" validate:"required,attendance_status"`
}

// AbsenceSummary reports a student's absence percentage within a scope.
type AbsenceSummary struct {
	StudentID     string  `json:"student_id"`
	CourseID      string  `json:"course_id,omitempty"`
	TermID        string  `json:"term_id,omitempty"`
	TotalSessions int     `json:"total_sessions"`
	AbsenceCount  int     `json:"absence_count"`
	Percentage    float64 `json:"percentage"`
}

// AttendanceReportRow is one line of the absence report export.
type AttendanceReportRow struct {
	StudentID     string  `db:"student_id" json:"student_id"`
	StudentName   string  `db:"student_name" json:"student_name"`
	CourseID      string  `db:"course_id" json:"course_id"`
	CourseName    string  `db:"course_name" json:"course_name"`
	TotalSessions int     `db:"total_sessions" json:"total_sessions"`
	Present       int     `db:"present" json:"present"`
	Excused       int     `db:"excused" json:"excused"`
	Unexcused     int     `db:"unexcused" json:"unexcused"`
	Percentage    float64 `db:"-" json:"percentage"`
}
