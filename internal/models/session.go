package models

import "time"

// Session represents one scheduled meeting of a course.
//
// IsLocked is monotonic on the standard edit path: once true it stays true
// until a supervisor explicitly unlocks the session.
type Session struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	TermID    string    `db:"term_id" json:"term_id"`
	Date      time.Time `db:"date" json:"date"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
	IsLocked  bool      `db:"is_locked" json:"is_locked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SessionDetail extends a session with course metadata and the computed
// editability window for API consumers.
type SessionDetail struct {
	Session
	CourseName    string     `db:"course_name" json:"course_name"`
	IsEditable    bool       `db:"-" json:"is_editable"`
	EditableUntil *time.Time `db:"-" json:"editable_until,omitempty"`
}

// SessionFilter scopes session lookups.
type SessionFilter struct {
	CourseID  string
	TermID    string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
