package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/okulsys/attendance-api/internal/models"
)

// AttendanceRepository persists per-student attendance records. The
// (session_id, student_id) pair carries a unique constraint, so writes
// go through an upsert and stay idempotent.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert inserts a record or overwrites the status of an existing one.
// The stored row is returned so callers see the authoritative state.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.TakenAt.IsZero() {
		record.TakenAt = now
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	query := `INSERT INTO attendance_records (id, session_id, student_id, status, taken_by, taken_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id, student_id)
DO UPDATE SET status = EXCLUDED.status, taken_by = EXCLUDED.taken_by, taken_at = EXCLUDED.taken_at
RETURNING id, session_id, student_id, status, taken_by, taken_at, created_at`
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query, record.ID, record.SessionID, record.StudentID, record.Status, record.TakenBy, record.TakenAt, record.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance record: %w", err)
	}
	return &stored, nil
}

// ListBySession returns all records of one session ordered by student.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	const query = `SELECT id, session_id, student_id, status, taken_by, taken_at, created_at
FROM attendance_records WHERE session_id = $1 ORDER BY student_id ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session attendance: %w", err)
	}
	return records, nil
}

// FindByStudentAcrossSessions returns the student's records restricted to
// the given session set. Sessions without a record yield no row; the
// calculator treats those as absences.
func (r *AttendanceRepository) FindByStudentAcrossSessions(ctx context.Context, studentID string, sessionIDs []string) ([]models.AttendanceRecord, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id, session_id, student_id, status, taken_by, taken_at, created_at
FROM attendance_records WHERE student_id = $1 AND session_id IN (%s)`, placeholdersFrom(2, len(sessionIDs)))
	args := make([]interface{}, 0, len(sessionIDs)+1)
	args = append(args, studentID)
	for _, id := range sessionIDs {
		args = append(args, id)
	}
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("find student attendance: %w", err)
	}
	return records, nil
}

// ReportRows aggregates per-student status counts for the report export.
// Every enrolled student appears even with zero records.
func (r *AttendanceRepository) ReportRows(ctx context.Context, courseID, termID string) ([]models.AttendanceReportRow, error) {
	const query = `SELECT
    u.id AS student_id,
    u.full_name AS student_name,
    c.id AS course_id,
    c.name AS course_name,
    COUNT(DISTINCT s.id) AS total_sessions,
    COUNT(ar.id) FILTER (WHERE ar.status = 'present') AS present,
    COUNT(ar.id) FILTER (WHERE ar.status = 'excused') AS excused,
    COUNT(ar.id) FILTER (WHERE ar.status = 'unexcused') AS unexcused
FROM courses c
JOIN sessions s ON s.course_id = c.id AND s.term_id = $2
JOIN enrollments e ON e.class_id = c.class_id AND e.term_id = $2
JOIN users u ON u.id = e.student_id
LEFT JOIN attendance_records ar ON ar.session_id = s.id AND ar.student_id = u.id
WHERE c.id = $1
GROUP BY u.id, u.full_name, c.id, c.name
ORDER BY u.full_name ASC`
	var rows []models.AttendanceReportRow
	if err := r.db.SelectContext(ctx, &rows, query, courseID, termID); err != nil {
		return nil, fmt.Errorf("attendance report rows: %w", err)
	}
	return rows, nil
}

func placeholdersFrom(start, n int) string {
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(values, ",")
}
