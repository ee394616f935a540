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

// SessionRepository persists scheduled class sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, course_id, term_id, date, start_time, end_time, is_locked, created_at, updated_at`

// FindByID fetches a single session.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindDetailByID fetches a session joined with its course name.
func (r *SessionRepository) FindDetailByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	const query = `SELECT s.id, s.course_id, s.term_id, s.date, s.start_time, s.end_time, s.is_locked,
        s.created_at, s.updated_at, c.name AS course_name
        FROM sessions s
        JOIN courses c ON c.id = s.course_id
        WHERE s.id = $1`
	var detail models.SessionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindMany returns every session matching the scope filter without
// pagination. Used by the absence calculator, which needs the full scope.
func (r *SessionRepository) FindMany(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.CourseID != "" {
		where = append(where, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.TermID != "" {
		where = append(where, fmt.Sprintf("term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE %s ORDER BY start_time ASC`,
		sessionColumns, strings.Join(where, " AND "))

	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	return sessions, nil
}

// List returns paginated session details matching the filter.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error) {
	base := `FROM sessions s JOIN courses c ON c.id = s.course_id`
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.CourseID != "" {
		where = append(where, fmt.Sprintf("s.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.TermID != "" {
		where = append(where, fmt.Sprintf("s.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("s.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("s.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"date":       "s.date",
		"start_time": "s.start_time",
		"created_at": "s.created_at",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "s.start_time"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.course_id, s.term_id, s.date, s.start_time, s.end_time,
        s.is_locked, s.created_at, s.updated_at, c.name AS course_name
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		base, whereClause, sortColumn, order, size, offset)

	var rows []models.SessionDetail
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return rows, total, nil
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = now
	session.UpdatedAt = now
	const query = `INSERT INTO sessions (id, course_id, term_id, date, start_time, end_time, is_locked, created_at, updated_at)
VALUES (:id, :course_id, :term_id, :date, :start_time, :end_time, :is_locked, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SetLocked persists the lock flag. Setting locked=true repeatedly is a
// no-op, which keeps the window-close side effect idempotent under races.
func (r *SessionRepository) SetLocked(ctx context.Context, id string, locked bool) error {
	const query = `UPDATE sessions SET is_locked = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, locked, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set session lock: %w", err)
	}
	return nil
}
