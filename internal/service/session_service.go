package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type sessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindDetailByID(ctx context.Context, id string) (*models.SessionDetail, error)
	FindMany(ctx context.Context, filter models.SessionFilter) ([]models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error)
	Create(ctx context.Context, session *models.Session) error
	SetLocked(ctx context.Context, id string, locked bool) error
}

type sessionPolicyFlags interface {
	GracePeriodMinutes(ctx context.Context) int
	EarlyOpenMinutes(ctx context.Context) int
}

type sessionAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SessionService manages scheduled class sessions and the supervisor
// lock/unlock override.
type SessionService struct {
	repo      sessionRepository
	flags     sessionPolicyFlags
	policy    *EditabilityPolicy
	audit     sessionAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService constructs the service.
func NewSessionService(repo sessionRepository, flags sessionPolicyFlags, policy *EditabilityPolicy, audit sessionAuditLogger, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewEditabilityPolicy()
	}
	return &SessionService{repo: repo, flags: flags, policy: policy, audit: audit, validator: validate, logger: logger, now: time.Now}
}

// CreateSessionRequest describes a scheduling payload.
type CreateSessionRequest struct {
	CourseID  string    `json:"course_id" validate:"required"`
	TermID    string    `json:"term_id" validate:"required"`
	Date      string    `json:"date" validate:"required"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

// Create schedules a session. The end instant must follow the start.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}

	session := &models.Session{
		ID:        uuid.NewString(),
		CourseID:  req.CourseID,
		TermID:    req.TermID,
		Date:      date,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	return session, nil
}

// Get returns a session with its computed editability window.
func (s *SessionService) Get(ctx context.Context, id string) (*models.SessionDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	grace := s.flags.GracePeriodMinutes(ctx)
	earlyOpen := s.flags.EarlyOpenMinutes(ctx)
	decision := s.policy.Evaluate(&detail.Session, s.now().UTC(), grace, earlyOpen)
	detail.IsEditable = decision.Editable
	until := s.policy.EditableUntil(&detail.Session, grace)
	detail.EditableUntil = &until
	return detail, nil
}

// List returns sessions matching the filter with pagination.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	grace := s.flags.GracePeriodMinutes(ctx)
	earlyOpen := s.flags.EarlyOpenMinutes(ctx)
	now := s.now().UTC()
	for i := range rows {
		decision := s.policy.Evaluate(&rows[i].Session, now, grace, earlyOpen)
		rows[i].IsEditable = decision.Editable
		until := s.policy.EditableUntil(&rows[i].Session, grace)
		rows[i].EditableUntil = &until
	}

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return rows, pagination, nil
}

// SetLocked applies the supervisor lock/unlock override. Unlocking is the
// only path back from a locked session; the standard write path never does
// it.
func (s *SessionService) SetLocked(ctx context.Context, id string, locked bool, actor *models.JWTClaims) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.IsLocked == locked {
		return session, nil
	}
	if err := s.repo.SetLocked(ctx, id, locked); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session lock")
	}
	session.IsLocked = locked

	action := models.AuditActionSessionLock
	if !locked {
		action = models.AuditActionSessionUnlock
	}
	s.emitAudit(ctx, actor, action, id)
	return session, nil
}

func (s *SessionService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, sessionID string) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"session_id": sessionID})
	log := &models.AuditLog{
		Action:     action,
		Resource:   "session",
		ResourceID: &sessionID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "session-service",
	}
	if actor != nil && actor.UserID != "" {
		id := actor.UserID
		log.UserID = &id
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record session audit", zap.Error(err))
	}
}
