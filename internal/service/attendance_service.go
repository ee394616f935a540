package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type attendanceSessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	SetLocked(ctx context.Context, id string, locked bool) error
	FindMany(ctx context.Context, filter models.SessionFilter) ([]models.Session, error)
}

type attendanceRecordRepository interface {
	Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	FindByStudentAcrossSessions(ctx context.Context, studentID string, sessionIDs []string) ([]models.AttendanceRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

type attendanceTermReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

type attendanceCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CourseOwnership is the authorization collaborator consulted before any
// mutation.
type CourseOwnership interface {
	IsOwnedByTeacher(ctx context.Context, courseID, teacherID string) (bool, error)
}

// NotificationDispatcher receives threshold warnings. The attendance writer
// only decides when to call it; delivery channels are its concern.
type NotificationDispatcher interface {
	Notify(ctx context.Context, userID, title, body string) error
}

type attendancePolicyFlags interface {
	CountExcusedAsAbsence(ctx context.Context) bool
	GracePeriodMinutes(ctx context.Context) int
	EarlyOpenMinutes(ctx context.Context) int
}

type attendanceAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AttendanceService orchestrates attendance writes: editability, idempotent
// upserts, absence recomputation and threshold notifications.
type AttendanceService struct {
	sessions  attendanceSessionRepository
	records   attendanceRecordRepository
	terms     attendanceTermReader
	courses   attendanceCourseReader
	ownership CourseOwnership
	flags     attendancePolicyFlags
	policy    *EditabilityPolicy
	calc      *AbsenceCalculator
	notifier  NotificationDispatcher
	audit     attendanceAuditLogger
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(
	sessions attendanceSessionRepository,
	records attendanceRecordRepository,
	terms attendanceTermReader,
	courses attendanceCourseReader,
	ownership CourseOwnership,
	flags attendancePolicyFlags,
	policy *EditabilityPolicy,
	notifier NotificationDispatcher,
	audit attendanceAuditLogger,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewEditabilityPolicy()
	}
	svc := &AttendanceService{
		sessions:  sessions,
		records:   records,
		terms:     terms,
		courses:   courses,
		ownership: ownership,
		flags:     flags,
		policy:    policy,
		calc:      NewAbsenceCalculator(),
		notifier:  notifier,
		audit:     audit,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToLower(fl.Field().String())).Valid()
	})
	return svc
}

// SubmitAttendanceRequest is a batch of per-student statuses for a session.
type SubmitAttendanceRequest struct {
	SessionID string                   `json:"session_id" validate:"required"`
	Entries   []models.AttendanceEntry `json:"entries" validate:"required,min=1,dive"`
}

// SubmitResult summarises a successful submission.
type SubmitResult struct {
	UpdatedCount  int                     `json:"updated_count"`
	Notifications int                     `json:"notifications"`
	Summaries     []models.AbsenceSummary `json:"summaries"`
}

// Submit records attendance for a batch of students.
//
// Order of operations is fixed: validation, ownership, editability (with its
// lock side effect), all upserts, then per-student recomputation with
// threshold notifications. Notification failures never fail the write.
func (s *AttendanceService) Submit(ctx context.Context, req SubmitAttendanceRequest, claims *models.JWTClaims) (*SubmitResult, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}

	// Step 1: the whole batch is rejected when any status is invalid.
	// Nothing is written before this passes.
	for _, entry := range req.Entries {
		if !models.AttendanceStatus(strings.ToLower(entry.Status)).Valid() {
			return nil, appErrors.WithDetail(appErrors.ErrInvalidStatus, fmt.Sprintf("status %q for student %s", entry.Status, entry.StudentID))
		}
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	session, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	// Step 2: ownership before any mutation. Supervisors bypass the check.
	if claims.Role != models.RoleSupervisor {
		owned, err := s.ownership.IsOwnedByTeacher(ctx, session.CourseID, claims.UserID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "actor does not own this course")
		}
	}

	// Step 3: editability. A closed window locks the session before the
	// failure is reported, so the transition is observable and later
	// attempts short-circuit on the lock.
	grace := s.flags.GracePeriodMinutes(ctx)
	earlyOpen := s.flags.EarlyOpenMinutes(ctx)
	decision := s.policy.Evaluate(session, s.now().UTC(), grace, earlyOpen)
	if !decision.Editable {
		if decision.ShouldLock {
			if err := s.sessions.SetLocked(ctx, session.ID, true); err != nil {
				s.logger.Warn("failed to lock session after window close",
					zap.String("session_id", session.ID), zap.Error(err))
			}
		}
		return nil, decision.NotEditableError()
	}

	// Step 4: upsert every entry before any recomputation, so percentages
	// see the just-written values. Duplicate students keep the last entry.
	deduped := dedupeEntries(req.Entries)
	takenAt := s.now().UTC()
	for _, entry := range deduped {
		record := &models.AttendanceRecord{
			SessionID: session.ID,
			StudentID: entry.StudentID,
			Status:    models.AttendanceStatus(strings.ToLower(entry.Status)),
			TakenBy:   claims.UserID,
			TakenAt:   takenAt,
		}
		if _, err := s.records.Upsert(ctx, record); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to record attendance")
		}
	}

	s.emitAudit(ctx, claims, session.ID, len(deduped))
	if s.metrics != nil {
		s.metrics.RecordAttendanceSubmission(len(deduped))
	}

	// Step 5: recompute per affected student and notify on threshold.
	result := &SubmitResult{UpdatedCount: len(deduped)}
	summaries, notified, err := s.recomputeAndNotify(ctx, session, deduped)
	if err != nil {
		return nil, err
	}
	result.Summaries = summaries
	result.Notifications = notified
	return result, nil
}

func (s *AttendanceService) recomputeAndNotify(ctx context.Context, session *models.Session, entries []models.AttendanceEntry) ([]models.AbsenceSummary, int, error) {
	term, err := s.terms.FindByID(ctx, session.TermID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load term")
	}

	scope := models.SessionFilter{CourseID: session.CourseID, TermID: session.TermID}
	scopeSessions, err := s.sessions.FindMany(ctx, scope)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load course sessions")
	}
	sessionIDs := make([]string, len(scopeSessions))
	for i, sess := range scopeSessions {
		sessionIDs[i] = sess.ID
	}

	countExcused := s.flags.CountExcusedAsAbsence(ctx)
	courseName := s.courseNameForNotification(ctx, session)

	summaries := make([]models.AbsenceSummary, 0, len(entries))
	notified := 0
	for _, entry := range entries {
		records, err := s.records.FindByStudentAcrossSessions(ctx, entry.StudentID, sessionIDs)
		if err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load attendance history")
		}
		summary := s.calc.Summary(entry.StudentID, session.CourseID, session.TermID, scopeSessions, records, countExcused)
		summaries = append(summaries, summary)
		s.invalidateSummaryCache(ctx, entry.StudentID)

		if summary.Percentage >= float64(term.AbsenceThresholdPercent) {
			title := "Absence threshold reached"
			body := fmt.Sprintf("Your absence rate in %s has reached %.1f%%.", courseName, summary.Percentage)
			if err := s.notifier.Notify(ctx, entry.StudentID, title, body); err != nil {
				// Dispatch failures are logged and swallowed; the
				// attendance write already succeeded.
				s.logger.Warn("notification dispatch failed",
					zap.String("student_id", entry.StudentID), zap.Error(err))
				if s.metrics != nil {
					s.metrics.RecordNotificationDispatch(false)
				}
				continue
			}
			notified++
			if s.metrics != nil {
				s.metrics.RecordNotificationDispatch(true)
			}
		}
	}
	return summaries, notified, nil
}

// SessionAttendance returns every record for a session.
func (s *AttendanceService) SessionAttendance(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	if _, err := s.sessions.FindByID(ctx, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	rows, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return rows, nil
}

// StudentSummary computes the absence summary for one student scoped to a
// course and, optionally, a term. Summaries are cached briefly when a cache
// is configured; the second return reports whether the cache served it.
func (s *AttendanceService) StudentSummary(ctx context.Context, studentID, courseID, termID string) (*models.AbsenceSummary, bool, error) {
	if studentID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "student id required")
	}

	cacheKey := summaryCacheKey(studentID, courseID, termID)
	if s.cache.Enabled() {
		var cached models.AbsenceSummary
		if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
			return &cached, true, nil
		}
	}

	scopeSessions, err := s.sessions.FindMany(ctx, models.SessionFilter{CourseID: courseID, TermID: termID})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load sessions")
	}
	sessionIDs := make([]string, len(scopeSessions))
	for i, sess := range scopeSessions {
		sessionIDs[i] = sess.ID
	}
	records, err := s.records.FindByStudentAcrossSessions(ctx, studentID, sessionIDs)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load attendance history")
	}

	summary := s.calc.Summary(studentID, courseID, termID, scopeSessions, records, s.flags.CountExcusedAsAbsence(ctx))
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, cacheKey, summary, 0)
	}
	return &summary, false, nil
}

func (s *AttendanceService) invalidateSummaryCache(ctx context.Context, studentID string) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, "absence_summary:"+studentID+":*"); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.String("student_id", studentID), zap.Error(err))
	}
}

func (s *AttendanceService) courseNameForNotification(ctx context.Context, session *models.Session) string {
	if s.courses == nil {
		return session.CourseID
	}
	course, err := s.courses.FindByID(ctx, session.CourseID)
	if err != nil || course.Name == "" {
		return session.CourseID
	}
	return course.Name
}

func (s *AttendanceService) emitAudit(ctx context.Context, claims *models.JWTClaims, sessionID string, count int) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]int{"entries": count})
	log := &models.AuditLog{
		Action:     models.AuditActionAttendanceSubmit,
		Resource:   "attendance",
		ResourceID: &sessionID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "attendance-service",
	}
	if claims.UserID != "" {
		id := claims.UserID
		log.UserID = &id
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record attendance audit", zap.Error(err))
	}
}

func dedupeEntries(entries []models.AttendanceEntry) []models.AttendanceEntry {
	index := make(map[string]int, len(entries))
	result := make([]models.AttendanceEntry, 0, len(entries))
	for _, entry := range entries {
		if i, ok := index[entry.StudentID]; ok {
			result[i] = entry
			continue
		}
		index[entry.StudentID] = len(result)
		result = append(result, entry)
	}
	return result
}

func summaryCacheKey(studentID, courseID, termID string) string {
	return fmt.Sprintf("absence_summary:%s:%s:%s", studentID, courseID, termID)
}
