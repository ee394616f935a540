package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type attendanceSessionRepoStub struct {
	session   *models.Session
	scope     []models.Session
	lockCalls []bool
	lockErr   error
}

func (s *attendanceSessionRepoStub) FindByID(ctx context.Context, id string) (*models.Session, error) {
	if s.session == nil || s.session.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *s.session
	return &copied, nil
}

func (s *attendanceSessionRepoStub) SetLocked(ctx context.Context, id string, locked bool) error {
	s.lockCalls = append(s.lockCalls, locked)
	if s.lockErr != nil {
		return s.lockErr
	}
	s.session.IsLocked = locked
	return nil
}

func (s *attendanceSessionRepoStub) FindMany(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	return s.scope, nil
}

type attendanceRecordRepoStub struct {
	stored    map[string]map[string]models.AttendanceRecord
	upserts   []models.AttendanceRecord
	upsertErr error
}

func newAttendanceRecordRepoStub() *attendanceRecordRepoStub {
	return &attendanceRecordRepoStub{stored: make(map[string]map[string]models.AttendanceRecord)}
}

func (s *attendanceRecordRepoStub) seed(studentID, sessionID string, status models.AttendanceStatus) {
	if s.stored[studentID] == nil {
		s.stored[studentID] = make(map[string]models.AttendanceRecord)
	}
	s.stored[studentID][sessionID] = models.AttendanceRecord{
		SessionID: sessionID,
		StudentID: studentID,
		Status:    status,
	}
}

func (s *attendanceRecordRepoStub) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	s.upserts = append(s.upserts, *record)
	s.seed(record.StudentID, record.SessionID, record.Status)
	stored := *record
	return &stored, nil
}

func (s *attendanceRecordRepoStub) FindByStudentAcrossSessions(ctx context.Context, studentID string, sessionIDs []string) ([]models.AttendanceRecord, error) {
	byStudent := s.stored[studentID]
	var result []models.AttendanceRecord
	for _, id := range sessionIDs {
		if rec, ok := byStudent[id]; ok {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *attendanceRecordRepoStub) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	var result []models.AttendanceRecord
	for _, byStudent := range s.stored {
		if rec, ok := byStudent[sessionID]; ok {
			result = append(result, rec)
		}
	}
	return result, nil
}

type termReaderStub struct {
	term *models.Term
}

func (s termReaderStub) FindByID(ctx context.Context, id string) (*models.Term, error) {
	if s.term == nil {
		return nil, sql.ErrNoRows
	}
	return s.term, nil
}

type courseReaderStub struct {
	course *models.Course
}

func (s courseReaderStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if s.course == nil {
		return nil, sql.ErrNoRows
	}
	return s.course, nil
}

type ownershipStub struct {
	owned bool
	err   error
	calls int
}

func (s *ownershipStub) IsOwnedByTeacher(ctx context.Context, courseID, teacherID string) (bool, error) {
	s.calls++
	return s.owned, s.err
}

type notifierStub struct {
	sent []string
	err  error
}

func (s *notifierStub) Notify(ctx context.Context, userID, title, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, userID)
	return nil
}

type policyFlagsStub struct {
	countExcused bool
	grace        int
	earlyOpen    int
}

func (s policyFlagsStub) CountExcusedAsAbsence(ctx context.Context) bool { return s.countExcused }
func (s policyFlagsStub) GracePeriodMinutes(ctx context.Context) int     { return s.grace }
func (s policyFlagsStub) EarlyOpenMinutes(ctx context.Context) int       { return s.earlyOpen }

type attendanceAuditStub struct {
	logs []*models.AuditLog
}

func (s *attendanceAuditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type attendanceFixture struct {
	svc       *AttendanceService
	sessions  *attendanceSessionRepoStub
	records   *attendanceRecordRepoStub
	ownership *ownershipStub
	notifier  *notifierStub
	audit     *attendanceAuditStub
}

// newAttendanceFixture builds a service around one course with a ten
// session scope, a 25 percent threshold term, and a clock fixed inside the
// edit window of the submitted session.
func newAttendanceFixture(t *testing.T) *attendanceFixture {
	t.Helper()

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	session := &models.Session{
		ID:        "sess-1",
		CourseID:  "course-1",
		TermID:    "term-1",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
	}
	scope := make([]models.Session, 10)
	for i := range scope {
		scope[i] = models.Session{ID: fmt.Sprintf("sess-%d", i+1), CourseID: "course-1", TermID: "term-1"}
	}
	scope[0] = *session

	sessions := &attendanceSessionRepoStub{session: session, scope: scope}
	records := newAttendanceRecordRepoStub()
	ownership := &ownershipStub{owned: true}
	notifier := &notifierStub{}
	audit := &attendanceAuditStub{}

	svc := NewAttendanceService(
		sessions, records,
		termReaderStub{term: &models.Term{ID: "term-1", AbsenceThresholdPercent: 25}},
		courseReaderStub{course: &models.Course{ID: "course-1", Name: "Mathematics", TeacherID: "teacher-1"}},
		ownership,
		policyFlagsStub{countExcused: true, grace: 10},
		NewEditabilityPolicy(),
		notifier,
		audit,
		nil, nil, nil, nil,
	)
	svc.now = func() time.Time { return start.Add(time.Hour) }

	return &attendanceFixture{svc: svc, sessions: sessions, records: records, ownership: ownership, notifier: notifier, audit: audit}
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
}

func presentExcept(f *attendanceFixture, studentID string, absences map[string]models.AttendanceStatus) {
	for _, sess := range f.sessions.scope {
		if sess.ID == "sess-1" {
			continue
		}
		if status, ok := absences[sess.ID]; ok {
			f.records.seed(studentID, sess.ID, status)
			continue
		}
		f.records.seed(studentID, sess.ID, models.AttendanceStatusPresent)
	}
}

func TestSubmitRejectsWholeBatchOnInvalidStatus(t *testing.T) {
	f := newAttendanceFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries: []models.AttendanceEntry{
			{StudentID: "student-1", Status: "present"},
			{StudentID: "student-2", Status: "late"},
		},
	}, teacherClaims())

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidStatus))
	assert.Empty(t, f.records.upserts, "nothing may be written when any status is invalid")
}

func TestSubmitRequiresClaims(t *testing.T) {
	f := newAttendanceFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}, nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestSubmitForbiddenForNonOwner(t *testing.T) {
	f := newAttendanceFixture(t)
	f.ownership.owned = false

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}, teacherClaims())

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Empty(t, f.records.upserts)
}

func TestSubmitSupervisorBypassesOwnership(t *testing.T) {
	f := newAttendanceFixture(t)
	f.ownership.owned = false
	presentExcept(f, "student-1", nil)

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}, &models.JWTClaims{UserID: "supervisor-1", Role: models.RoleSupervisor})

	require.NoError(t, err)
	assert.Zero(t, f.ownership.calls)
}

func TestSubmitWindowClosedLocksSession(t *testing.T) {
	f := newAttendanceFixture(t)
	// 11 minutes past end with a 10 minute grace.
	f.svc.now = func() time.Time { return f.sessions.session.EndTime.Add(11 * time.Minute) }

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}, teacherClaims())

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotEditable))
	require.Len(t, f.sessions.lockCalls, 1)
	assert.True(t, f.sessions.lockCalls[0])
	assert.True(t, f.sessions.session.IsLocked)
	assert.Empty(t, f.records.upserts)
}

func TestSubmitHonorsEarlyOpenFlag(t *testing.T) {
	f := newAttendanceFixture(t)
	presentExcept(f, "student-1", nil)
	// 10 minutes before the session starts.
	f.svc.now = func() time.Time { return f.sessions.session.StartTime.Add(-10 * time.Minute) }

	req := SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}

	f.svc.flags = policyFlagsStub{countExcused: true, grace: 10}
	_, err := f.svc.Submit(context.Background(), req, teacherClaims())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotEditable))
	assert.Empty(t, f.records.upserts)

	// Raising the flag opens the window without rebuilding the service.
	f.svc.flags = policyFlagsStub{countExcused: true, grace: 10, earlyOpen: 15}
	result, err := f.svc.Submit(context.Background(), req, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	require.Len(t, f.records.upserts, 1)
}

func TestSubmitLockedSessionDoesNotRelock(t *testing.T) {
	f := newAttendanceFixture(t)
	f.sessions.session.IsLocked = true

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}, teacherClaims())

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotEditable))
	assert.Empty(t, f.sessions.lockCalls, "an already locked session must not be written again")
}

func TestSubmitNotifiesAtThreshold(t *testing.T) {
	f := newAttendanceFixture(t)
	// Two prior unexcused absences; the submitted one makes 3 of 10 = 30%,
	// which crosses the 25% threshold.
	presentExcept(f, "student-1", map[string]models.AttendanceStatus{
		"sess-2": models.AttendanceStatusUnexcused,
		"sess-3": models.AttendanceStatusUnexcused,
	})

	result, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "unexcused"}},
	}, teacherClaims())

	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, 1, result.Notifications)
	require.Len(t, result.Summaries, 1)
	assert.Equal(t, 30.0, result.Summaries[0].Percentage)
	assert.Equal(t, []string{"student-1"}, f.notifier.sent)
}

func TestSubmitBelowThresholdStaysQuiet(t *testing.T) {
	f := newAttendanceFixture(t)
	// Only the submitted absence: 1 of 10 = 10%, below 25%.
	presentExcept(f, "student-1", nil)

	result, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "unexcused"}},
	}, teacherClaims())

	require.NoError(t, err)
	assert.Zero(t, result.Notifications)
	assert.Empty(t, f.notifier.sent)
	assert.Equal(t, 10.0, result.Summaries[0].Percentage)
}

func TestSubmitNotificationFailureDoesNotFailWrite(t *testing.T) {
	f := newAttendanceFixture(t)
	f.notifier.err = errors.New("push gateway down")
	presentExcept(f, "student-1", map[string]models.AttendanceStatus{
		"sess-2": models.AttendanceStatusUnexcused,
		"sess-3": models.AttendanceStatusUnexcused,
	})

	result, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "unexcused"}},
	}, teacherClaims())

	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Zero(t, result.Notifications)
}

func TestSubmitDuplicateStudentLastEntryWins(t *testing.T) {
	f := newAttendanceFixture(t)
	presentExcept(f, "student-1", nil)

	result, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries: []models.AttendanceEntry{
			{StudentID: "student-1", Status: "unexcused"},
			{StudentID: "student-1", Status: "present"},
		},
	}, teacherClaims())

	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	require.Len(t, f.records.upserts, 1)
	assert.Equal(t, models.AttendanceStatusPresent, f.records.upserts[0].Status)
}

func TestSubmitResubmissionIsIdempotent(t *testing.T) {
	f := newAttendanceFixture(t)
	presentExcept(f, "student-1", nil)

	req := SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}
	first, err := f.svc.Submit(context.Background(), req, teacherClaims())
	require.NoError(t, err)
	second, err := f.svc.Submit(context.Background(), req, teacherClaims())
	require.NoError(t, err)

	assert.Equal(t, first.Summaries[0].Percentage, second.Summaries[0].Percentage)
	assert.Equal(t, first.Summaries[0].AbsenceCount, second.Summaries[0].AbsenceCount)
}

func TestSubmitStorageFailureIsTransient(t *testing.T) {
	f := newAttendanceFixture(t)
	f.records.upsertErr = errors.New("connection reset")

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}, teacherClaims())

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTransient))
}

func TestSubmitUnknownSession(t *testing.T) {
	f := newAttendanceFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "missing",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}, teacherClaims())

	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestSubmitAuditsTheBatch(t *testing.T) {
	f := newAttendanceFixture(t)
	presentExcept(f, "student-1", nil)

	_, err := f.svc.Submit(context.Background(), SubmitAttendanceRequest{
		SessionID: "sess-1",
		Entries:   []models.AttendanceEntry{{StudentID: "student-1", Status: "present"}},
	}, teacherClaims())

	require.NoError(t, err)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionAttendanceSubmit, f.audit.logs[0].Action)
}

func TestStudentSummaryMissingRecordsCountAsAbsent(t *testing.T) {
	f := newAttendanceFixture(t)
	// No records at all: every scope session is an absence.
	summary, cacheHit, err := f.svc.StudentSummary(context.Background(), "student-9", "course-1", "term-1")
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, 10, summary.TotalSessions)
	assert.Equal(t, 10, summary.AbsenceCount)
	assert.Equal(t, 100.0, summary.Percentage)
}
