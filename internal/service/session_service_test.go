package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type sessionRepoStub struct {
	session   *models.Session
	detail    *models.SessionDetail
	created   []*models.Session
	lockCalls []bool
}

func (s *sessionRepoStub) FindByID(ctx context.Context, id string) (*models.Session, error) {
	if s.session == nil || s.session.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *s.session
	return &clone, nil
}

func (s *sessionRepoStub) FindDetailByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	if s.detail == nil || s.detail.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *s.detail
	return &clone, nil
}

func (s *sessionRepoStub) FindMany(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	return nil, nil
}

func (s *sessionRepoStub) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error) {
	if s.detail == nil {
		return nil, 0, nil
	}
	return []models.SessionDetail{*s.detail}, 1, nil
}

func (s *sessionRepoStub) Create(ctx context.Context, session *models.Session) error {
	s.created = append(s.created, session)
	return nil
}

func (s *sessionRepoStub) SetLocked(ctx context.Context, id string, locked bool) error {
	s.lockCalls = append(s.lockCalls, locked)
	if s.session != nil {
		s.session.IsLocked = locked
	}
	return nil
}

func newSessionFixture(repo *sessionRepoStub) *SessionService {
	return NewSessionService(repo, policyFlagsStub{grace: 10}, NewEditabilityPolicy(), &attendanceAuditStub{}, nil, nil)
}

func TestSessionServiceCreateValidatesTimes(t *testing.T) {
	repo := &sessionRepoStub{}
	svc := newSessionFixture(repo)

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	_, err := svc.Create(context.Background(), CreateSessionRequest{
		CourseID:  "course-1",
		TermID:    "term-1",
		Date:      "2026-03-02",
		StartTime: start,
		EndTime:   start,
	})

	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, repo.created)
}

func TestSessionServiceCreateRejectsBadDate(t *testing.T) {
	repo := &sessionRepoStub{}
	svc := newSessionFixture(repo)

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	_, err := svc.Create(context.Background(), CreateSessionRequest{
		CourseID:  "course-1",
		TermID:    "term-1",
		Date:      "02-03-2026",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
	})

	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSessionServiceCreatePersists(t *testing.T) {
	repo := &sessionRepoStub{}
	svc := newSessionFixture(repo)

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	session, err := svc.Create(context.Background(), CreateSessionRequest{
		CourseID:  "course-1",
		TermID:    "term-1",
		Date:      "2026-03-02",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
	})

	assert.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Len(t, repo.created, 1)
	assert.Equal(t, "course-1", repo.created[0].CourseID)
}

func TestSessionServiceGetComputesEditability(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	repo := &sessionRepoStub{detail: &models.SessionDetail{
		Session: models.Session{
			ID:        "sess-1",
			CourseID:  "course-1",
			StartTime: start,
			EndTime:   start.Add(2 * time.Hour),
		},
		CourseName: "Mathematics",
	}}
	svc := newSessionFixture(repo)
	svc.now = func() time.Time { return start.Add(time.Hour) }

	detail, err := svc.Get(context.Background(), "sess-1")

	assert.NoError(t, err)
	assert.True(t, detail.IsEditable)
	if assert.NotNil(t, detail.EditableUntil) {
		assert.Equal(t, start.Add(2*time.Hour+10*time.Minute), *detail.EditableUntil)
	}
}

func TestSessionServiceGetNotFound(t *testing.T) {
	svc := newSessionFixture(&sessionRepoStub{})

	_, err := svc.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestSessionServiceSetLockedAudits(t *testing.T) {
	repo := &sessionRepoStub{session: &models.Session{ID: "sess-1"}}
	audit := &attendanceAuditStub{}
	svc := NewSessionService(repo, policyFlagsStub{}, nil, audit, nil, nil)
	actor := &models.JWTClaims{UserID: "supervisor-1", Role: models.RoleSupervisor}

	session, err := svc.SetLocked(context.Background(), "sess-1", true, actor)

	assert.NoError(t, err)
	assert.True(t, session.IsLocked)
	assert.Equal(t, []bool{true}, repo.lockCalls)
	if assert.Len(t, audit.logs, 1) {
		assert.Equal(t, models.AuditActionSessionLock, audit.logs[0].Action)
		assert.Equal(t, "supervisor-1", *audit.logs[0].UserID)
	}

	session, err = svc.SetLocked(context.Background(), "sess-1", false, actor)

	assert.NoError(t, err)
	assert.False(t, session.IsLocked)
	assert.Equal(t, models.AuditActionSessionUnlock, audit.logs[1].Action)
}

func TestSessionServiceSetLockedIsIdempotent(t *testing.T) {
	repo := &sessionRepoStub{session: &models.Session{ID: "sess-1", IsLocked: true}}
	audit := &attendanceAuditStub{}
	svc := NewSessionService(repo, policyFlagsStub{}, nil, audit, nil, nil)

	session, err := svc.SetLocked(context.Background(), "sess-1", true, nil)

	assert.NoError(t, err)
	assert.True(t, session.IsLocked)
	assert.Empty(t, repo.lockCalls)
	assert.Empty(t, audit.logs)
}
