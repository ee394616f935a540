package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type authUserRepoStub struct {
	user       *models.User
	lastLogins []time.Time
	logs       []*models.AuditLog
}

func (s *authUserRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, sql.ErrNoRows
	}
	clone := *s.user
	return &clone, nil
}

func (s *authUserRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *s.user
	return &clone, nil
}

func (s *authUserRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	s.lastLogins = append(s.lastLogins, ts)
	return nil
}

func (s *authUserRepoStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func newAuthFixture(t *testing.T) (*AuthService, *authUserRepoStub) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &authUserRepoStub{user: &models.User{
		ID:           "user-1",
		Email:        "teacher@school.test",
		FullName:     "Jane Doe",
		Role:         models.RoleTeacher,
		PasswordHash: string(hash),
		Active:       true,
	}}
	svc := NewAuthService(repo, nil, nil, AuthConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "attendance-api"})
	return svc, repo
}

func TestAuthServiceLogin(t *testing.T) {
	svc, repo := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "teacher@school.test",
		Password: "correct-horse",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "user-1", resp.User.ID)
	assert.Len(t, repo.lastLogins, 1)
	if assert.Len(t, repo.logs, 1) {
		assert.Equal(t, models.AuditActionLogin, repo.logs[0].Action)
	}

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc, repo := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "teacher@school.test",
		Password: "wrong",
	})

	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	assert.Empty(t, repo.lastLogins)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@school.test",
		Password: "correct-horse",
	})

	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.user.Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "teacher@school.test",
		Password: "correct-horse",
	})

	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.ValidateToken("not-a-token")

	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceValidateTokenRejectsWrongSecret(t *testing.T) {
	svc, repo := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    repo.user.Email,
		Password: "correct-horse",
	})
	require.NoError(t, err)

	other := NewAuthService(repo, nil, nil, AuthConfig{Secret: "different-secret", Expiration: time.Hour})
	_, err = other.ValidateToken(resp.AccessToken)

	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
