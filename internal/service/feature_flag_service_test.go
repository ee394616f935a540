package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type flagRepoStub struct {
	flags    map[string]models.FeatureFlag
	getCalls int
	err      error
}

func (s *flagRepoStub) Get(ctx context.Context, key string) (*models.FeatureFlag, error) {
	s.getCalls++
	if s.err != nil {
		return nil, s.err
	}
	if flag, ok := s.flags[key]; ok {
		return &flag, nil
	}
	return nil, sql.ErrNoRows
}

func (s *flagRepoStub) List(ctx context.Context) ([]models.FeatureFlag, error) {
	if s.err != nil {
		return nil, s.err
	}
	var result []models.FeatureFlag
	for _, flag := range s.flags {
		result = append(result, flag)
	}
	return result, nil
}

func (s *flagRepoStub) Upsert(ctx context.Context, flag *models.FeatureFlag) error {
	if s.err != nil {
		return s.err
	}
	if s.flags == nil {
		s.flags = make(map[string]models.FeatureFlag)
	}
	s.flags[flag.Key] = *flag
	return nil
}

func defaultFlagService(repo *flagRepoStub, ttl time.Duration) *FeatureFlagService {
	return NewFeatureFlagService(repo, nil, ttl, FlagDefaults{
		CountExcusedAsAbsence: true,
		GracePeriodMinutes:    10,
	}, nil, nil)
}

func TestFlagServiceStoredValueOverridesDefault(t *testing.T) {
	repo := &flagRepoStub{flags: map[string]models.FeatureFlag{
		models.FlagCountExcusedAsAbsence: {Key: models.FlagCountExcusedAsAbsence, ValueJSON: []byte("false")},
	}}
	svc := defaultFlagService(repo, 5*time.Minute)

	assert.False(t, svc.CountExcusedAsAbsence(context.Background()))
	assert.Equal(t, 10, svc.GracePeriodMinutes(context.Background()))
}

func TestFlagServiceCacheBoundsStaleness(t *testing.T) {
	repo := &flagRepoStub{flags: map[string]models.FeatureFlag{
		models.FlagGracePeriodMinutes: {Key: models.FlagGracePeriodMinutes, ValueJSON: []byte("15")},
	}}
	svc := defaultFlagService(repo, 5*time.Minute)

	clock := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc.cache.now = func() time.Time { return clock }

	require.Equal(t, 15, svc.GracePeriodMinutes(context.Background()))
	require.Equal(t, 1, repo.getCalls)

	// Within the TTL the cached value serves, even after a storage change.
	repo.flags[models.FlagGracePeriodMinutes] = models.FeatureFlag{Key: models.FlagGracePeriodMinutes, ValueJSON: []byte("30")}
	clock = clock.Add(4 * time.Minute)
	assert.Equal(t, 15, svc.GracePeriodMinutes(context.Background()))
	assert.Equal(t, 1, repo.getCalls)

	// Past the TTL the next read goes back to storage.
	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, 30, svc.GracePeriodMinutes(context.Background()))
	assert.Equal(t, 2, repo.getCalls)
}

func TestFlagServiceAbsentRowFallsBackAndCaches(t *testing.T) {
	repo := &flagRepoStub{}
	svc := defaultFlagService(repo, 5*time.Minute)

	assert.True(t, svc.CountExcusedAsAbsence(context.Background()))
	assert.True(t, svc.CountExcusedAsAbsence(context.Background()))
	// The miss is cached; storage is hit once.
	assert.Equal(t, 1, repo.getCalls)
}

func TestFlagServiceStorageErrorFallsBackToDefault(t *testing.T) {
	repo := &flagRepoStub{err: errors.New("connection refused")}
	svc := defaultFlagService(repo, 5*time.Minute)

	assert.True(t, svc.CountExcusedAsAbsence(context.Background()))
	assert.Equal(t, 10, svc.GracePeriodMinutes(context.Background()))
}

func TestFlagServiceMalformedValueFallsBackToDefault(t *testing.T) {
	repo := &flagRepoStub{flags: map[string]models.FeatureFlag{
		models.FlagGracePeriodMinutes: {Key: models.FlagGracePeriodMinutes, ValueJSON: []byte(`"soon"`)},
	}}
	svc := defaultFlagService(repo, 5*time.Minute)

	assert.Equal(t, 10, svc.GracePeriodMinutes(context.Background()))
}

func TestFlagServiceUpdateValidatesByKey(t *testing.T) {
	repo := &flagRepoStub{}
	svc := defaultFlagService(repo, 5*time.Minute)
	actor := &models.JWTClaims{UserID: "supervisor-1", Role: models.RoleSupervisor}

	_, err := svc.Update(context.Background(), models.FlagGracePeriodMinutes, json.RawMessage(`true`), actor)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Update(context.Background(), models.FlagGracePeriodMinutes, json.RawMessage(`-3`), actor)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Update(context.Background(), "unknownFlag", json.RawMessage(`true`), actor)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	item, err := svc.Update(context.Background(), models.FlagGracePeriodMinutes, json.RawMessage(`20`), actor)
	require.NoError(t, err)
	assert.JSONEq(t, `20`, string(item.Value))
}

func TestFlagServiceUpdateInvalidatesCache(t *testing.T) {
	repo := &flagRepoStub{flags: map[string]models.FeatureFlag{
		models.FlagGracePeriodMinutes: {Key: models.FlagGracePeriodMinutes, ValueJSON: []byte("15")},
	}}
	svc := defaultFlagService(repo, 5*time.Minute)

	require.Equal(t, 15, svc.GracePeriodMinutes(context.Background()))

	_, err := svc.Update(context.Background(), models.FlagGracePeriodMinutes, json.RawMessage(`25`), nil)
	require.NoError(t, err)

	// The stale cache entry is gone immediately in this process.
	assert.Equal(t, 25, svc.GracePeriodMinutes(context.Background()))
}

func TestFlagServiceListMergesDefaults(t *testing.T) {
	repo := &flagRepoStub{flags: map[string]models.FeatureFlag{
		models.FlagWebPushEnabled: {Key: models.FlagWebPushEnabled, ValueJSON: []byte("true"), UpdatedAt: time.Now()},
	}}
	svc := defaultFlagService(repo, 5*time.Minute)

	items, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 4)

	byKey := make(map[string]FlagItem, len(items))
	for _, item := range items {
		byKey[item.Key] = item
	}
	assert.JSONEq(t, "true", string(byKey[models.FlagWebPushEnabled].Value))
	assert.NotNil(t, byKey[models.FlagWebPushEnabled].UpdatedAt)
	assert.JSONEq(t, "true", string(byKey[models.FlagCountExcusedAsAbsence].Value))
	assert.Nil(t, byKey[models.FlagCountExcusedAsAbsence].UpdatedAt)
}
