package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type featureFlagRepository interface {
	Get(ctx context.Context, key string) (*models.FeatureFlag, error)
	List(ctx context.Context) ([]models.FeatureFlag, error)
	Upsert(ctx context.Context, flag *models.FeatureFlag) error
}

type flagAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// flagCacheEntry holds one decoded flag value with its expiry.
type flagCacheEntry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// flagCache is an explicit TTL cache owned by the flag service instance.
// Stale reads within the TTL are acceptable; flag values are eventually
// consistent, not linearizable.
type flagCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]flagCacheEntry
}

func newFlagCache(ttl time.Duration) *flagCache {
	return &flagCache{ttl: ttl, now: time.Now, items: make(map[string]flagCacheEntry)}
}

func (c *flagCache) get(key string) (json.RawMessage, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *flagCache) set(key string, value json.RawMessage) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = flagCacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *flagCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// FlagDefaults supplies deployment-level fallbacks used when a flag row is
// absent from storage.
type FlagDefaults struct {
	CountExcusedAsAbsence bool
	GracePeriodMinutes    int
	EarlyOpenMinutes      int
	WebPushEnabled        bool
}

// FeatureFlagService reads and updates runtime policy flags with a bounded
// TTL cache in front of storage.
type FeatureFlagService struct {
	repo     featureFlagRepository
	audit    flagAuditLogger
	cache    *flagCache
	defaults FlagDefaults
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewFeatureFlagService constructs the service. A non-positive TTL disables
// caching entirely.
func NewFeatureFlagService(repo featureFlagRepository, audit flagAuditLogger, ttl time.Duration, defaults FlagDefaults, metrics *MetricsService, logger *zap.Logger) *FeatureFlagService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeatureFlagService{
		repo:     repo,
		audit:    audit,
		cache:    newFlagCache(ttl),
		defaults: defaults,
		metrics:  metrics,
		logger:   logger,
	}
}

var knownFlagKeys = map[string]string{
	models.FlagCountExcusedAsAbsence: "whether excused absences count toward the absence percentage",
	models.FlagGracePeriodMinutes:    "minutes after session end during which attendance stays editable",
	models.FlagEarlyOpenMinutes:      "minutes before session start at which the edit window opens",
	models.FlagWebPushEnabled:        "whether threshold notifications fan out to web push",
}

// raw returns the JSON value for a key, consulting the cache first. An
// absent row caches and returns nil so repeated misses stay cheap.
func (s *FeatureFlagService) raw(ctx context.Context, key string) (json.RawMessage, error) {
	if value, ok := s.cache.get(key); ok {
		if s.metrics != nil {
			s.metrics.RecordFlagCacheHit(true)
		}
		return value, nil
	}
	if s.metrics != nil {
		s.metrics.RecordFlagCacheHit(false)
	}

	flag, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.cache.set(key, nil)
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to read feature flag")
	}
	value := json.RawMessage(flag.ValueJSON)
	s.cache.set(key, value)
	return value, nil
}

// GetBool returns a boolean flag, falling back to def when absent or
// malformed. Storage failures also fall back; flag reads never block the
// attendance path.
func (s *FeatureFlagService) GetBool(ctx context.Context, key string, def bool) bool {
	raw, err := s.raw(ctx, key)
	if err != nil {
		s.logger.Warn("flag read failed, using default", zap.String("key", key), zap.Error(err))
		return def
	}
	if raw == nil {
		return def
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		s.logger.Warn("flag value malformed, using default", zap.String("key", key), zap.Error(err))
		return def
	}
	return value
}

// GetInt returns an integer flag with the same fallback semantics as GetBool.
func (s *FeatureFlagService) GetInt(ctx context.Context, key string, def int) int {
	raw, err := s.raw(ctx, key)
	if err != nil {
		s.logger.Warn("flag read failed, using default", zap.String("key", key), zap.Error(err))
		return def
	}
	if raw == nil {
		return def
	}
	var value int
	if err := json.Unmarshal(raw, &value); err != nil {
		s.logger.Warn("flag value malformed, using default", zap.String("key", key), zap.Error(err))
		return def
	}
	return value
}

// CountExcusedAsAbsence reports the normalized counting policy.
func (s *FeatureFlagService) CountExcusedAsAbsence(ctx context.Context) bool {
	return s.GetBool(ctx, models.FlagCountExcusedAsAbsence, s.defaults.CountExcusedAsAbsence)
}

// GracePeriodMinutes reports the edit-window grace period, clamped to >= 0.
func (s *FeatureFlagService) GracePeriodMinutes(ctx context.Context) int {
	minutes := s.GetInt(ctx, models.FlagGracePeriodMinutes, s.defaults.GracePeriodMinutes)
	if minutes < 0 {
		return 0
	}
	return minutes
}

// EarlyOpenMinutes reports the early-open margin, clamped to >= 0.
func (s *FeatureFlagService) EarlyOpenMinutes(ctx context.Context) int {
	minutes := s.GetInt(ctx, models.FlagEarlyOpenMinutes, s.defaults.EarlyOpenMinutes)
	if minutes < 0 {
		return 0
	}
	return minutes
}

// WebPushEnabled reports whether notifications fan out to web push.
func (s *FeatureFlagService) WebPushEnabled(ctx context.Context) bool {
	return s.GetBool(ctx, models.FlagWebPushEnabled, s.defaults.WebPushEnabled)
}

// FlagItem is the admin projection of a flag merged with its default.
type FlagItem struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

// List returns every known flag, filling defaults for keys without a row.
func (s *FeatureFlagService) List(ctx context.Context) ([]FlagItem, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list feature flags")
	}
	existing := make(map[string]models.FeatureFlag, len(rows))
	for _, row := range rows {
		existing[row.Key] = row
	}

	items := make([]FlagItem, 0, len(knownFlagKeys))
	for _, key := range []string{
		models.FlagCountExcusedAsAbsence,
		models.FlagGracePeriodMinutes,
		models.FlagEarlyOpenMinutes,
		models.FlagWebPushEnabled,
	} {
		item := FlagItem{Key: key, Description: knownFlagKeys[key], Value: s.defaultJSON(key)}
		if row, ok := existing[key]; ok {
			item.Value = json.RawMessage(row.ValueJSON)
			updatedAt := row.UpdatedAt
			item.UpdatedAt = &updatedAt
		}
		items = append(items, item)
	}
	return items, nil
}

// Update upserts a flag value and proactively clears its cache entry.
// Invalidation is best-effort; other processes converge via TTL expiry.
func (s *FeatureFlagService) Update(ctx context.Context, key string, value json.RawMessage, actor *models.JWTClaims) (*FlagItem, error) {
	description, ok := knownFlagKeys[key]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported feature flag key")
	}
	if err := s.validateValue(key, value); err != nil {
		return nil, err
	}

	flag := &models.FeatureFlag{Key: key, ValueJSON: []byte(value)}
	if actor != nil && actor.UserID != "" {
		id := actor.UserID
		flag.UpdatedBy = &id
	}
	if err := s.repo.Upsert(ctx, flag); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update feature flag")
	}
	s.cache.invalidate(key)
	s.emitAudit(ctx, actor, key, value)

	return &FlagItem{Key: key, Value: value, Description: description}, nil
}

func (s *FeatureFlagService) validateValue(key string, value json.RawMessage) error {
	switch key {
	case models.FlagCountExcusedAsAbsence, models.FlagWebPushEnabled:
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, key+" expects a boolean value")
		}
	case models.FlagGracePeriodMinutes, models.FlagEarlyOpenMinutes:
		var n int
		if err := json.Unmarshal(value, &n); err != nil || n < 0 {
			return appErrors.Clone(appErrors.ErrValidation, key+" expects a non-negative integer")
		}
	}
	return nil
}

func (s *FeatureFlagService) defaultJSON(key string) json.RawMessage {
	var value interface{}
	switch key {
	case models.FlagCountExcusedAsAbsence:
		value = s.defaults.CountExcusedAsAbsence
	case models.FlagGracePeriodMinutes:
		value = s.defaults.GracePeriodMinutes
	case models.FlagEarlyOpenMinutes:
		value = s.defaults.EarlyOpenMinutes
	case models.FlagWebPushEnabled:
		value = s.defaults.WebPushEnabled
	default:
		return nil
	}
	raw, _ := json.Marshal(value)
	return raw
}

func (s *FeatureFlagService) emitAudit(ctx context.Context, actor *models.JWTClaims, key string, value json.RawMessage) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     models.AuditActionFlagUpdate,
		Resource:   "feature_flag",
		ResourceID: &key,
		NewValues:  []byte(value),
		IPAddress:  "system",
		UserAgent:  "feature-flag-service",
	}
	if actor != nil && actor.UserID != "" {
		id := actor.UserID
		log.UserID = &id
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record flag audit", zap.Error(err))
	}
}
