// Package memstore is an in-memory store.CredentialStore, used by the
// scheduler/orchestrator/httpapi tests the way the teacher's
// request_tracking tests stand up a fake in place of pkg/storage/pg.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sora-gateway/gateway/internal/domain"
)

// Store is a mutex-guarded in-memory CredentialStore.
type Store struct {
	mu sync.Mutex

	credentials map[int64]*domain.Credential
	stats       map[int64]*domain.CredentialStats
	tasks       map[int64]*domain.Task
	logs        map[int64]*domain.RequestLog
	nextTaskID  int64
	nextLogID   int64

	admin         domain.AdminConfig
	proxy         domain.ProxyConfig
	watermarkFree domain.WatermarkFreeConfig
	cache         domain.CacheConfig
	generation    domain.GenerationConfig
	tokenRefresh  domain.TokenRefreshConfig
}

// New returns an empty store seeded with zero-value singleton config rows.
func New() *Store {
	return &Store{
		credentials: make(map[int64]*domain.Credential),
		stats:       make(map[int64]*domain.CredentialStats),
		tasks:       make(map[int64]*domain.Task),
		logs:        make(map[int64]*domain.RequestLog),
	}
}

// Seed installs a credential (and a zeroed stats row) for tests to build on.
func (s *Store) Seed(c *domain.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.ID] = c
	if _, ok := s.stats[c.ID]; !ok {
		s.stats[c.ID] = &domain.CredentialStats{CredentialID: c.ID}
	}
}

func (s *Store) ListEligible(ctx context.Context, now time.Time) ([]*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Credential
	for _, c := range s.credentials {
		if !c.Enabled || c.Expired {
			continue
		}
		if c.IsCooled(now) {
			continue
		}
		if !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) GetCredential(ctx context.Context, id int64) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return nil, fmt.Errorf("credential %d not found", id)
	}
	return c, nil
}

func (s *Store) GetStats(ctx context.Context, credentialID int64, today string) (*domain.CredentialStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[credentialID]
	if !ok {
		st = &domain.CredentialStats{CredentialID: credentialID}
		s.stats[credentialID] = st
	}
	if st.TodayDate != today {
		st.TodayDate = today
		st.TodayImageCount, st.TodayVideoCount, st.TodayErrorCount = 0, 0, 0
	}
	return st, nil
}

func (s *Store) RecordUsage(ctx context.Context, credentialID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok {
		return fmt.Errorf("credential %d not found", credentialID)
	}
	c.UseCount++
	c.LastUsedAt = &at
	return nil
}

func (s *Store) RecordSuccess(ctx context.Context, credentialID int64, feature string, today string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statsLocked(credentialID, today)
	st.ConsecutiveErrors = 0
	switch feature {
	case "video":
		st.LifetimeVideoCount++
		st.TodayVideoCount++
	default:
		st.LifetimeImageCount++
		st.TodayImageCount++
	}
	return nil
}

func (s *Store) RecordError(ctx context.Context, credentialID int64, today string, overloadOrShield bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statsLocked(credentialID, today)
	st.LifetimeErrorCount++
	st.TodayErrorCount++
	now := time.Now()
	st.LastErrorAt = &now
	if !overloadOrShield {
		st.ConsecutiveErrors++
	}
	return nil
}

// statsLocked assumes s.mu is already held.
func (s *Store) statsLocked(credentialID int64, today string) *domain.CredentialStats {
	st, ok := s.stats[credentialID]
	if !ok {
		st = &domain.CredentialStats{CredentialID: credentialID}
		s.stats[credentialID] = st
	}
	if st.TodayDate != today {
		st.TodayDate = today
		st.TodayImageCount, st.TodayVideoCount, st.TodayErrorCount = 0, 0, 0
	}
	return st
}

func (s *Store) SetCooldown(ctx context.Context, credentialID int64, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok {
		return fmt.Errorf("credential %d not found", credentialID)
	}
	c.CooledUntil = &until
	return nil
}

func (s *Store) MarkExpired(ctx context.Context, credentialID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok {
		return fmt.Errorf("credential %d not found", credentialID)
	}
	c.Expired = true
	c.Enabled = false
	return nil
}

func (s *Store) UpdateSora2Remaining(ctx context.Context, credentialID int64, remaining int, cooldownUntil *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok {
		return fmt.Errorf("credential %d not found", credentialID)
	}
	c.Sora2Remaining = remaining
	c.Sora2CooldownUntil = cooldownUntil
	return nil
}

func (s *Store) CreateTask(ctx context.Context, t *domain.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	id := s.nextTaskID
	clone := *t
	clone.ID = id
	s.tasks[id] = &clone
	return id, nil
}

func (s *Store) UpdateTaskProgress(ctx context.Context, id int64, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	t.Progress = progress
	return nil
}

func (s *Store) CompleteTask(ctx context.Context, id int64, resultURLs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	t.Status = domain.TaskCompleted
	t.ResultURLs = resultURLs
	t.CompletedAt = &at
	return nil
}

func (s *Store) FailTask(ctx context.Context, id int64, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	t.Status = domain.TaskFailed
	t.ErrorMessage = errMsg
	t.CompletedAt = &at
	return nil
}

func (s *Store) OpenRequestLog(ctx context.Context, l *domain.RequestLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	id := s.nextLogID
	clone := *l
	clone.ID = id
	clone.StatusCode = domain.StatusInProgress
	clone.DurationSecond = domain.DurationSecondsInProgress
	s.logs[id] = &clone
	return id, nil
}

func (s *Store) CloseRequestLog(ctx context.Context, id int64, statusCode int, responseBody string, duration float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return fmt.Errorf("request log %d not found", id)
	}
	l.StatusCode = statusCode
	l.ResponseBody = responseBody
	l.DurationSecond = duration
	l.UpdatedAt = at
	return nil
}

func (s *Store) GetAdminConfig(ctx context.Context) (*domain.AdminConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.admin
	return &cfg, nil
}

func (s *Store) GetProxyConfig(ctx context.Context) (*domain.ProxyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.proxy
	return &cfg, nil
}

func (s *Store) GetWatermarkFreeConfig(ctx context.Context) (*domain.WatermarkFreeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.watermarkFree
	return &cfg, nil
}

func (s *Store) GetCacheConfig(ctx context.Context) (*domain.CacheConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cache
	return &cfg, nil
}

func (s *Store) GetGenerationConfig(ctx context.Context) (*domain.GenerationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.generation
	return &cfg, nil
}

func (s *Store) GetTokenRefreshConfig(ctx context.Context) (*domain.TokenRefreshConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.tokenRefresh
	return &cfg, nil
}

// SetAdminConfig, SetProxyConfig, SetWatermarkFreeConfig, SetCacheConfig,
// SetGenerationConfig, SetTokenRefreshConfig let tests configure the
// singleton rows directly.
func (s *Store) SetAdminConfig(c domain.AdminConfig) { s.mu.Lock(); s.admin = c; s.mu.Unlock() }
func (s *Store) SetProxyConfig(c domain.ProxyConfig) { s.mu.Lock(); s.proxy = c; s.mu.Unlock() }
func (s *Store) SetWatermarkFreeConfig(c domain.WatermarkFreeConfig) {
	s.mu.Lock()
	s.watermarkFree = c
	s.mu.Unlock()
}
func (s *Store) SetCacheConfig(c domain.CacheConfig) { s.mu.Lock(); s.cache = c; s.mu.Unlock() }
func (s *Store) SetGenerationConfig(c domain.GenerationConfig) {
	s.mu.Lock()
	s.generation = c
	s.mu.Unlock()
}
func (s *Store) SetTokenRefreshConfig(c domain.TokenRefreshConfig) {
	s.mu.Lock()
	s.tokenRefresh = c
	s.mu.Unlock()
}
