// Package store defines the CredentialStore interface the core depends on.
// The schema behind it is an external collaborator (spec.md §1); this
// package only fixes the shape of the contract, the way the teacher's
// pkg/storage/pg/sqlc.Querier fixes the shape request_tracking.Service
// depends on.
package store

import (
	"context"
	"time"

	"github.com/sora-gateway/gateway/internal/domain"
)

// CredentialStore is the persistence interface the Scheduler, Orchestrator
// and admin surface (external) all depend on.
type CredentialStore interface {
	// ListEligible returns credentials matching the Scheduler's baseline
	// filter: enabled, not cooled, not expired (spec.md §4.3 step 2).
	ListEligible(ctx context.Context, now time.Time) ([]*domain.Credential, error)
	// GetCredential fetches one credential by id.
	GetCredential(ctx context.Context, id int64) (*domain.Credential, error)
	// GetStats fetches the counters for one credential, rolling the
	// "today" counters forward if the stored date stamp is stale.
	GetStats(ctx context.Context, credentialID int64, today string) (*domain.CredentialStats, error)

	// RecordUsage bumps the use counter and last-used timestamp.
	RecordUsage(ctx context.Context, credentialID int64, at time.Time) error
	// RecordSuccess resets consecutive-error and increments the given
	// feature's lifetime+today counters.
	RecordSuccess(ctx context.Context, credentialID int64, feature string, today string) error
	// RecordError increments lifetime+today error counters and,
	// unless overloadOrShield is true, increments consecutive-error too.
	RecordError(ctx context.Context, credentialID int64, today string, overloadOrShield bool) error
	// SetCooldown sets cooled_until (quota exhaustion cooldown).
	SetCooldown(ctx context.Context, credentialID int64, until time.Time) error
	// MarkExpired sets expired=true, enabled=false (upstream 401).
	MarkExpired(ctx context.Context, credentialID int64) error
	// UpdateSora2Remaining refreshes the Sora2 remaining-count and cooldown
	// fields after a quota refresh.
	UpdateSora2Remaining(ctx context.Context, credentialID int64, remaining int, cooldownUntil *time.Time) error

	// CreateTask inserts a processing Task row and returns its id.
	CreateTask(ctx context.Context, t *domain.Task) (int64, error)
	// UpdateTaskProgress updates the progress field of an in-flight task.
	UpdateTaskProgress(ctx context.Context, id int64, progress float64) error
	// CompleteTask marks a task completed with result URLs.
	CompleteTask(ctx context.Context, id int64, resultURLs []string, at time.Time) error
	// FailTask marks a task failed with an error message.
	FailTask(ctx context.Context, id int64, errMsg string, at time.Time) error

	// OpenRequestLog inserts a RequestLog row with sentinel status/duration.
	OpenRequestLog(ctx context.Context, l *domain.RequestLog) (int64, error)
	// CloseRequestLog updates status code, response body, and duration.
	CloseRequestLog(ctx context.Context, id int64, statusCode int, responseBody string, duration float64, at time.Time) error

	GetAdminConfig(ctx context.Context) (*domain.AdminConfig, error)
	GetProxyConfig(ctx context.Context) (*domain.ProxyConfig, error)
	GetWatermarkFreeConfig(ctx context.Context) (*domain.WatermarkFreeConfig, error)
	GetCacheConfig(ctx context.Context) (*domain.CacheConfig, error)
	GetGenerationConfig(ctx context.Context) (*domain.GenerationConfig, error)
	GetTokenRefreshConfig(ctx context.Context) (*domain.TokenRefreshConfig, error)
}

// TokenRefresher is the external refresh-flow collaborator the Scheduler
// calls for credentials nearing expiry (spec.md §4.3 step 1).
type TokenRefresher interface {
	RefreshIfExpiring(ctx context.Context, credentialID int64) error
	RefreshSora2RemainingIfCooldownExpired(ctx context.Context, credentialID int64) error
}
