// Package pgstore is a Postgres-backed implementation of store.CredentialStore,
// built on database/sql + lib/pq the way the teacher's pkg/storage/pg package
// opens its connection and the way internal/request_tracking/service.go
// issues hand-shaped queries against it.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sora-gateway/gateway/internal/domain"
)

// Store wraps a *sql.DB with the queries the core needs.
type Store struct {
	db *sql.DB
}

// Open opens the database connection and verifies it with a ping, the same
// two-step InitDatabase does in the teacher's pkg/storage/pg.
func Open(databaseURL string, maxOpenConns, maxIdleConns int) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ListEligible(ctx context.Context, now time.Time) ([]*domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, access_token, session_token, refresh_token, client_id, proxy_url, email,
		       enabled, cooled_until, expired, subscription_tier, subscription_ends_at,
		       sora2_supported, sora2_remaining, sora2_cooldown_until, expires_at,
		       image_enabled, video_enabled, image_concurrency, video_concurrency,
		       last_used_at, use_count
		FROM credentials
		WHERE enabled = true
		  AND (cooled_until IS NULL OR cooled_until <= $1)
		  AND expires_at > $1`, now)
	if err != nil {
		return nil, fmt.Errorf("list eligible credentials: %w", err)
	}
	defer rows.Close()

	var out []*domain.Credential
	for rows.Next() {
		c := &domain.Credential{}
		if err := rows.Scan(
			&c.ID, &c.AccessToken, &c.SessionToken, &c.RefreshToken, &c.ClientID, &c.ProxyURL, &c.Email,
			&c.Enabled, &c.CooledUntil, &c.Expired, &c.SubscriptionTier, &c.SubscriptionEndsAt,
			&c.Sora2Supported, &c.Sora2Remaining, &c.Sora2CooldownUntil, &c.ExpiresAt,
			&c.ImageEnabled, &c.VideoEnabled, &c.ImageConcurrency, &c.VideoConcurrency,
			&c.LastUsedAt, &c.UseCount,
		); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCredential(ctx context.Context, id int64) (*domain.Credential, error) {
	c := &domain.Credential{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, access_token, session_token, refresh_token, client_id, proxy_url, email,
		       enabled, cooled_until, expired, subscription_tier, subscription_ends_at,
		       sora2_supported, sora2_remaining, sora2_cooldown_until, expires_at,
		       image_enabled, video_enabled, image_concurrency, video_concurrency,
		       last_used_at, use_count
		FROM credentials WHERE id = $1`, id).Scan(
		&c.ID, &c.AccessToken, &c.SessionToken, &c.RefreshToken, &c.ClientID, &c.ProxyURL, &c.Email,
		&c.Enabled, &c.CooledUntil, &c.Expired, &c.SubscriptionTier, &c.SubscriptionEndsAt,
		&c.Sora2Supported, &c.Sora2Remaining, &c.Sora2CooldownUntil, &c.ExpiresAt,
		&c.ImageEnabled, &c.VideoEnabled, &c.ImageConcurrency, &c.VideoConcurrency,
		&c.LastUsedAt, &c.UseCount,
	)
	if err != nil {
		return nil, fmt.Errorf("get credential %d: %w", id, err)
	}
	return c, nil
}

func (s *Store) GetStats(ctx context.Context, credentialID int64, today string) (*domain.CredentialStats, error) {
	st := &domain.CredentialStats{CredentialID: credentialID}
	err := s.db.QueryRowContext(ctx, `
		SELECT lifetime_image_count, lifetime_video_count, lifetime_error_count,
		       today_date, today_image_count, today_video_count, today_error_count,
		       last_error_at, consecutive_error_count
		FROM credential_stats WHERE credential_id = $1`, credentialID).Scan(
		&st.LifetimeImageCount, &st.LifetimeVideoCount, &st.LifetimeErrorCount,
		&st.TodayDate, &st.TodayImageCount, &st.TodayVideoCount, &st.TodayErrorCount,
		&st.LastErrorAt, &st.ConsecutiveErrors,
	)
	if err != nil {
		return nil, fmt.Errorf("get stats for credential %d: %w", credentialID, err)
	}
	if st.TodayDate != today {
		st.TodayDate = today
		st.TodayImageCount, st.TodayVideoCount, st.TodayErrorCount = 0, 0, 0
		if _, err := s.db.ExecContext(ctx, `
			UPDATE credential_stats
			SET today_date = $2, today_image_count = 0, today_video_count = 0, today_error_count = 0
			WHERE credential_id = $1`, credentialID, today); err != nil {
			return nil, fmt.Errorf("roll today counters for credential %d: %w", credentialID, err)
		}
	}
	return st, nil
}

func (s *Store) RecordUsage(ctx context.Context, credentialID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET use_count = use_count + 1, last_used_at = $2 WHERE id = $1`,
		credentialID, at)
	return err
}

func (s *Store) RecordSuccess(ctx context.Context, credentialID int64, feature string, today string) error {
	col := "today_image_count"
	lifetimeCol := "lifetime_image_count"
	if feature == "video" {
		col = "today_video_count"
		lifetimeCol = "lifetime_video_count"
	}
	query := fmt.Sprintf(`
		UPDATE credential_stats
		SET consecutive_error_count = 0,
		    %s = %s + 1,
		    %s = %s + 1,
		    today_date = $2
		WHERE credential_id = $1`, lifetimeCol, lifetimeCol, col, col)
	_, err := s.db.ExecContext(ctx, query, credentialID, today)
	return err
}

func (s *Store) RecordError(ctx context.Context, credentialID int64, today string, overloadOrShield bool) error {
	consecutiveIncrement := 1
	if overloadOrShield {
		// spec.md §3 CredentialStats invariant: overload does not bump consecutive-error.
		consecutiveIncrement = 0
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE credential_stats
		SET lifetime_error_count = lifetime_error_count + 1,
		    today_error_count = today_error_count + 1,
		    today_date = $2,
		    last_error_at = now(),
		    consecutive_error_count = consecutive_error_count + $3
		WHERE credential_id = $1`, credentialID, today, consecutiveIncrement)
	return err
}

func (s *Store) SetCooldown(ctx context.Context, credentialID int64, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE credentials SET cooled_until = $2 WHERE id = $1`, credentialID, until)
	return err
}

func (s *Store) MarkExpired(ctx context.Context, credentialID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE credentials SET expired = true, enabled = false WHERE id = $1`, credentialID)
	return err
}

func (s *Store) UpdateSora2Remaining(ctx context.Context, credentialID int64, remaining int, cooldownUntil *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET sora2_remaining = $2, sora2_cooldown_until = $3 WHERE id = $1`,
		credentialID, remaining, cooldownUntil)
	return err
}

func (s *Store) CreateTask(ctx context.Context, t *domain.Task) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (upstream_id, credential_id, model, prompt, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		t.UpstreamID, t.CredentialID, t.Model, t.Prompt, t.Status, t.Progress, t.CreatedAt,
	).Scan(&id)
	return id, err
}

func (s *Store) UpdateTaskProgress(ctx context.Context, id int64, progress float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET progress = $2 WHERE id = $1`, id, progress)
	return err
}

func (s *Store) CompleteTask(ctx context.Context, id int64, resultURLs []string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', result_urls = $2, completed_at = $3 WHERE id = $1`,
		id, pqStringArray(resultURLs), at)
	return err
}

func (s *Store) FailTask(ctx context.Context, id int64, errMsg string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', error_message = $2, completed_at = $3 WHERE id = $1`,
		id, errMsg, at)
	return err
}

func (s *Store) OpenRequestLog(ctx context.Context, l *domain.RequestLog) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO request_logs (credential_id, task_id, operation, request_body, status_code, duration_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		l.CredentialID, l.TaskID, l.Operation, l.RequestBody, domain.StatusInProgress, domain.DurationSecondsInProgress, l.CreatedAt,
	).Scan(&id)
	return id, err
}

func (s *Store) CloseRequestLog(ctx context.Context, id int64, statusCode int, responseBody string, duration float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE request_logs SET status_code = $2, response_body = $3, duration_seconds = $4, updated_at = $5
		WHERE id = $1`, id, statusCode, responseBody, duration, at)
	return err
}

func (s *Store) GetAdminConfig(ctx context.Context) (*domain.AdminConfig, error) {
	c := &domain.AdminConfig{}
	err := s.db.QueryRowContext(ctx, `
		SELECT error_ban_threshold, admin_username, admin_password_hash, api_key
		FROM admin_config WHERE id = 1`).Scan(&c.ErrorBanThreshold, &c.AdminUsername, &c.AdminPasswordHash, &c.APIKey)
	return c, err
}

func (s *Store) GetProxyConfig(ctx context.Context) (*domain.ProxyConfig, error) {
	c := &domain.ProxyConfig{}
	err := s.db.QueryRowContext(ctx, `SELECT global_proxy_url FROM proxy_config WHERE id = 1`).Scan(&c.GlobalProxyURL)
	return c, err
}

func (s *Store) GetWatermarkFreeConfig(ctx context.Context) (*domain.WatermarkFreeConfig, error) {
	c := &domain.WatermarkFreeConfig{}
	var method string
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, method, custom_url, custom_token FROM watermark_free_config WHERE id = 1`).
		Scan(&c.Enabled, &method, &c.CustomURL, &c.CustomToken)
	c.Method = domain.WatermarkFreeMethod(method)
	return c, err
}

func (s *Store) GetCacheConfig(ctx context.Context) (*domain.CacheConfig, error) {
	c := &domain.CacheConfig{}
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, timeout_seconds, base_url FROM cache_config WHERE id = 1`).
		Scan(&c.Enabled, &c.TimeoutSeconds, &c.BaseURL)
	return c, err
}

func (s *Store) GetGenerationConfig(ctx context.Context) (*domain.GenerationConfig, error) {
	c := &domain.GenerationConfig{}
	err := s.db.QueryRowContext(ctx, `
		SELECT image_timeout_seconds, video_timeout_seconds FROM generation_config WHERE id = 1`).
		Scan(&c.ImageTimeoutSeconds, &c.VideoTimeoutSeconds)
	return c, err
}

func (s *Store) GetTokenRefreshConfig(ctx context.Context) (*domain.TokenRefreshConfig, error) {
	c := &domain.TokenRefreshConfig{}
	err := s.db.QueryRowContext(ctx, `SELECT auto_refresh_enabled FROM token_refresh_config WHERE id = 1`).
		Scan(&c.AutoRefreshEnabled)
	return c, err
}

// pqStringArray renders a Go string slice as a Postgres text[] literal,
// matching the lightweight array handling lib/pq callers hand-roll when they
// don't pull in pq.Array for a single write path.
func pqStringArray(ss []string) string {
	out := "{"
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out + "}"
}
