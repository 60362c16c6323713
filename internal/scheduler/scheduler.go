// Package scheduler implements the Credential Scheduler (spec.md §4.3): a
// random-eligible-pick selector over the pool of upstream credentials,
// filtered by the same predicate chain as the original LoadBalancer in
// original_source/src/services/load_balancer.py, with auto-refresh of
// nearly-expired credentials handed off to a TokenRefresher collaborator the
// way load_balancer.py calls into token_manager before each selection.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/sora-gateway/gateway/internal/domain"
	"github.com/sora-gateway/gateway/internal/limiter"
	"github.com/sora-gateway/gateway/internal/lock"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/store"
)

// refreshWindow mirrors load_balancer.py's 24-hour expiry lookahead.
const refreshWindow = 24 * time.Hour

// Metrics is the subset of internal/metrics the Scheduler reports selection
// outcomes through.
type Metrics interface {
	ObserveSelection(result string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSelection(string) {}

// SelectOptions narrows the eligible pool the way select_token's
// for_image_generation/for_video_generation/require_pro flags do.
type SelectOptions struct {
	ForImageGeneration bool
	ForVideoGeneration bool
	RequirePro         bool
}

// Scheduler picks one credential from the pool per request.
type Scheduler struct {
	store     store.CredentialStore
	refresher store.TokenRefresher
	tokenLock *lock.TokenLock
	limiter   *limiter.ConcurrencyLimiter
	log       *logger.Logger
	metrics   Metrics
	now       func() time.Time
}

// New builds a Scheduler. refresher may be nil to disable auto-refresh, and
// limit may be nil to disable concurrency-aware filtering.
func New(st store.CredentialStore, refresher store.TokenRefresher, tokenLock *lock.TokenLock, limit *limiter.ConcurrencyLimiter, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store:     st,
		refresher: refresher,
		tokenLock: tokenLock,
		limiter:   limit,
		log:       log.WithComponent("scheduler"),
		metrics:   noopMetrics{},
		now:       time.Now,
	}
}

// SetMetrics wires a Metrics sink, replacing the no-op default.
func (s *Scheduler) SetMetrics(m Metrics) { s.metrics = m }

// Select picks a credential matching opts, or (nil, nil) if the pool has no
// eligible candidate.
func (s *Scheduler) Select(ctx context.Context, opts SelectOptions) (*domain.Credential, error) {
	s.autoRefreshExpiring(ctx)

	result := "selected"
	switch {
	case opts.RequirePro:
		result = "no_eligible_pro"
	case opts.ForImageGeneration:
		result = "no_eligible_image"
	case opts.ForVideoGeneration:
		result = "no_eligible_video"
	}

	now := s.now()
	pool, err := s.store.ListEligible(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		s.metrics.ObserveSelection(result)
		return nil, nil
	}

	if opts.RequirePro {
		pool = filter(pool, func(c *domain.Credential) bool { return c.IsPro() })
		if len(pool) == 0 {
			s.metrics.ObserveSelection(result)
			return nil, nil
		}
	}

	if opts.ForVideoGeneration {
		pool = s.filterForVideo(ctx, pool, now)
		if len(pool) == 0 {
			s.metrics.ObserveSelection(result)
			return nil, nil
		}
	}

	if opts.ForImageGeneration {
		pool = s.filterForImage(pool)
		if len(pool) == 0 {
			s.metrics.ObserveSelection(result)
			return nil, nil
		}
		s.metrics.ObserveSelection("selected")
		return pool[rand.Intn(len(pool))], nil
	}

	if opts.ForVideoGeneration && s.limiter != nil {
		pool = filter(pool, func(c *domain.Credential) bool { return s.limiter.CanUseVideo(c.ID) })
		if len(pool) == 0 {
			s.metrics.ObserveSelection(result)
			return nil, nil
		}
	}

	s.metrics.ObserveSelection("selected")
	return pool[rand.Intn(len(pool))], nil
}

// filterForImage drops credentials without image enabled, currently locked
// for image generation, or out of image concurrency slots.
func (s *Scheduler) filterForImage(pool []*domain.Credential) []*domain.Credential {
	return filter(pool, func(c *domain.Credential) bool {
		if !c.ImageEnabled {
			return false
		}
		if s.tokenLock != nil && s.tokenLock.IsLocked(c.ID) {
			return false
		}
		if s.limiter != nil && !s.limiter.CanUseImage(c.ID) {
			return false
		}
		return true
	})
}

// filterForVideo drops credentials without video/Sora2 support and those
// still inside their Sora2 quota cooldown, refreshing any credential whose
// cooldown has just elapsed before deciding.
func (s *Scheduler) filterForVideo(ctx context.Context, pool []*domain.Credential, now time.Time) []*domain.Credential {
	out := make([]*domain.Credential, 0, len(pool))
	for _, c := range pool {
		if !c.VideoEnabled || !c.Sora2Supported {
			continue
		}

		if c.Sora2CooldownUntil != nil && !c.Sora2CooldownUntil.After(now) && s.refresher != nil {
			if err := s.refresher.RefreshSora2RemainingIfCooldownExpired(ctx, c.ID); err != nil {
				s.log.LogError(ctx, err, "refresh sora2 remaining failed", "credential_id", c.ID)
			} else if refreshed, err := s.store.GetCredential(ctx, c.ID); err == nil {
				c = refreshed
			}
		}

		if c.IsSora2Cooled(now) {
			continue
		}

		out = append(out, c)
	}
	return out
}

// autoRefreshExpiring asks the refresher to refresh every credential whose
// token expires within the 24-hour lookahead window.
func (s *Scheduler) autoRefreshExpiring(ctx context.Context) {
	if s.refresher == nil {
		return
	}

	cfg, err := s.store.GetTokenRefreshConfig(ctx)
	if err != nil || !cfg.AutoRefreshEnabled {
		return
	}

	now := s.now()
	pool, err := s.store.ListEligible(ctx, now)
	if err != nil {
		s.log.LogError(ctx, err, "list eligible credentials for auto-refresh failed")
		return
	}

	refreshed := 0
	for _, c := range pool {
		if c.ExpiresAt.IsZero() {
			continue
		}
		if c.ExpiresAt.Sub(now) > refreshWindow {
			continue
		}
		if err := s.refresher.RefreshIfExpiring(ctx, c.ID); err != nil {
			s.log.LogError(ctx, err, "auto-refresh failed", "credential_id", c.ID)
			continue
		}
		refreshed++
	}

	if refreshed > 0 {
		s.log.Debug("auto-refresh pass completed", "refreshed", refreshed, "checked", len(pool))
	}
}

func filter(pool []*domain.Credential, keep func(*domain.Credential) bool) []*domain.Credential {
	out := make([]*domain.Credential, 0, len(pool))
	for _, c := range pool {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
