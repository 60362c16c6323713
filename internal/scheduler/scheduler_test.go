package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sora-gateway/gateway/internal/domain"
	"github.com/sora-gateway/gateway/internal/limiter"
	"github.com/sora-gateway/gateway/internal/lock"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/store/memstore"
)

type noopRefresher struct{}

func (noopRefresher) RefreshIfExpiring(ctx context.Context, credentialID int64) error { return nil }
func (noopRefresher) RefreshSora2RemainingIfCooldownExpired(ctx context.Context, credentialID int64) error {
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func baseCredential(id int64) *domain.Credential {
	return &domain.Credential{
		ID:               id,
		Enabled:          true,
		ExpiresAt:        time.Now().Add(72 * time.Hour),
		ImageEnabled:     true,
		VideoEnabled:     true,
		Sora2Supported:   true,
		ImageConcurrency: limiter.Unbounded,
		VideoConcurrency: limiter.Unbounded,
	}
}

func TestSelectReturnsNilOnEmptyPool(t *testing.T) {
	st := memstore.New()
	sch := New(st, noopRefresher{}, lock.New(time.Minute, testLogger()), limiter.New(testLogger()), testLogger())

	got, err := sch.Select(context.Background(), SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil credential, got %+v", got)
	}
}

func TestSelectSkipsImageLockedCredential(t *testing.T) {
	st := memstore.New()
	st.Seed(baseCredential(1))
	st.Seed(baseCredential(2))

	tl := lock.New(time.Minute, testLogger())
	tl.TryAcquire(1)

	sch := New(st, noopRefresher{}, tl, limiter.New(testLogger()), testLogger())

	for i := 0; i < 20; i++ {
		got, err := sch.Select(context.Background(), SelectOptions{ForImageGeneration: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil {
			t.Fatal("expected a credential")
		}
		if got.ID == 1 {
			t.Fatal("expected locked credential 1 to never be selected")
		}
	}
}

func TestSelectRequiresProTier(t *testing.T) {
	st := memstore.New()
	regular := baseCredential(1)
	pro := baseCredential(2)
	pro.SubscriptionTier = "chatgpt_pro"
	st.Seed(regular)
	st.Seed(pro)

	sch := New(st, noopRefresher{}, lock.New(time.Minute, testLogger()), limiter.New(testLogger()), testLogger())

	got, err := sch.Select(context.Background(), SelectOptions{RequirePro: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != 2 {
		t.Fatalf("expected pro credential 2, got %+v", got)
	}
}

func TestSelectSkipsSora2CooledCredential(t *testing.T) {
	st := memstore.New()
	cooled := baseCredential(1)
	future := time.Now().Add(time.Hour)
	cooled.Sora2CooldownUntil = &future
	available := baseCredential(2)
	st.Seed(cooled)
	st.Seed(available)

	sch := New(st, noopRefresher{}, lock.New(time.Minute, testLogger()), limiter.New(testLogger()), testLogger())

	for i := 0; i < 20; i++ {
		got, err := sch.Select(context.Background(), SelectOptions{ForVideoGeneration: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.ID != 2 {
			t.Fatalf("expected credential 2, got %+v", got)
		}
	}
}

func TestSelectSkipsDisabledAndExpiredCredentials(t *testing.T) {
	st := memstore.New()
	disabled := baseCredential(1)
	disabled.Enabled = false
	expired := baseCredential(2)
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	ok := baseCredential(3)
	st.Seed(disabled)
	st.Seed(expired)
	st.Seed(ok)

	sch := New(st, noopRefresher{}, lock.New(time.Minute, testLogger()), limiter.New(testLogger()), testLogger())

	for i := 0; i < 20; i++ {
		got, err := sch.Select(context.Background(), SelectOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.ID != 3 {
			t.Fatalf("expected credential 3, got %+v", got)
		}
	}
}
