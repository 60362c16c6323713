package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistryExposesAllCollectors(t *testing.T) {
	reg := NewRegistry()
	r := New()

	r.ObserveSelection("selected")
	r.ObserveLock("acquired")
	r.SetConcurrencyInUse("image", 3)
	r.ObserveSaturation("video")
	r.ObservePoWSolve(0.25, 1000)
	r.ObserveOutcome("image", "completed")

	count, err := testutil.GatherAndCount(reg,
		"sora_gateway_scheduler_credential_selections_total",
		"sora_gateway_lock_contention_total",
		"sora_gateway_limiter_concurrency_slots_in_use",
		"sora_gateway_limiter_saturated_total",
		"sora_gateway_pow_solve_duration_seconds",
		"sora_gateway_pow_solve_iterations",
		"sora_gateway_orchestrator_task_outcomes_total",
	)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 7 {
		t.Fatalf("expected 7 samples across the gateway's collectors, got %d", count)
	}
}

func TestSetConcurrencyInUseReflectsLatestValue(t *testing.T) {
	reg := NewRegistry()
	r := New()

	r.SetConcurrencyInUse("image", 2)
	r.SetConcurrencyInUse("image", 5)

	got := testutil.ToFloat64(concurrencySlotsInUse.WithLabelValues("image"))
	if got != 5 {
		t.Fatalf("expected gauge to reflect latest Set, got %v", got)
	}

	_ = reg
}
