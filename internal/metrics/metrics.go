// Package metrics registers the gateway's Prometheus collectors and exposes
// a narrow reporting surface to internal/scheduler, internal/lock,
// internal/limiter, internal/pow, and internal/orchestrator, grounded on
// wisbric-nightowl's telemetry package (shared vars + NewRegistry helper
// registering Go/process collectors alongside service-specific ones).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	credentialSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sora_gateway",
			Subsystem: "scheduler",
			Name:      "credential_selections_total",
			Help:      "Credential selection outcomes by result.",
		},
		[]string{"result"},
	)

	lockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sora_gateway",
			Subsystem: "lock",
			Name:      "contention_total",
			Help:      "Token lock acquisition attempts by outcome.",
		},
		[]string{"outcome"},
	)

	concurrencySlotsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sora_gateway",
			Subsystem: "limiter",
			Name:      "concurrency_slots_in_use",
			Help:      "In-use concurrency slots by modality.",
		},
		[]string{"modality"},
	)

	concurrencySaturated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sora_gateway",
			Subsystem: "limiter",
			Name:      "saturated_total",
			Help:      "Slot acquisition attempts that found no capacity, by modality.",
		},
		[]string{"modality"},
	)

	powSolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sora_gateway",
			Subsystem: "pow",
			Name:      "solve_duration_seconds",
			Help:      "Proof-of-work solve duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	powIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sora_gateway",
			Subsystem: "pow",
			Name:      "solve_iterations",
			Help:      "Proof-of-work solve iteration count.",
			Buckets:   []float64{10, 100, 1000, 10000, 100000, 1000000},
		},
	)

	taskOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sora_gateway",
			Subsystem: "orchestrator",
			Name:      "task_outcomes_total",
			Help:      "Terminal generation task outcomes by modality and outcome.",
		},
		[]string{"modality", "outcome"},
	)
)

// NewRegistry builds a Prometheus registry carrying the Go/process
// collectors plus every gateway collector, ready to back promhttp.Handler.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		credentialSelections,
		lockContention,
		concurrencySlotsInUse,
		concurrencySaturated,
		powSolveDuration,
		powIterations,
		taskOutcomes,
	)
	return reg
}

// Reporter is the concrete Metrics implementation shared across components.
// Each component depends on the narrow interface it needs (see
// internal/orchestrator.Metrics, internal/scheduler.Metrics, ...);
// Reporter satisfies all of them.
type Reporter struct{}

// New returns a Reporter. The zero value works too; this mirrors the
// constructor shape used throughout the rest of the gateway.
func New() *Reporter { return &Reporter{} }

// ObserveSelection records a credential selection outcome: "selected",
// "no_eligible_image", "no_eligible_video", or "no_eligible_pro".
func (*Reporter) ObserveSelection(result string) {
	credentialSelections.WithLabelValues(result).Inc()
}

// ObserveLock records a token lock acquisition attempt outcome: "acquired"
// or "contended".
func (*Reporter) ObserveLock(outcome string) {
	lockContention.WithLabelValues(outcome).Inc()
}

// SetConcurrencyInUse reports the current in-use slot count for modality
// ("image" or "video").
func (*Reporter) SetConcurrencyInUse(modality string, inUse int) {
	concurrencySlotsInUse.WithLabelValues(modality).Set(float64(inUse))
}

// ObserveSaturation records a slot acquisition attempt that found no
// capacity for modality.
func (*Reporter) ObserveSaturation(modality string) {
	concurrencySaturated.WithLabelValues(modality).Inc()
}

// ObservePoWSolve records one proof-of-work solve's duration and iteration
// count.
func (*Reporter) ObservePoWSolve(seconds float64, iterations int) {
	powSolveDuration.Observe(seconds)
	powIterations.Observe(float64(iterations))
}

// ObserveOutcome records a terminal task outcome ("completed", "failed",
// "violation", "timeout") for the given modality ("image" or "video").
func (*Reporter) ObserveOutcome(modality, outcome string) {
	taskOutcomes.WithLabelValues(modality, outcome).Inc()
}
