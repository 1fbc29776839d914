package metrics

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aws-agent/verity/internal/audit"
	"github.com/aws-agent/verity/pkg/circuitbreaker"
)

var (
	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verity_evaluation_duration_seconds",
			Help:    "End-to-end evaluation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verity_evaluations_total",
			Help: "Total number of evaluations by final status",
		},
		[]string{"mode", "status"},
	)

	QualityScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verity_quality_score",
			Help:    "Quality score of delivered answers",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"status"},
	)

	RewriteRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verity_rewrite_rounds",
			Help:    "Regeneration rounds used per evaluation",
			Buckets: []float64{0, 1, 2, 3, 5},
		},
	)

	ReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verity_reasons_total",
			Help: "Reason codes reported by validators",
		},
		[]string{"reason"},
	)

	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verity_policy_decisions_total",
			Help: "Rewrite policy decisions by rule and action",
		},
		[]string{"rule", "action"},
	)

	EpistemicStates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verity_epistemic_state_total",
			Help: "Epistemic state of delivered answers",
		},
		[]string{"state"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verity_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verity_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verity_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verity_llm_tokens_used",
			Help: "Total LLM tokens used by regeneration",
		},
		[]string{"model", "type"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		EvaluationDuration,
		EvaluationsTotal,
		QualityScore,
		RewriteRounds,
		ReasonsTotal,
		PolicyDecisions,
		EpistemicStates,
		BreakerState,
		CacheHits,
		CacheMisses,
		LLMTokensUsed,
	}
}

// Init registers every collector with the default registry.
func Init() {
	prometheus.MustRegister(collectors()...)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Sink turns audit events into metric updates.
type Sink struct{}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Record(_ context.Context, e *audit.Event) error {
	mode := string(e.Mode)
	status := string(e.FinalStatus)

	EvaluationDuration.WithLabelValues(mode).Observe(e.Duration.Seconds())
	EvaluationsTotal.WithLabelValues(mode, status).Inc()
	QualityScore.WithLabelValues(status).Observe(e.FinalQuality)
	RewriteRounds.Observe(float64(e.RoundsUsed))
	if e.Epistemic != "" {
		EpistemicStates.WithLabelValues(string(e.Epistemic)).Inc()
	}
	for reason, n := range e.ReasonCounts {
		ReasonsTotal.WithLabelValues(reason).Add(float64(n))
	}
	for _, t := range e.Transitions {
		PolicyDecisions.WithLabelValues(strconv.Itoa(t.Rule), string(t.Action)).Inc()
	}
	return nil
}

// ObserveBreaker is meant to be used as a circuitbreaker OnStateChange hook.
func ObserveBreaker(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}
