package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// Metrics holds all Prometheus metrics for the hook engine. Pass to
// components that need to record metrics; a nil *Metrics is valid and
// every recording method on HookManager tolerates it.
type Metrics struct {
	EvaluationsTotal  *prometheus.CounterVec
	EvaluationSeconds *prometheus.HistogramVec
	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
	BypassedTotal     *prometheus.CounterVec
	CacheEntries      prometheus.GaugeFunc
	CacheWeight       prometheus.GaugeFunc
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		EvaluationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hookengine",
				Name:      "rule_evaluations_total",
				Help:      "Total number of rule body invocations, by rule name and outcome",
			},
			[]string{"rule_name", "outcome"}, // outcome=accepted/rejected/error
		),
		EvaluationSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hookengine",
				Name:      "rule_evaluation_seconds",
				Help:      "Rule body invocation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"rule_name"},
		),
		CacheHitsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "hookengine",
				Name:      "verdict_cache_hits_total",
				Help:      "Total Verdict Cache hits",
			},
		),
		CacheMissesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "hookengine",
				Name:      "verdict_cache_misses_total",
				Help:      "Total Verdict Cache misses",
			},
		),
		BypassedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hookengine",
				Name:      "rule_bypassed_total",
				Help:      "Total rule invocations skipped due to a matching Bypass",
			},
			[]string{"rule_name"},
		),
	}
}

// CacheGaugeFuncs registers gauges that read live Len()/Weight() off c. Call
// once after both NewMetrics and the cache exist, since promauto registers
// eagerly.
func CacheGaugeFuncs(reg prometheus.Registerer, c *VerdictCache) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "hookengine", Name: "verdict_cache_entries", Help: "Current Verdict Cache entry count"},
		func() float64 { return float64(c.Len()) },
	)
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "hookengine", Name: "verdict_cache_weight", Help: "Current Verdict Cache cumulative weight"},
		func() float64 { return float64(c.Weight()) },
	)
}

// recordStart returns the invocation start time, used to compute latency in
// recordFinish. Kept as a method so HookManager's call sites stay uniform
// whether or not metrics are wired.
func (hm *HookManager) recordStart() time.Time {
	return time.Now()
}

func (hm *HookManager) recordFinish(ruleName string, start time.Time, v hook.Verdict, err error) {
	elapsed := time.Since(start)
	hm.logger.Debug("rule evaluated", "rule_name", ruleName, "latency_ms", elapsed.Milliseconds(), "accepted", v.Accepted, "error", err)

	if hm.metrics == nil {
		return
	}
	hm.metrics.EvaluationSeconds.WithLabelValues(ruleName).Observe(elapsed.Seconds())

	outcome := "accepted"
	switch {
	case err != nil:
		outcome = "error"
	case !v.Accepted:
		outcome = "rejected"
	}
	hm.metrics.EvaluationsTotal.WithLabelValues(ruleName, outcome).Inc()
}

func (hm *HookManager) recordBypass(ruleName string) {
	if hm.metrics == nil {
		return
	}
	hm.metrics.BypassedTotal.WithLabelValues(ruleName).Inc()
}
