package governance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the governance counters. Register once per process
// against the registry the daemon exposes on /metrics.
type Metrics struct {
	OutcomesApplied prometheus.Counter
	DuplicateEvents prometheus.Counter
	Promotions      prometheus.Counter
	Demotions       prometheus.Counter
	Conflicts       prometheus.Counter
	PublishFailures prometheus.Counter
	Scans           prometheus.Counter
}

// NewMetrics registers the governance counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OutcomesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_outcomes_applied_total",
			Help: "Session outcomes folded into rolling pattern metrics.",
		}),
		DuplicateEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_duplicate_events_total",
			Help: "Inbound events skipped by the idempotency gate.",
		}),
		Promotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_promotions_total",
			Help: "Patterns promoted to validated.",
		}),
		Demotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_demotions_total",
			Help: "Patterns deprecated by the demotion gate or operators.",
		}),
		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_status_conflicts_total",
			Help: "Optimistic-concurrency conflicts turned into no-ops.",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_publish_failures_total",
			Help: "Lifecycle event publishes that failed after persistence.",
		}),
		Scans: factory.NewCounter(prometheus.CounterOpts{
			Name: "patternd_scans_total",
			Help: "Gate scans executed.",
		}),
	}
}

// NopMetrics returns counters bound to a throwaway registry, for
// callers that do not export metrics.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
