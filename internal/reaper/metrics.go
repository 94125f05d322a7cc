package reaper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics mirrors the promauto.With(registry).New*Vec grouping style of
// adrianmcphee-smarterbase's PrometheusMetrics, scoped down to the
// handful of series the reaper's heartbeat (spec.md §4.5) actually
// needs.
type metrics struct {
	expiredTotal  prometheus.Counter
	failuresTotal prometheus.Counter
	batchDuration prometheus.Histogram
	lastRunHolds  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &metrics{
		expiredTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "reaper",
			Name:      "holds_expired_total",
			Help:      "Total holds transitioned to expired by the reaper.",
		}),
		failuresTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "reaper",
			Name:      "hold_expire_failures_total",
			Help:      "Total per-hold expire failures encountered by the reaper.",
		}),
		batchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "checkout",
			Subsystem: "reaper",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of one reaper invocation.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastRunHolds: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "checkout",
			Subsystem: "reaper",
			Name:      "last_run_candidates",
			Help:      "Number of expired candidates observed on the most recent run.",
		}),
	}
}
