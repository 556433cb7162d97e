// Package metrics exposes this service's Prometheus instrumentation:
// replication lag, origin fetch counts (validates the §8 single-flight
// testable property — actual HTTP calls per refresh window), cache
// hit/miss, and resolver iteration counts.
//
// Grounded on _examples/evalgo-org-eve/tracing/metrics.go's promauto-based
// construction idiom; scoped down to the handful of series this service
// actually emits.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series this service emits.
type Metrics struct {
	ReplicationLastSeq    prometheus.Gauge
	ReplicationPageErrors prometheus.Counter
	ReplicationApplied    *prometheus.CounterVec

	OriginFetches  *prometheus.CounterVec
	TarballFetches *prometheus.CounterVec
	CacheHits      *prometheus.CounterVec
	ResolverTicks  prometheus.Histogram
}

// New constructs and registers every series under the "pkgcdn" namespace.
func New() *Metrics {
	return &Metrics{
		ReplicationLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "pkgcdn",
			Name:      "replication_last_seq",
			Help:      "Last applied replication cursor value.",
		}),
		ReplicationPageErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pkgcdn",
			Name:      "replication_page_errors_total",
			Help:      "Total number of failed _changes page fetches.",
		}),
		ReplicationApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pkgcdn",
			Name:      "replication_changes_applied_total",
			Help:      "Total number of change-feed entries applied, by kind.",
		}, []string{"kind"}), // "write" or "delete"

		OriginFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pkgcdn",
			Name:      "origin_fetches_total",
			Help:      "Total number of on-demand registry manifest fetches, by outcome.",
		}, []string{"outcome"}), // "hit", "error"
		TarballFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pkgcdn",
			Name:      "tarball_fetches_total",
			Help:      "Total number of tarball downloads, by outcome.",
		}, []string{"outcome"}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pkgcdn",
			Name:      "module_cache_requests_total",
			Help:      "Total number of processed-module cache lookups, by tier and outcome.",
		}, []string{"tier", "outcome"}), // tier: "memory"/"redis"; outcome: "hit"/"miss"
		ResolverTicks: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pkgcdn",
			Name:      "resolver_ticks",
			Help:      "Number of fixed-point iterations a resolve_tree run took.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50, 100, 200},
		}),
	}
}
