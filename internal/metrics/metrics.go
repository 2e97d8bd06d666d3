// Package metrics declares the Prometheus collectors shared across the
// service and exposes the /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docspark"

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Conversion jobs by terminal status.",
	}, []string{"status"})

	EngineAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_attempts_total",
		Help:      "Conversion strategy attempts by engine and result.",
	}, []string{"engine", "result"})

	AbuseRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "abuse_rejections_total",
		Help:      "Requests rejected by an abuse gate.",
	}, []string{"gate"})

	ReaperDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_deleted_total",
		Help:      "Expired jobs reclaimed by the reaper.",
	})

	ReaperFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_failures_total",
		Help:      "Expired jobs the reaper failed to reclaim.",
	})
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
