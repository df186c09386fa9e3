package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	ReconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bamboo_agent_reconcile_runs_total",
			Help: "Total number of reconciliation runs by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bamboo_agent_reconcile_duration_seconds",
			Help:    "Reconciliation run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChangesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bamboo_agent_changes_applied_total",
			Help: "Total number of applied change operations by kind",
		},
		[]string{"kind"},
	)

	BusyPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bamboo_agent_busy_polls_total",
			Help: "Total number of busy-state polls while waiting for idle",
		},
	)

	// API client metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bamboo_agent_api_requests_total",
			Help: "Total number of Bamboo API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bamboo_agent_api_request_duration_seconds",
			Help:    "Bamboo API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReconcileRunsTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ChangesAppliedTotal)
	prometheus.MustRegister(BusyPollsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
