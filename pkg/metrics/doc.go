/*
Package metrics provides Prometheus instrumentation for the
reconciler using prometheus/client_golang.

Collectors are package-level and registered in init:

  - bamboo_agent_reconcile_runs_total{outcome}
  - bamboo_agent_reconcile_duration_seconds
  - bamboo_agent_changes_applied_total{kind}
  - bamboo_agent_busy_polls_total
  - bamboo_agent_api_requests_total{method,status}
  - bamboo_agent_api_request_duration_seconds{method}

# Usage

Timing an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)

Exposing metrics (the CLI does this behind --metrics-addr, useful when
a busy-wait keeps a run alive for a long time):

	http.Handle("/metrics", metrics.Handler())

A one-shot run that converges instantly has little to scrape; the
endpoint earns its keep on runs that block waiting for a busy agent.
*/
package metrics
