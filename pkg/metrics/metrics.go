// Package metrics provides the centralized Prometheus metrics registry
// for the export tool. All metrics are defined in their respective
// packages (api, fetch, catalog) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the tool.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/api):
//   - posture_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - posture_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - posture_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/api):
//   - posture_retries_total{error_class} (Counter): Retry attempts by error class
//   - posture_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - posture_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Fetch Metrics (pkg/fetch):
//   - posture_pages_fetched_total (Counter): Check pages fetched
//   - posture_checks_fetched_total (Counter): Check records fetched before client-side filtering
//   - posture_ceiling_hits_total (Counter): Sub-queries that hit the result ceiling
//
// Catalog Cache Metrics (pkg/catalog):
//   - posture_catalog_cache_hits_total (Counter): Catalog cache hits
//   - posture_catalog_cache_misses_total (Counter): Catalog cache misses
//   - posture_catalog_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(posture_errors_total[5m])
//
//   # Ceiling Hit Rate per Fetched Page
//   rate(posture_ceiling_hits_total[5m]) / rate(posture_pages_fetched_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(posture_request_duration_seconds_bucket[5m]))
