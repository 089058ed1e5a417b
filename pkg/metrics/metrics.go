// Package metrics exposes the Prometheus registry used by the cache proxy.
// Metrics are defined in their own packages (cache, client) via promauto so
// that packages stay independent; this package documents them and serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry all metrics register with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving Registry in exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - gqlcache_lookups_total{outcome} (Counter): Interceptions by outcome
//     (bypass, revalidate, compute, hit, waited, timeout)
//   - gqlcache_poll_wait_seconds (Histogram): Time requesters spent polling a loading slot
//   - gqlcache_writes_total{result} (Counter): Write-back decisions (stored, skipped, released)
//   - gqlcache_store_errors_total{operation} (Counter): Store errors (get, set, setnx, delete)
//   - gqlcache_stored_bytes_total (Counter): Bytes written back
//
// Upstream Metrics (pkg/client):
//   - gqlcache_upstream_requests_total{status} (Counter): Upstream requests by HTTP status
//   - gqlcache_upstream_duration_seconds (Histogram): Upstream request duration
//   - gqlcache_upstream_retries_total{error_class} (Counter): Retry attempts by error class
//   - gqlcache_upstream_retry_exhausted_total{error_class} (Counter): Exhausted retries
//
// Example Prometheus Queries:
//
//   # Hit Rate (served from cache, including polled results)
//   sum(rate(gqlcache_lookups_total{outcome=~"hit|waited"}[5m])) /
//   sum(rate(gqlcache_lookups_total{outcome!="bypass"}[5m]))
//
//   # Poll Timeouts (computations slower than the poll budget)
//   rate(gqlcache_lookups_total{outcome="timeout"}[5m])
//
//   # P95 Poll Wait
//   histogram_quantile(0.95, rate(gqlcache_poll_wait_seconds_bucket[5m]))
//
//   # Store Error Rate
//   sum(rate(gqlcache_store_errors_total[5m]))
