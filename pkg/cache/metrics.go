package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks interception outcomes
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlcache_lookups_total",
			Help: "Total number of cache interceptions by outcome",
		},
		[]string{"outcome"}, // "bypass", "revalidate", "compute", "hit", "waited", "timeout"
	)

	// PollWait tracks how long requesters waited on a loading slot
	PollWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gqlcache_poll_wait_seconds",
			Help:    "Time spent polling a loading slot",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	// Writes tracks write-back decisions
	Writes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlcache_writes_total",
			Help: "Total number of write-back decisions by result",
		},
		[]string{"result"}, // "stored", "skipped", "released"
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlcache_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "setnx", "delete"
	)

	// StoredBytes tracks the size of written-back payloads
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gqlcache_stored_bytes_total",
			Help: "Total bytes of response payloads written to the store",
		},
	)
)
