package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metric variables, registered automatically via promauto.

var (
	// HTTP request counter, labeled by method, path and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kartadb_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// Server response time. Buckets stay small: queries and traversals over
	// an in-memory snapshot are microsecond-to-millisecond work.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kartadb_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// Queries and traversals executed, labeled by surface (http, mcp) and
	// outcome (ok, error).
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kartadb_queries_total",
			Help: "Total number of graph queries executed",
		},
		[]string{"surface", "outcome"},
	)
	TraversalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kartadb_traversals_total",
			Help: "Total number of graph traversals executed",
		},
		[]string{"surface", "outcome"},
	)

	// Size of the serving snapshot.
	NodesServing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kartadb_nodes_serving",
			Help: "Number of nodes in the currently served snapshot",
		},
	)
	EdgesServing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kartadb_edges_serving",
			Help: "Number of edges in the currently served snapshot",
		},
	)

	// Store rebuilds (hot reloads), labeled by outcome.
	RebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kartadb_rebuilds_total",
			Help: "Total number of store rebuilds",
		},
		[]string{"outcome"},
	)

	// Federation partition registry state.
	PartitionsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kartadb_partitions_loaded",
			Help: "Number of partitions currently loaded in the federation client",
		},
	)
	PartitionLoadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kartadb_partition_load_failures_total",
			Help: "Total number of failed partition loads",
		},
	)
)
