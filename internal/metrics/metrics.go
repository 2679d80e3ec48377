// Package metrics exposes the Prometheus counters and histograms for
// both the server and client sides of the RFW/RFD transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts accepted server connections.
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfw_server_sessions_started_total",
			Help: "Server connections accepted",
		},
	)

	// SessionsFailed counts server sessions closed due to an exhausted
	// failure budget or a fatal I/O error.
	SessionsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfw_server_sessions_failed_total",
			Help: "Server sessions terminated by failure budget or I/O fault",
		},
		[]string{"reason"},
	)

	// NopsSent counts NOP frames emitted by the server.
	NopsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfw_server_nops_sent_total",
			Help: "NOP frames sent in response to malformed or undecodable RFWs",
		},
	)

	// BatchesServed counts RFDs streamed by the server.
	BatchesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfw_server_batches_served_total",
			Help: "RFD batches streamed to clients",
		},
		[]string{"protocol"},
	)

	// BatchServeDuration tracks per-batch sample-store-to-wire latency.
	BatchServeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rfw_server_batch_serve_duration_seconds",
			Help:    "Time to query the sample store and flush one RFD",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ClientReconnects counts reconnect-resume attempts on the client.
	ClientReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfw_client_reconnects_total",
			Help: "Reconnect-resume attempts made by client sessions",
		},
	)

	// ClientSessionsCompleted counts client sessions by terminal outcome.
	ClientSessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfw_client_sessions_completed_total",
			Help: "Client sessions by terminal outcome",
		},
		[]string{"outcome"}, // success|failure
	)

	// FilesWritten counts CSV files written by the client writer pool.
	FilesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfw_client_files_written_total",
			Help: "Batch CSV files successfully written",
		},
	)

	// WriterErrors counts per-file write failures.
	WriterErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfw_client_writer_errors_total",
			Help: "Batch CSV files that failed to write",
		},
	)

	// CircuitBreakerTrips counts client-side breaker trips per address.
	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfw_client_breaker_trips_total",
			Help: "Circuit breaker trips by target address",
		},
		[]string{"address"},
	)
)
