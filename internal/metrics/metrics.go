// Package metrics exposes Prometheus collectors for sync runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ucl_sync"

var (
	RecordsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records handed to sink writables per schema.",
		},
		[]string{"sink", "schema"},
	)
	RecordsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Records read from sources per stream set.",
		},
		[]string{"source", "stream_set"},
	)
	BytesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Raw bytes read from sources per stream set.",
		},
		[]string{"source", "stream_set"},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed sync runs by outcome.",
		},
		[]string{"sink", "outcome"},
	)
	CommitLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_latency_ms",
			Help:      "Latency of CommitAfterWrites in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 12),
		},
		[]string{"sink"},
	)
	LastOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_offset",
			Help:      "Last offset written per stream and schema.",
		},
		[]string{"stream_set", "stream", "schema"},
	)
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Sync runs currently executing.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsWritten,
		RecordsRead,
		BytesRead,
		RunsTotal,
		CommitLatency,
		LastOffset,
		ActiveRuns,
	)
}
