// Package observability exposes Prometheus metrics for the ingestion pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and gauges for the loader.
type Metrics struct {
	RowsMapped       prometheus.Counter
	MappingErrors    prometheus.Counter
	DocumentsIndexed prometheus.Counter
	BulkRetries      prometheus.Counter
	BytesFetched     prometheus.Counter
	LoadRunning      prometheus.Gauge

	// Per-file row counts by G-NAF table kind.
	FileRows *prometheus.CounterVec // label: table
}

// New creates and registers all loader metrics with the default registry.
func New() *Metrics {
	m := build()
	prometheus.MustRegister(
		m.RowsMapped,
		m.MappingErrors,
		m.DocumentsIndexed,
		m.BulkRetries,
		m.BytesFetched,
		m.LoadRunning,
		m.FileRows,
	)
	return m
}

// NewForTesting creates Metrics without registering them, avoiding
// "already registered" panics across tests.
func NewForTesting() *Metrics {
	return build()
}

func build() *Metrics {
	return &Metrics{
		RowsMapped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "addresskit",
			Name:      "rows_mapped_total",
			Help:      "Address detail rows mapped to documents.",
		}),
		MappingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "addresskit",
			Name:      "mapping_errors_total",
			Help:      "Rows rejected by the mapper.",
		}),
		DocumentsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "addresskit",
			Name:      "documents_indexed_total",
			Help:      "Documents acknowledged by the search backend.",
		}),
		BulkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "addresskit",
			Name:      "bulk_retries_total",
			Help:      "Bulk submissions retried after backend errors.",
		}),
		BytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "addresskit",
			Name:      "bytes_fetched_total",
			Help:      "Archive bytes written to disk by the fetcher.",
		}),
		LoadRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "addresskit",
			Name:      "load_running",
			Help:      "1 while an ingestion run is active.",
		}),
		FileRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "addresskit",
			Name:      "file_rows_total",
			Help:      "Rows parsed per G-NAF table kind.",
		}, []string{"table"}),
	}
}
