// Package metrics provides Prometheus metrics for the edge board.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// BoardMetrics collects and exposes aggregation pipeline metrics.
type BoardMetrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	EnvelopesTotal    *prometheus.CounterVec
	ParseErrors       *prometheus.CounterVec
	UnresolvedAliases *prometheus.CounterVec

	// Aggregator metrics
	MarketsTracked *prometheus.GaugeVec
	UpdatesApplied *prometheus.CounterVec
	UpdatesDropped *prometheus.CounterVec
	EvictionsTotal *prometheus.CounterVec

	// Producer metrics
	SourceState      *prometheus.GaugeVec
	ProducerRestarts *prometheus.CounterVec

	// Comparison metrics
	Discrepancy    prometheus.Histogram
	ComparisonRows prometheus.Gauge

	// Consumer metrics
	StreamClients    prometheus.Gauge
	SnapshotRequests prometheus.Counter
}

// NewBoardMetrics creates a new metrics collector with its own registry.
func NewBoardMetrics() *BoardMetrics {
	registry := prometheus.NewRegistry()

	bm := &BoardMetrics{
		registry: registry,

		EnvelopesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epledge_envelopes_total",
				Help: "Producer envelopes received, by source and envelope type",
			},
			[]string{"source", "type"},
		),
		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epledge_parse_errors_total",
				Help: "Malformed market payloads skipped",
			},
			[]string{"source"},
		),
		UnresolvedAliases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epledge_unresolved_aliases_total",
				Help: "Records whose team names fell back to raw strings",
			},
			[]string{"source"},
		),

		MarketsTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "epledge_markets_tracked",
				Help: "Live aggregator entries per source",
			},
			[]string{"source"},
		),
		UpdatesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epledge_updates_applied_total",
				Help: "Ingested updates that changed aggregator state",
			},
			[]string{"source"},
		),
		UpdatesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epledge_updates_dropped_total",
				Help: "Ingested updates identical to current state",
			},
			[]string{"source"},
		),
		EvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epledge_evictions_total",
				Help: "Entries evicted by the staleness sweep",
			},
			[]string{"source"},
		),

		SourceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "epledge_source_state",
				Help: "Producer state (0=connecting, 1=streaming, 2=degraded, 3=closed)",
			},
			[]string{"source"},
		),
		ProducerRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epledge_producer_restarts_total",
				Help: "Producer subprocess restarts",
			},
			[]string{"source"},
		),

		Discrepancy: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "epledge_max_discrepancy",
				Help:    "Max cross-source probability discrepancy per comparison record",
				Buckets: prometheus.LinearBuckets(0, 0.02, 16), // 0 to 0.30
			},
		),
		ComparisonRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "epledge_comparison_rows",
				Help: "Comparison records in the latest recompute",
			},
		),

		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "epledge_stream_clients",
				Help: "Connected WebSocket clients",
			},
		),
		SnapshotRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "epledge_snapshot_requests_total",
				Help: "HTTP snapshot/comparison requests served",
			},
		),
	}

	bm.registerAll()
	return bm
}

func (bm *BoardMetrics) registerAll() {
	bm.registry.MustRegister(
		bm.EnvelopesTotal,
		bm.ParseErrors,
		bm.UnresolvedAliases,
		bm.MarketsTracked,
		bm.UpdatesApplied,
		bm.UpdatesDropped,
		bm.EvictionsTotal,
		bm.SourceState,
		bm.ProducerRestarts,
		bm.Discrepancy,
		bm.ComparisonRows,
		bm.StreamClients,
		bm.SnapshotRequests,
	)
}

// Registry returns the prometheus registry.
func (bm *BoardMetrics) Registry() *prometheus.Registry {
	return bm.registry
}

// --- Helper methods for recording metrics ---

// RecordEnvelope records a received producer envelope.
func (bm *BoardMetrics) RecordEnvelope(source, envType string) {
	bm.EnvelopesTotal.WithLabelValues(source, envType).Inc()
}

// RecordParseError records a skipped malformed payload.
func (bm *BoardMetrics) RecordParseError(source string) {
	bm.ParseErrors.WithLabelValues(source).Inc()
}

// RecordUnresolvedAlias records a team-name resolution miss.
func (bm *BoardMetrics) RecordUnresolvedAlias(source string) {
	bm.UnresolvedAliases.WithLabelValues(source).Inc()
}

// RecordIngest records the outcome of one aggregator ingest.
func (bm *BoardMetrics) RecordIngest(source string, applied bool) {
	if applied {
		bm.UpdatesApplied.WithLabelValues(source).Inc()
	} else {
		bm.UpdatesDropped.WithLabelValues(source).Inc()
	}
}

// RecordEviction records staleness evictions.
func (bm *BoardMetrics) RecordEviction(source string) {
	bm.EvictionsTotal.WithLabelValues(source).Inc()
}

// SetMarketsTracked updates the per-source live entry count.
func (bm *BoardMetrics) SetMarketsTracked(source string, n int) {
	bm.MarketsTracked.WithLabelValues(source).Set(float64(n))
}

// SetSourceState updates a producer's state gauge.
func (bm *BoardMetrics) SetSourceState(source string, state int) {
	bm.SourceState.WithLabelValues(source).Set(float64(state))
}

// RecordRestart records a producer restart.
func (bm *BoardMetrics) RecordRestart(source string) {
	bm.ProducerRestarts.WithLabelValues(source).Inc()
}

// RecordComparisons records the result of a comparison recompute.
func (bm *BoardMetrics) RecordComparisons(discrepancies []decimal.Decimal) {
	bm.ComparisonRows.Set(float64(len(discrepancies)))
	for _, d := range discrepancies {
		f, _ := d.Float64()
		bm.Discrepancy.Observe(f)
	}
}

// Global instance for convenience
var defaultMetrics *BoardMetrics
var once sync.Once

// Default returns the default global metrics instance.
func Default() *BoardMetrics {
	once.Do(func() {
		defaultMetrics = NewBoardMetrics()
	})
	return defaultMetrics
}
