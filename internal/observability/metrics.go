package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the monitor. Components accept a
// nil *Metrics so unit tests can run without touching the global registry.
type Metrics struct {
	// --- Scanning ---
	TicksScanned      prometheus.Counter
	QueriesDiscovered prometheus.Counter
	ScanCheckpoint    prometheus.Gauge
	RegistrySize      prometheus.Gauge

	// --- Node transport ---
	RequestDuration   *prometheus.HistogramVec
	RequestErrors     *prometheus.CounterVec
	Reconnects        prometheus.Counter
	NodeFailovers     prometheus.Counter
	HeartbeatsSkipped prometheus.Counter

	// --- Lifecycle tracking ---
	StatusTransitions *prometheus.CounterVec
	RechecksRun       prometheus.Counter

	// --- Gap reconciliation ---
	ExpectedTotal    prometheus.Gauge
	GapDeficit       prometheus.Gauge
	GapRecovered     prometheus.Counter
	PendingProbeHits prometheus.Counter
	ClusterRescans   prometheus.Counter

	// --- Persistence ---
	SnapshotWrites   prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotErrors   prometheus.Counter

	// --- Time-series forwarding ---
	ForwardWrites    prometheus.Counter
	ForwardDebounced prometheus.Counter
	ForwardErrors    prometheus.Counter

	// --- External lookups & publishing ---
	IdentityLookupErrors prometheus.Counter
	PublishErrors        prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	requestBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	return &Metrics{
		TicksScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_ticks_scanned_total",
			Help: "Ticks walked by the incremental scanner",
		}),
		QueriesDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_queries_discovered_total",
			Help: "New query entries inserted into the registry",
		}),
		ScanCheckpoint: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "oraclemon_scan_checkpoint",
			Help: "Highest tick fully scanned",
		}),
		RegistrySize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "oraclemon_registry_size",
			Help: "Number of tracked query entries",
		}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oraclemon_node_request_duration_seconds",
			Help:    "Node request round-trip time",
			Buckets: requestBuckets,
		}, []string{"op"}),
		RequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "oraclemon_node_request_errors_total",
			Help: "Node request failures by error kind",
		}, []string{"op", "kind"}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_node_reconnects_total",
			Help: "Reconnects after a dead connection",
		}),
		NodeFailovers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_node_failovers_total",
			Help: "Connections established to a non-first candidate node",
		}),
		HeartbeatsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_heartbeats_skipped_total",
			Help: "Heartbeat frames discarded while waiting for a reply",
		}),

		StatusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "oraclemon_status_transitions_total",
			Help: "Observed query status transitions",
		}, []string{"to"}),
		RechecksRun: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_rechecks_total",
			Help: "Recheck passes over non-terminal entries",
		}),

		ExpectedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "oraclemon_expected_total",
			Help: "Authoritative query total from node statistics",
		}),
		GapDeficit: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "oraclemon_gap_deficit",
			Help: "Expected total minus registry size after reconciliation",
		}),
		GapRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_gap_recovered_total",
			Help: "Entries recovered by gap reconciliation",
		}),
		PendingProbeHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_pending_probe_hits_total",
			Help: "Entries recovered via the pending-id probe",
		}),
		ClusterRescans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_cluster_rescans_total",
			Help: "Tick ranges re-scanned during gap fill",
		}),

		SnapshotWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_snapshot_writes_total",
			Help: "Snapshot artifacts written",
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "oraclemon_snapshot_duration_seconds",
			Help:    "Snapshot serialization and write time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		SnapshotErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_snapshot_errors_total",
			Help: "Failed snapshot writes",
		}),

		ForwardWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_price_forward_writes_total",
			Help: "Price rows forwarded to the time-series store",
		}),
		ForwardDebounced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_price_forward_debounced_total",
			Help: "Forwards skipped by the per-pair debounce",
		}),
		ForwardErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_price_forward_errors_total",
			Help: "Failed time-series inserts",
		}),

		IdentityLookupErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_identity_lookup_errors_total",
			Help: "Failed sender identity lookups",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "oraclemon_publish_errors_total",
			Help: "Failed NATS event publishes",
		}),
	}
}
