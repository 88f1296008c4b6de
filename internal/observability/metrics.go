package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for OptionLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	FeedOutOfOrder        prometheus.Counter

	// --- Liquidity Pool ---
	PoolNAV                 prometheus.Gauge
	PoolTokenPrice          prometheus.Gauge
	PoolFreeLiquidity       prometheus.Gauge
	PoolUsedCollateral      prometheus.Gauge
	PoolQueueDepth          *prometheus.GaugeVec
	PoolCBUntil             prometheus.Gauge
	PoolCBTriggered         *prometheus.CounterVec
	PoolOpsRejected         *prometheus.CounterVec
	PoolInvariantViolations *prometheus.CounterVec
	PoolTicketsProcessed    *prometheus.CounterVec

	// --- Settlement ---
	PositionsSettled     *prometheus.CounterVec
	InsolvencyReclaimed  *prometheus.CounterVec
	InsolvencyNetted     *prometheus.CounterVec
	SettlementShortfalls *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_core_events_rejected_total",
			Help: "Events rejected (dedup, ordering, validation, domain error)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "option_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "option_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "option_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "option_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "option_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "option_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "option_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "option_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "option_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "option_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "option_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		FeedOutOfOrder: f.NewCounter(prometheus.CounterOpts{
			Name: "option_feed_out_of_order_total",
			Help: "Market feed updates rejected for a non-increasing feed sequence",
		}),

		// Liquidity Pool
		PoolNAV: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_pool_nav",
			Help: "Pool net asset value in quote",
		}),

		PoolTokenPrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_pool_token_price",
			Help: "Quote value of one LP share",
		}),

		PoolFreeLiquidity: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_pool_free_liquidity",
			Help: "Quote available for new collateral",
		}),

		PoolUsedCollateral: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_pool_used_collateral",
			Help: "Quote value of locked collateral",
		}),

		PoolQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "option_pool_queue_depth",
			Help: "Unprocessed tickets per queue",
		}, []string{"queue"}),

		PoolCBUntil: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_pool_circuit_breaker_until_seconds",
			Help: "Unix time until which queue processing is paused",
		}),

		PoolCBTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_pool_circuit_breaker_triggered_total",
			Help: "Circuit breaker triggers by reason",
		}, []string{"reason"}),

		PoolOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_pool_ops_rejected_total",
			Help: "Pool and vault operations rolled back",
		}, []string{"op"}),

		PoolInvariantViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_pool_invariant_violations_total",
			Help: "Accounting invariant violations detected",
		}, []string{"kind"}),

		PoolTicketsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_pool_tickets_processed_total",
			Help: "Queue tickets processed (full or partial)",
		}, []string{"queue", "outcome"}),

		// Settlement
		PositionsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_positions_settled_total",
			Help: "Positions settled by option type",
		}, []string{"option_type"}),

		InsolvencyReclaimed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_insolvency_reclaimed_total",
			Help: "Insolvency reclaimed from the pool (asset units)",
		}, []string{"asset"}),

		InsolvencyNetted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_insolvency_netted_total",
			Help: "Insolvency covered by prior excess (asset units)",
		}, []string{"asset"}),

		SettlementShortfalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_settlement_shortfalls_total",
			Help: "Vault sends clamped to its balance",
		}, []string{"asset"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "option_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "option_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "option_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "option_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "option_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "option_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "option_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "option_replay_events_total",
			Help: "Events replayed on startup",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "option_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "option_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
