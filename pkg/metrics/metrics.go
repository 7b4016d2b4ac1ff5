package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridrestore_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridrestore_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridrestore_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridrestore_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridrestore_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridrestore_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transport metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrestore_rpc_requests_total",
			Help: "Total number of transport RPC invocations by kind and status",
		},
		[]string{"kind", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridrestore_rpc_request_duration_seconds",
			Help:    "Transport RPC duration in seconds by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Restore lifecycle metrics
	RestoreAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrestore_restore_attempts_total",
			Help: "Total number of restore attempts by outcome",
		},
		[]string{"outcome"},
	)

	RestorePhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridrestore_restore_phase_duration_seconds",
			Help:    "Time spent in each restore phase in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"phase"},
	)

	RestoreRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrestore_restore_rollbacks_total",
			Help: "Total number of restore attempts that rolled back",
		},
	)

	// Partition staging metrics
	PartitionsProcessed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridrestore_partitions_processed",
			Help: "Number of partitions staged so far for the in-flight request",
		},
		[]string{"group"},
	)

	PartitionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridrestore_partitions_total",
			Help: "Total number of partitions to stage for the in-flight request",
		},
		[]string{"group"},
	)

	PartitionStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridrestore_partition_stage_duration_seconds",
			Help:    "Time taken to stage a single partition file in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"}, // local or remote
	)

	PartitionsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrestore_partitions_failed_total",
			Help: "Total number of partition staging failures",
		},
	)

	// WAL replay metrics
	WALSegmentsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrestore_wal_segments_processed_total",
			Help: "Total number of WAL segments replayed",
		},
	)

	WALEntriesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrestore_wal_entries_applied_total",
			Help: "Total number of WAL entries applied by group",
		},
		[]string{"group"},
	)

	WALApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridrestore_wal_apply_duration_seconds",
			Help:    "Time taken to replay one WAL segment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALStripeLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridrestore_wal_stripe_lag",
			Help: "Number of queued WAL entries per striped worker",
		},
		[]string{"stripe"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridrestore_reconciliation_duration_seconds",
			Help:    "Time taken for a membership reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrestore_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	RequiredNodeLeftTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrestore_required_node_left_total",
			Help: "Total number of times a required node left mid-restore",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)

	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)

	prometheus.MustRegister(RestoreAttemptsTotal)
	prometheus.MustRegister(RestorePhaseDuration)
	prometheus.MustRegister(RestoreRollbacksTotal)

	prometheus.MustRegister(PartitionsProcessed)
	prometheus.MustRegister(PartitionsTotal)
	prometheus.MustRegister(PartitionStageDuration)
	prometheus.MustRegister(PartitionsFailed)

	prometheus.MustRegister(WALSegmentsProcessed)
	prometheus.MustRegister(WALEntriesApplied)
	prometheus.MustRegister(WALApplyDuration)
	prometheus.MustRegister(WALStripeLag)

	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(RequiredNodeLeftTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
