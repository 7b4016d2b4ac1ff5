/*
Package metrics provides Prometheus metrics collection and exposition for
the restore engine.

Metrics are defined and registered at package init using the Prometheus
client library, giving observability into cluster membership, raft
health, restore progress, partition staging throughput, and WAL replay
rate. They're exposed over HTTP for scraping.

# Metric Categories

Cluster: gridrestore_nodes_total{role,status}

Raft: gridrestore_raft_is_leader, gridrestore_raft_peers_total,
gridrestore_raft_log_index, gridrestore_raft_applied_index,
gridrestore_raft_apply_duration_seconds

Transport: gridrestore_rpc_requests_total{kind,status},
gridrestore_rpc_request_duration_seconds{kind}

Restore lifecycle: gridrestore_restore_attempts_total{outcome},
gridrestore_restore_phase_duration_seconds{phase},
gridrestore_restore_rollbacks_total

Partition staging: gridrestore_partitions_processed{group},
gridrestore_partitions_total{group},
gridrestore_partition_stage_duration_seconds{source},
gridrestore_partitions_failed_total

WAL replay: gridrestore_wal_segments_processed_total,
gridrestore_wal_entries_applied_total{group},
gridrestore_wal_apply_duration_seconds,
gridrestore_wal_stripe_lag{stripe}

Reconciler: gridrestore_reconciliation_duration_seconds,
gridrestore_reconciliation_cycles_total,
gridrestore_required_node_left_total

# Usage

	metrics.NodesTotal.WithLabelValues("worker", "ready").Set(5)

	timer := metrics.NewTimer()
	// ... stage a partition ...
	timer.ObserveDurationVec(metrics.PartitionStageDuration, "remote")

	http.Handle("/metrics", metrics.Handler())

# Health and Readiness

The health.go handlers (HealthHandler, ReadyHandler, LivenessHandler)
track component health independently of Prometheus: raft, the local
store, and the transport listener are the critical components gating
readiness. RegisterComponent/UpdateComponent flip a component's status;
GetHealth/GetReadiness aggregate it into the HTTP response.

# Design Patterns

All metrics are package-level vars registered once via MustRegister in
init(), so callers never need to touch a registry. The Timer helper
wraps time.Since and feeds either a plain Histogram or a label-bearing
HistogramVec via ObserveDuration/ObserveDurationVec.
*/
package metrics
