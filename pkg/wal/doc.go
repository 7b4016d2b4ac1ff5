/*
Package wal implements the Incremental WAL Applier (C6): replaying a chain
of WAL increments on top of an already-staged base snapshot.

Applier runs a fixed-size striped executor, one goroutine per stripe, each
with its own buffered inbox. Entries are routed to a stripe by hashing
(groupId, partitionId) with github.com/cespare/xxhash/v2, so entries for
the same partition always serialize on one stripe while different
partitions apply in parallel — the same ticker-loop/mutex-guarded-map
shape the orchestrator used for its worker goroutines, generalized into a
fixed worker pool keyed by a stable hash instead of a polling loop.

ApplyChain runs the full sequence from spec §4.4: disable WAL for the
target groups, stream every segment's DataEntry records filtered to the
target cache-id set through the stripes, wait for all of them to apply,
finalize each touched (group, partition) pair's update counters, then
re-enable WAL and force a checkpoint.

An entry that arrives without an explicit partition id is resolved via
affinity.Partition(key, partitionCount) with a logged warning — this
never fails the apply, matching the numeric semantics spec'd for the
applier.

# Usage

	applier := wal.NewApplier(8, applyEntry, finalizeCounters, partitionCounts)
	err := applier.ApplyChain(ctx, groups, cacheIDs, walControl, segments)
*/
package wal
