/*
Package stage implements the Partition Staging Pipeline (C3): for each
target cache group, it plans which partitions the local node must end
up owning, copies what it can from local snapshot data, and fetches the
rest from peers, before the atomic directory switch (pkg/snapshot) puts
the group's temp directory into place.

BuildPlan implements the staging algorithm's planning steps: intersect
the ideal affinity assignment with the union of every node's reported
metadata, look for a single local metadata covering the whole required
set, and otherwise shuffle peers and greedily assign each still-missing
partition to the first peer that can supply it.

Stager.Run executes a plan concurrently with golang.org/x/sync/errgroup,
completing one PartitionRestoreFuture per required partition as its copy
or remote fetch finishes. RemoteFetcher is satisfied by pkg/transport's
client — pkg/stage never imports pkg/transport directly.

HolePuncher implements the compressed-group hole-punch contract using
golang.org/x/sys/unix's FALLOC_FL_PUNCH_HOLE, driven by a minimal
4-byte big-endian page header rather than a full page format.

# Usage

	plan := stage.BuildPlan(nodeID, "G", assignment, allMetadata, rand.New(rand.NewSource(seed)))
	stager := stage.NewStager(layout, sourceDirFor)
	futures, err := stager.Run(ctx, plan, fetcher)
*/
package stage
