/*
Package affinity computes the ideal affinity assignment: which baseline
nodes should hold each partition of each cache group under the cluster's
current topology.

The restore engine never moves data to match this assignment directly —
it only reads Compute's output to decide, during partition staging,
which partitions the local node must end up owning and which peer to
fetch each missing one from (pkg/stage).

# Usage

	calc := affinity.NewCalculator()
	assignment := calc.Compute(nodes, map[string]affinity.GroupPartitions{
		"G": {PartitionCount: 4, Replicas: 2},
	})
	owned := affinity.AssignedTo(assignment, "node-1")

Partition placement walks the sorted-by-id ring of ready nodes starting
at an offset derived from the partition id, so partitions spread evenly
and the same topology always produces the same assignment on every node
that computes it independently. Down nodes drop out of the ring until
they rejoin.

Partition also exposes the fallback partition(key) hash used when a WAL
entry arrives without an explicit partition id.
*/
package affinity
