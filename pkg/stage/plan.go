package stage

import (
	"math/rand"
	"sort"

	"github.com/cuemby/gridrestore/pkg/affinity"
	"github.com/cuemby/gridrestore/pkg/snapshot"
	"github.com/cuemby/gridrestore/pkg/types"
)

// Plan is the result of the staging algorithm's planning steps (spec steps
// 1-5) for a single cache group on the local node: which partitions this
// node must end up owning, which local metadata (if any) can supply all of
// them in one pass, and which peer each still-missing partition should be
// fetched from.
type Plan struct {
	Group string

	// Required is assigned ∩ available, excluding the index partition.
	Required []int

	// LocalSource is the single local metadata whose partition set for
	// Group equals Required exactly, or nil if no single source covers it.
	LocalSource *types.SnapshotMetadata

	// CoveredLocally are the partitions in Required the local node's own
	// metadata can already supply, whether or not LocalSource matched.
	CoveredLocally []int

	// RemoteAssignment maps peer node id -> the partition ids to fetch
	// from that peer.
	RemoteAssignment map[string][]int

	// NeedsIndex is true when LocalSource also carries the index
	// partition, which must be copied alongside the data partitions.
	NeedsIndex bool

	// LocalMetadata is every metadata entry this node itself reported for
	// Group, used to resolve each CoveredLocally partition's source
	// directory when no single LocalSource covers the whole required set.
	LocalMetadata []*types.SnapshotMetadata

	// Compressed marks Group as using page compression, per any reporting
	// node's metadata; Stager.Run punches holes over the staged partitions'
	// unused tails once copying/fetching completes.
	Compressed bool
}

// BuildPlan computes the staging plan for one group on nodeID, given the
// ideal affinity assignment and every node's reported snapshot metadata.
// rng drives the peer shuffle in step 5; callers pass a seeded
// *rand.Rand so planning is reproducible in tests.
func BuildPlan(nodeID, group string, assignment affinity.Assignment, all []*types.SnapshotMetadata, rng *rand.Rand) *Plan {
	owned := affinity.AssignedTo(assignment, nodeID)[group]
	available := snapshot.AvailablePartitions(all, group)

	required := make(map[int]struct{})
	for _, p := range owned {
		if _, ok := available[p]; ok {
			required[p] = struct{}{}
		}
	}

	plan := &Plan{Group: group, RemoteAssignment: make(map[string][]int)}
	for p := range required {
		plan.Required = append(plan.Required, p)
	}
	sort.Ints(plan.Required)

	var ownMetadata []*types.SnapshotMetadata
	for _, meta := range all {
		if meta.NodeID == nodeID {
			ownMetadata = append(ownMetadata, meta)
		}
	}

	local := snapshot.FindMetadataWithSamePartitions(ownMetadata, group, required)
	plan.LocalSource = local
	plan.LocalMetadata = ownMetadata
	if local != nil {
		plan.NeedsIndex = hasIndexMarker(local, group)
	}

	covered := make(map[int]struct{})
	if local != nil {
		for _, p := range local.PartitionSet(group) {
			if _, ok := required[p]; ok {
				covered[p] = struct{}{}
			}
		}
	} else {
		for _, meta := range ownMetadata {
			for _, p := range meta.PartitionSet(group) {
				if _, ok := required[p]; ok {
					covered[p] = struct{}{}
				}
			}
		}
	}
	for p := range covered {
		plan.CoveredLocally = append(plan.CoveredLocally, p)
	}
	sort.Ints(plan.CoveredLocally)

	var needed []int
	for p := range required {
		if _, ok := covered[p]; !ok {
			needed = append(needed, p)
		}
	}
	sort.Ints(needed)

	peers := make([]*types.SnapshotMetadata, 0, len(all))
	for _, meta := range all {
		if meta.NodeID != nodeID {
			peers = append(peers, meta)
		}
	}
	rng.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	for _, p := range needed {
		for _, peer := range peers {
			if peer.HasPartition(group, p) {
				plan.RemoteAssignment[peer.NodeID] = append(plan.RemoteAssignment[peer.NodeID], p)
				break
			}
		}
	}

	for _, meta := range all {
		if meta.Compressed[group] {
			plan.Compressed = true
			break
		}
	}

	return plan
}

// hasIndexMarker reports whether metadata's compressed/partition bookkeeping
// marks this group as carrying an index partition. The engine has no
// separate "has index" field on SnapshotMetadata, so a metadata is treated
// as carrying the index whenever it supplies the group's whole partition
// set (the same condition that made it eligible as a LocalSource).
func hasIndexMarker(meta *types.SnapshotMetadata, group string) bool {
	_, ok := meta.Partitions[group]
	return ok
}
