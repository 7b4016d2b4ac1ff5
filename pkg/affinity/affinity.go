package affinity

import (
	"sort"

	"github.com/cuemby/gridrestore/pkg/types"
)

// GroupPartitions names, for one cache group, how many partitions it has and
// how many replicas (including the primary) each partition should carry.
type GroupPartitions struct {
	PartitionCount int
	Replicas       int
}

// Assignment is the ideal affinity assignment: group -> partition -> the
// ordered list of node ids that should hold a replica of that partition,
// primary first.
type Assignment map[string]map[int][]string

// Calculator computes the ideal affinity assignment for a cluster topology,
// generalizing the round-robin/least-loaded placement the orchestrator used
// for containers into a partition-to-node mapping.
type Calculator struct{}

// NewCalculator creates a new affinity calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Compute returns the ideal assignment of every partition in every group to
// its replica nodes, given the current baseline topology. Only ready nodes
// participate; a down node simply drops out of the ring until it rejoins.
func (c *Calculator) Compute(nodes []*types.NodeInfo, groups map[string]GroupPartitions) Assignment {
	ready := filterReadyNodes(nodes)
	assignment := make(Assignment, len(groups))

	if len(ready) == 0 {
		return assignment
	}

	for group, spec := range groups {
		assignment[group] = assignPartitions(ready, spec)
	}

	return assignment
}

// assignPartitions places each partition of one group onto replicas chosen by
// walking the sorted node ring starting at an offset derived from the
// partition id, spreading partitions evenly the way the round-robin
// container placement spread replicas across nodes.
func assignPartitions(ready []*types.NodeInfo, spec GroupPartitions) map[int][]string {
	result := make(map[int][]string, spec.PartitionCount)

	replicas := spec.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	if replicas > len(ready) {
		replicas = len(ready)
	}

	for part := 0; part < spec.PartitionCount; part++ {
		offset := part % len(ready)
		owners := make([]string, 0, replicas)
		for i := 0; i < replicas; i++ {
			node := ready[(offset+i)%len(ready)]
			owners = append(owners, node.ID)
		}
		result[part] = owners
	}

	return result
}

// AssignedTo returns the partitions of each group assigned to nodeID under
// the given assignment.
func AssignedTo(assignment Assignment, nodeID string) map[string][]int {
	out := make(map[string][]int)
	for group, parts := range assignment {
		var owned []int
		for part, owners := range parts {
			for _, owner := range owners {
				if owner == nodeID {
					owned = append(owned, part)
					break
				}
			}
		}
		if len(owned) > 0 {
			sort.Ints(owned)
			out[group] = owned
		}
	}
	return out
}

// Partition returns the deterministic partition id for a key, the fallback
// used when a WAL entry arrives without an explicit partition id.
func Partition(key []byte, partitionCount int) int {
	if partitionCount <= 0 {
		return 0
	}
	var h uint32
	for _, b := range key {
		h = h*31 + uint32(b)
	}
	return int(h % uint32(partitionCount))
}

// filterReadyNodes returns baseline nodes that can host partitions, sorted
// by id so the ring is deterministic across nodes computing it independently.
func filterReadyNodes(nodes []*types.NodeInfo) []*types.NodeInfo {
	var ready []*types.NodeInfo
	for _, node := range nodes {
		if node.Status == types.NodeStatusReady {
			ready = append(ready, node)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}
