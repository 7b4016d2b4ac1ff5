package affinity

import (
	"testing"

	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeList(ids ...string) []*types.NodeInfo {
	nodes := make([]*types.NodeInfo, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, &types.NodeInfo{ID: id, Status: types.NodeStatusReady})
	}
	return nodes
}

func TestComputeAssignsEveryPartition(t *testing.T) {
	nodes := nodeList("a", "b", "c")
	calc := NewCalculator()

	assignment := calc.Compute(nodes, map[string]GroupPartitions{
		"G": {PartitionCount: 6, Replicas: 2},
	})

	require.Contains(t, assignment, "G")
	parts := assignment["G"]
	assert.Len(t, parts, 6)
	for p := 0; p < 6; p++ {
		owners := parts[p]
		require.Len(t, owners, 2)
		assert.NotEqual(t, owners[0], owners[1])
	}
}

func TestComputeSkipsDownNodes(t *testing.T) {
	nodes := []*types.NodeInfo{
		{ID: "a", Status: types.NodeStatusReady},
		{ID: "b", Status: types.NodeStatusDown},
	}
	calc := NewCalculator()

	assignment := calc.Compute(nodes, map[string]GroupPartitions{
		"G": {PartitionCount: 2, Replicas: 2},
	})

	for _, owners := range assignment["G"] {
		for _, owner := range owners {
			assert.Equal(t, "a", owner)
		}
	}
}

func TestComputeNoReadyNodes(t *testing.T) {
	nodes := nodeList()
	calc := NewCalculator()

	assignment := calc.Compute(nodes, map[string]GroupPartitions{
		"G": {PartitionCount: 2, Replicas: 1},
	})

	assert.Empty(t, assignment)
}

func TestAssignedToFiltersByNode(t *testing.T) {
	nodes := nodeList("a", "b")
	calc := NewCalculator()

	assignment := calc.Compute(nodes, map[string]GroupPartitions{
		"G": {PartitionCount: 4, Replicas: 1},
	})

	owned := AssignedTo(assignment, "a")
	require.Contains(t, owned, "G")

	total := len(AssignedTo(assignment, "a")["G"]) + len(AssignedTo(assignment, "b")["G"])
	assert.Equal(t, 4, total)
}

func TestPartitionFallbackDeterministic(t *testing.T) {
	key := []byte("some-cache-key")
	first := Partition(key, 16)
	second := Partition(key, 16)
	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 16)
}

func TestPartitionZeroCount(t *testing.T) {
	assert.Equal(t, 0, Partition([]byte("x"), 0))
}
