package stage

import (
	"math/rand"
	"testing"

	"github.com/cuemby/gridrestore/pkg/affinity"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(nodeID string, parts ...int) *types.SnapshotMetadata {
	set := make(map[int]struct{}, len(parts))
	for _, p := range parts {
		set[p] = struct{}{}
	}
	return &types.SnapshotMetadata{
		NodeID:     nodeID,
		Partitions: map[string]map[int]struct{}{"G": set},
	}
}

func TestBuildPlanSingleNodeLocalSource(t *testing.T) {
	nodes := []*types.NodeInfo{{ID: "a", Status: types.NodeStatusReady}}
	assignment := affinity.NewCalculator().Compute(nodes, map[string]affinity.GroupPartitions{
		"G": {PartitionCount: 3, Replicas: 1},
	})
	all := []*types.SnapshotMetadata{meta("a", 0, 1, 2)}

	plan := BuildPlan("a", "G", assignment, all, rand.New(rand.NewSource(1)))

	assert.Equal(t, []int{0, 1, 2}, plan.Required)
	require.NotNil(t, plan.LocalSource)
	assert.Equal(t, "a", plan.LocalSource.NodeID)
	assert.Empty(t, plan.RemoteAssignment)
}

func TestBuildPlanTwoNodeRemoteStaging(t *testing.T) {
	nodes := []*types.NodeInfo{
		{ID: "a", Status: types.NodeStatusReady},
		{ID: "b", Status: types.NodeStatusReady},
	}
	// Hard-code partitions {0,2} -> a and {1,3} -> b so the plan does not
	// depend on the affinity ring.
	assignment := affinity.Assignment{
		"G": {0: {"a"}, 1: {"b"}, 2: {"a"}, 3: {"b"}},
	}
	all := []*types.SnapshotMetadata{
		meta("a", 0, 1),
		meta("b", 2, 3),
	}

	planA := BuildPlan("a", "G", assignment, all, rand.New(rand.NewSource(1)))
	assert.Equal(t, []int{0, 2}, planA.Required)
	assert.Equal(t, []int{0}, planA.CoveredLocally)
	assert.Equal(t, map[string][]int{"b": {2}}, planA.RemoteAssignment)

	planB := BuildPlan("b", "G", assignment, all, rand.New(rand.NewSource(1)))
	assert.Equal(t, []int{1, 3}, planB.Required)
	assert.Equal(t, []int{3}, planB.CoveredLocally)
	assert.Equal(t, map[string][]int{"a": {1}}, planB.RemoteAssignment)
}

func TestBuildPlanNoPartitionsRequired(t *testing.T) {
	assignment := affinity.Assignment{"G": {0: {"other"}}}
	all := []*types.SnapshotMetadata{meta("a", 0)}

	plan := BuildPlan("a", "G", assignment, all, rand.New(rand.NewSource(1)))
	assert.Empty(t, plan.Required)
	assert.Empty(t, plan.RemoteAssignment)
}
