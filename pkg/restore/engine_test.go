package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/gridrestore/pkg/affinity"
	"github.com/cuemby/gridrestore/pkg/events"
	"github.com/cuemby/gridrestore/pkg/snapshot"
	"github.com/cuemby/gridrestore/pkg/stage"
	"github.com/cuemby/gridrestore/pkg/storage"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/cuemby/gridrestore/pkg/wal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func discardLogger() zerolog.Logger { return zerolog.Nop() }

type fakeCluster struct {
	nodeID string
	nodes  []*types.NodeInfo

	attempts []*storage.AttemptRecord
	pub      []*events.Event
}

func (f *fakeCluster) NodeID() string                       { return f.nodeID }
func (f *fakeCluster) IsLeader() bool                        { return true }
func (f *fakeCluster) ListNodes() ([]*types.NodeInfo, error) { return f.nodes, nil }
func (f *fakeCluster) GetNode(id string) (*types.NodeInfo, error) {
	for _, n := range f.nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, nil
}
func (f *fakeCluster) GetRaftStats() map[string]interface{} {
	return map[string]interface{}{"state": "Leader", "leader": f.nodeID}
}
func (f *fakeCluster) PutAttempt(record *storage.AttemptRecord) error {
	f.attempts = append(f.attempts, record)
	return nil
}
func (f *fakeCluster) PublishEvent(event *events.Event) {
	f.pub = append(f.pub, event)
}

type noopWALControl struct{}

func (noopWALControl) Disable([]string) error           { return nil }
func (noopWALControl) Enable([]string) error            { return nil }
func (noopWALControl) Checkpoint(context.Context) error { return nil }

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// newSingleNodeEngine wires a real Engine for scenario 1: one baseline
// node, one cache group G with partitions {0,1,2} plus an index file, all
// owned locally.
func newSingleNodeEngine(t *testing.T) (*Engine, *fakeCluster) {
	t.Helper()
	root := t.TempDir()

	layout, err := snapshot.NewLayout(filepath.Join(root, "snapshots"))
	require.NoError(t, err)

	registry, err := snapshot.OpenMetadataRegistry(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	meta := &types.SnapshotMetadata{
		NodeID:       "node-a",
		ConsistentID: "node-a",
		FolderName:   "src",
		PageSize:     4096,
		Baseline:     []string{"node-a"},
		Partitions:   map[string]map[int]struct{}{"G": {0: {}, 1: {}, 2: {}}},
	}
	require.NoError(t, registry.Put(meta))

	srcDir := filepath.Join(root, "source")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	writeFile(t, filepath.Join(srcDir, "part-0"), "partition-0")
	writeFile(t, filepath.Join(srcDir, "part-1"), "partition-1")
	writeFile(t, filepath.Join(srcDir, "part-2"), "partition-2")
	writeFile(t, filepath.Join(srcDir, "part-index"), "index")

	stager := stage.NewStager(layout, func(*types.SnapshotMetadata) string { return srcDir })

	fc := &fakeCluster{
		nodeID: "node-a",
		nodes: []*types.NodeInfo{
			{ID: "node-a", Role: types.NodeRoleServer, Status: types.NodeStatusReady, JoinedAt: time.Unix(0, 0)},
		},
	}

	engine := NewEngine(EngineConfig{
		NodeID:      "node-a",
		Cluster:     fc,
		Layout:      layout,
		Registry:    registry,
		Stager:      stager,
		Affinity:    affinity.NewCalculator(),
		CacheCtrl:   NewStubCacheGroupController(discardLogger()),
		ConfigStore: NewStubCacheConfigStore(),
		WALStripe:   2,
		ApplyFn:     func(*types.WALEntry) error { return nil },
		Finalize:    func(string, int) error { return nil },
		WALCtrl:     noopWALControl{},
		SegmentsFor: func(string, int) ([]wal.SegmentIterator, error) { return nil, nil },
	})

	return engine, fc
}

func TestEngineStartSingleNodeLocalRestore(t *testing.T) {
	engine, fc := newSingleNodeEngine(t)

	err := engine.Start(context.Background(), "nightly-2026-07-30", []string{"G"}, 0)
	require.NoError(t, err)

	rc := engine.CurrentContext()
	require.NotNil(t, rc)
	require.Equal(t, int64(4), rc.TotalPartitions())
	require.Equal(t, int64(4), rc.ProcessedPartitions())

	require.Empty(t, engine.RestoringSnapshotName())
	require.Len(t, fc.attempts, 1)
	require.Empty(t, fc.attempts[0].Error)
}

func TestEngineStartMissingGroupRejected(t *testing.T) {
	engine, _ := newSingleNodeEngine(t)

	err := engine.Start(context.Background(), "nightly-2026-07-30", []string{"G", "H"}, 0)
	require.Error(t, err)

	var restoreErr *Error
	require.ErrorAs(t, err, &restoreErr)
	require.Equal(t, KindInvalidMetadata, restoreErr.Kind)
}

func TestEngineCancelIdempotentAfterFinish(t *testing.T) {
	engine, _ := newSingleNodeEngine(t)

	require.NoError(t, engine.Start(context.Background(), "nightly-2026-07-30", []string{"G"}, 0))

	cancelled := engine.Cancel(context.Background(), "nightly-2026-07-30")
	require.False(t, cancelled)
}

func TestEngineStartRejectsConcurrentAttempt(t *testing.T) {
	engine, _ := newSingleNodeEngine(t)
	engine.current = NewContext("in-flight", "other-snapshot", "node-a", nil, nil, 0)

	err := engine.Start(context.Background(), "nightly-2026-07-30", []string{"G"}, 0)
	require.Error(t, err)

	var restoreErr *Error
	require.ErrorAs(t, err, &restoreErr)
	require.Equal(t, KindRejected, restoreErr.Kind)
}

func TestEngineStartRejectsNonCoordinator(t *testing.T) {
	engine, fc := newSingleNodeEngine(t)
	fc.nodes = append(fc.nodes, &types.NodeInfo{
		ID: "node-z", Role: types.NodeRoleServer, Status: types.NodeStatusReady, JoinedAt: time.Unix(-1, 0),
	})

	err := engine.Start(context.Background(), "nightly-2026-07-30", []string{"G"}, 0)
	require.Error(t, err)

	var restoreErr *Error
	require.ErrorAs(t, err, &restoreErr)
	require.Equal(t, KindRejected, restoreErr.Kind)
	require.Nil(t, engine.CurrentContext())
}

func TestEngineOnNodeLeftArmsRequiredNodeLeft(t *testing.T) {
	engine, _ := newSingleNodeEngine(t)
	rc := NewContext("req-1", "nightly", "node-a", []string{"node-a", "node-b"}, nil, 0)
	engine.current = rc

	engine.OnNodeLeft("node-b")
	require.True(t, rc.Failed())
	require.ErrorIs(t, rc.Err(), ErrRequiredNodeLeft)
}

func TestEngineOnNodeLeftIgnoresNonRequiredNode(t *testing.T) {
	engine, _ := newSingleNodeEngine(t)
	rc := NewContext("req-1", "nightly", "node-a", []string{"node-a"}, nil, 0)
	engine.current = rc

	engine.OnNodeLeft("node-z")
	require.False(t, rc.Failed())
}
