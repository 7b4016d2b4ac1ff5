package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/gridrestore/pkg/snapshot"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls map[string][]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(map[string][]int)}
}

func (f *fakeFetcher) FetchPartitions(ctx context.Context, peerNodeID, group string, partIDs []int, destDir string) error {
	f.calls[peerNodeID] = partIDs
	for _, p := range partIDs {
		if err := os.WriteFile(filepath.Join(destDir, fmt.Sprintf("part-%d", p)), []byte("remote"), 0644); err != nil {
			return err
		}
	}
	return nil
}

func TestStagerRunLocalOnly(t *testing.T) {
	root := t.TempDir()
	layout, err := snapshot.NewLayout(root)
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "part-0"), []byte("p0"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "part-1"), []byte("p1"), 0644))

	src := meta("a", 0, 1)
	plan := &Plan{
		Group:            "G",
		Required:         []int{0, 1},
		LocalSource:      src,
		RemoteAssignment: map[string][]int{},
	}

	stager := NewStager(layout, func(m *types.SnapshotMetadata) string { return srcDir })
	futures, err := stager.Run(context.Background(), plan, newFakeFetcher())
	require.NoError(t, err)
	require.Len(t, futures, 2)

	for _, f := range futures {
		assert.NoError(t, f.Wait(context.Background()))
	}

	for _, p := range []int{0, 1} {
		content, err := os.ReadFile(layout.PartitionFile(layout.TempGroupDir("G"), p))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("p%d", p), string(content))
	}
}

func TestStagerRunWithRemoteFetch(t *testing.T) {
	root := t.TempDir()
	layout, err := snapshot.NewLayout(root)
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "part-0"), []byte("p0"), 0644))

	plan := &Plan{
		Group:            "G",
		Required:         []int{0, 2},
		CoveredLocally:   []int{0},
		LocalSource:      nil,
		LocalMetadata:    []*types.SnapshotMetadata{meta("a", 0)},
		RemoteAssignment: map[string][]int{"b": {2}},
	}

	stager := NewStager(layout, func(m *types.SnapshotMetadata) string { return srcDir })
	fetcher := newFakeFetcher()
	futures, err := stager.Run(context.Background(), plan, fetcher)
	require.NoError(t, err)
	require.Len(t, futures, 2)

	for _, f := range futures {
		assert.NoError(t, f.Wait(context.Background()))
	}

	assert.Equal(t, []int{2}, fetcher.calls["b"])
	content, err := os.ReadFile(layout.PartitionFile(layout.TempGroupDir("G"), 2))
	require.NoError(t, err)
	assert.Equal(t, "remote", string(content))
}

func TestStagerRunPunchesCompressedGroup(t *testing.T) {
	root := t.TempDir()
	layout, err := snapshot.NewLayout(root)
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "part-0"), make([]byte, 100), 0644))

	src := meta("a", 0)
	plan := &Plan{
		Group:            "G",
		Required:         []int{0},
		LocalSource:      src,
		RemoteAssignment: map[string][]int{},
		Compressed:       true,
	}

	file := &fakePageFile{pageSize: 100, compressedSizes: []int{40}}
	stager := NewStager(layout, func(m *types.SnapshotMetadata) string { return srcDir })
	stager.puncher = NewHolePuncher(&fakePageStore{file: file})

	futures, err := stager.Run(context.Background(), plan, newFakeFetcher())
	require.NoError(t, err)
	require.Len(t, futures, 1)
	require.NoError(t, futures[0].Wait(context.Background()))

	require.Len(t, file.punched, 1)
}

func TestStagerRunCoveredLocallyWithoutMatchingMetadataFails(t *testing.T) {
	root := t.TempDir()
	layout, err := snapshot.NewLayout(root)
	require.NoError(t, err)

	plan := &Plan{
		Group:            "G",
		Required:         []int{0},
		CoveredLocally:   []int{0},
		LocalSource:      nil,
		LocalMetadata:    []*types.SnapshotMetadata{meta("a", 1)},
		RemoteAssignment: map[string][]int{},
	}

	stager := NewStager(layout, func(m *types.SnapshotMetadata) string { return t.TempDir() })
	futures, err := stager.Run(context.Background(), plan, newFakeFetcher())
	require.NoError(t, err)
	require.Len(t, futures, 1)
	assert.Error(t, futures[0].Wait(context.Background()))
}
