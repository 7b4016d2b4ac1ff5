package stage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/gridrestore/pkg/log"
	"github.com/cuemby/gridrestore/pkg/metrics"
	"github.com/cuemby/gridrestore/pkg/snapshot"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RemoteFetcher requests partitions from one peer and writes them into
// destDir. It is satisfied by pkg/transport's client; pkg/stage never
// imports pkg/transport directly, the same dependency-inversion pattern
// pkg/cluster.Join uses for its requestJoin callback.
type RemoteFetcher interface {
	FetchPartitions(ctx context.Context, peerNodeID, group string, partIDs []int, destDir string) error
}

// Stager drives the partition staging pipeline (C3) for one node.
type Stager struct {
	layout    *snapshot.Layout
	sourceDir func(meta *types.SnapshotMetadata) string
	puncher   *HolePuncher
	logger    zerolog.Logger
}

// NewStager creates a Stager. sourceDir resolves where a given metadata's
// snapshot files live on disk (typically a function of its FolderName
// under the snapshot's source root). Hole punching for compressed groups
// runs against the default 4096-byte page size via OSPageStore; callers
// needing a different page size should set Stager.puncher directly.
func NewStager(layout *snapshot.Layout, sourceDir func(meta *types.SnapshotMetadata) string) *Stager {
	return &Stager{
		layout:    layout,
		sourceDir: sourceDir,
		puncher:   NewHolePuncher(&OSPageStore{}),
		logger:    log.WithComponent("stage"),
	}
}

// Run executes a plan: copies whatever the local node can supply, fetches
// the rest from peers through fetcher, and returns one future per required
// partition. All copying/fetching happens concurrently, bounded by an
// errgroup; the caller awaits the returned futures before switching the
// directory into place.
func (s *Stager) Run(ctx context.Context, plan *Plan, fetcher RemoteFetcher) ([]*PartitionRestoreFuture, error) {
	if err := s.layout.EnsureTempDir(plan.Group); err != nil {
		return nil, err
	}
	destDir := s.layout.TempGroupDir(plan.Group)

	futures := make(map[int]*PartitionRestoreFuture, len(plan.Required))
	for _, p := range plan.Required {
		futures[p] = NewPartitionRestoreFuture(plan.Group, p)
	}

	g, gctx := errgroup.WithContext(ctx)

	if plan.LocalSource != nil {
		src := s.sourceDir(plan.LocalSource)
		for _, p := range plan.LocalSource.PartitionSet(plan.Group) {
			future, ok := futures[p]
			if !ok {
				continue
			}
			p, future := p, future
			g.Go(func() error {
				err := s.copyPartition(gctx, src, destDir, p, plan.Group)
				future.Complete(err)
				return err
			})
		}
		if plan.NeedsIndex {
			g.Go(func() error {
				return s.copyIndex(gctx, src, destDir)
			})
		}
	} else {
		for _, p := range plan.CoveredLocally {
			future, ok := futures[p]
			if !ok {
				continue
			}
			src, err := s.localMetadataSourceFor(plan, p)
			if err != nil {
				future.Complete(err)
				continue
			}
			p, future := p, future
			g.Go(func() error {
				err := s.copyPartition(gctx, src, destDir, p, plan.Group)
				future.Complete(err)
				return err
			})
		}
	}

	for peerNodeID, partIDs := range plan.RemoteAssignment {
		peerNodeID, partIDs := peerNodeID, partIDs
		g.Go(func() error {
			timer := metrics.NewTimer()
			err := fetcher.FetchPartitions(gctx, peerNodeID, plan.Group, partIDs, destDir)
			timer.ObserveDurationVec(metrics.PartitionStageDuration, "remote")
			for _, p := range partIDs {
				if future, ok := futures[p]; ok {
					future.Complete(err)
				}
			}
			return err
		})
	}

	err := g.Wait()

	if err == nil && plan.Compressed {
		err = s.punchGroup(plan, destDir)
	}

	out := make([]*PartitionRestoreFuture, 0, len(futures))
	for _, p := range plan.Required {
		out = append(out, futures[p])
	}
	metrics.PartitionsTotal.WithLabelValues(plan.Group).Set(float64(len(plan.Required)))

	return out, err
}

// punchGroup runs the hole-punch pass (C3's compressed-group contract) over
// every partition file just staged into destDir, plus the index if present.
func (s *Stager) punchGroup(plan *Plan, destDir string) error {
	for _, p := range plan.Required {
		if err := s.puncher.Punch(s.layout.PartitionFile(destDir, p)); err != nil {
			return fmt.Errorf("hole punch failed for group %s: %w", plan.Group, err)
		}
	}
	if plan.NeedsIndex {
		if err := s.puncher.Punch(s.layout.IndexFile(destDir)); err != nil {
			return fmt.Errorf("hole punch failed for group %s index: %w", plan.Group, err)
		}
	}
	return nil
}

// localMetadataSourceFor resolves which source directory covers partition p
// when no single LocalSource matched the whole required set (the "copy
// whatever the local metadata can provide" branch of the algorithm): it
// scans plan.LocalMetadata, the local node's own reported metadata entries,
// for the one that actually carries p.
func (s *Stager) localMetadataSourceFor(plan *Plan, p int) (string, error) {
	for _, meta := range plan.LocalMetadata {
		if meta.HasPartition(plan.Group, p) {
			return s.sourceDir(meta), nil
		}
	}
	return "", fmt.Errorf("no local metadata covers partition %d of group %s", p, plan.Group)
}

func (s *Stager) copyPartition(ctx context.Context, srcDir, destDir string, partID int, group string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PartitionStageDuration, "local")

	srcPath := s.layout.PartitionFile(srcDir, partID)
	destPath := s.layout.PartitionFile(destDir, partID)

	if err := copyFile(srcPath, destPath); err != nil {
		metrics.PartitionsFailed.Inc()
		return fmt.Errorf("failed to copy partition %d of group %s: %w", partID, group, err)
	}
	metrics.PartitionsProcessed.WithLabelValues(group).Inc()
	return nil
}

func (s *Stager) copyIndex(ctx context.Context, srcDir, destDir string) error {
	return copyFile(s.layout.IndexFile(srcDir), s.layout.IndexFile(destDir))
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
