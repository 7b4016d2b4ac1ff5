package restore

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cuemby/gridrestore/pkg/affinity"
	"github.com/cuemby/gridrestore/pkg/stage"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/cuemby/gridrestore/pkg/wal"
)

// localPeer wraps an Engine's own phase handlers behind the PhasePeer
// interface so the driver treats the local node exactly like a remote one.
type localPeer struct {
	engine *Engine
}

func (p *localPeer) NodeID() string { return p.engine.nodeID }

// Prepare installs this node's Context for the attempt (the originator
// already has one from Start; every other required node gets one here),
// validates local preconditions, reads local snapshot metadata and cache
// configs, and reports them back for the cluster-wide merge.
func (p *localPeer) Prepare(ctx context.Context, req *OperationRequest) (*PrepareResponse, error) {
	e := p.engine

	if err := e.installRemoteContext(req); err != nil {
		return nil, err
	}

	for _, group := range req.Groups {
		if e.layout.GroupExists(group) {
			return nil, NewError(KindPrecondition, fmt.Sprintf("target cache group %s already exists", group), nil)
		}
		if e.layout.TempGroupExists(group) {
			return nil, NewError(KindPrecondition, fmt.Sprintf("stale staging directory already exists for cache group %s", group), nil)
		}
	}

	metas, err := e.registry.List()
	if err != nil {
		return nil, NewError(KindIO, "failed to read local snapshot metadata", err)
	}

	cfgs, err := e.configStore.ConfigsForGroups(req.Groups)
	if err != nil {
		return nil, NewError(KindIO, "failed to read local cache configs", err)
	}

	return &PrepareResponse{NodeID: e.nodeID, Configs: cfgs, Metadata: metas}, nil
}

// Preload stages this node's owned partitions for every requested group
// and performs the atomic directory switch once staging completes.
func (p *localPeer) Preload(ctx context.Context, requestID string) error {
	e := p.engine
	rc := e.CurrentContext()
	if rc == nil || rc.RequestID != requestID {
		return NewError(KindPrecondition, "no matching restore context for Preload", nil)
	}

	all := rc.AllMetadata()
	groups := groupsFor(rc, all)

	nodes, err := e.cluster.ListNodes()
	if err != nil {
		return NewError(KindIO, "failed to list baseline nodes for affinity", err)
	}

	groupSpecs := make(map[string]affinity.GroupPartitions, len(groups))
	for _, group := range groups {
		available := availablePartitions(all, group)
		groupSpecs[group] = affinity.GroupPartitions{PartitionCount: len(available), Replicas: 1}
	}
	assignment := e.affinity.Compute(nodes, groupSpecs)

	rng := rand.New(rand.NewSource(requestIDSeed(requestID)))
	var totalRequired int64
	for _, group := range groups {
		if rc.Failed() {
			return rc.Err()
		}

		plan := stage.BuildPlan(e.nodeID, group, assignment, all, rng)
		totalRequired += int64(len(plan.Required))
		if plan.NeedsIndex {
			totalRequired++
		}
		rc.SetTotalPartitions(totalRequired)

		futures, err := e.stager.Run(ctx, plan, e.fetcher)
		if err != nil {
			return NewError(KindIO, "staging failed for group "+group, err)
		}
		for _, fut := range futures {
			if err := fut.Wait(ctx); err != nil {
				return NewError(KindIO, "partition staging failed", err)
			}
			rc.AddProcessedPartitions(1)
		}
		if plan.NeedsIndex {
			rc.AddProcessedPartitions(1)
		}

		if err := e.layout.Switch(group); err != nil {
			return NewError(KindIO, "atomic directory switch failed for group "+group, err)
		}
		rc.SetDirs(group, []string{e.layout.GroupDir(group)})
	}
	return nil
}

// CacheStart asks the cache-group controller to start every restored
// group against its final directories.
func (p *localPeer) CacheStart(ctx context.Context, requestID string) error {
	e := p.engine
	rc := e.CurrentContext()
	if rc == nil || rc.RequestID != requestID {
		return NewError(KindPrecondition, "no matching restore context for CacheStart", nil)
	}
	for _, group := range groupsFor(rc, rc.AllMetadata()) {
		dirs := rc.Dirs(group)
		if dirs == nil {
			continue
		}
		if err := e.cacheCtrl.Start(group, dirs); err != nil {
			return NewError(KindApply, "cache start failed for group "+group, err)
		}
	}
	return nil
}

// IncrementalApply replays the incremental WAL chain through the striped
// executor and advances the context's WAL counters.
func (p *localPeer) IncrementalApply(ctx context.Context, requestID string) error {
	e := p.engine
	rc := e.CurrentContext()
	if rc == nil || rc.RequestID != requestID {
		return NewError(KindPrecondition, "no matching restore context for IncrementalApply", nil)
	}
	if e.segmentsFor == nil {
		return NewError(KindApply, "no WAL segment source configured", nil)
	}

	segments, err := e.segmentsFor(rc.SnapshotName, rc.IncrementalIndex)
	if err != nil {
		return NewError(KindApply, "failed to open incremental WAL segments", err)
	}
	rc.SetTotalWALSegments(int64(len(segments)))

	groups := groupsFor(rc, rc.AllMetadata())
	cacheIDs := make(map[string]struct{})
	for _, cfg := range rc.Configs() {
		cacheIDs[cfg.CacheID] = struct{}{}
	}

	partitionFor := make(map[string]int, len(groups))
	for _, group := range groups {
		partitionFor[group] = len(availablePartitions(rc.AllMetadata(), group))
	}

	countingApply := func(entry *types.WALEntry) error {
		if err := e.applyFn(entry); err != nil {
			return err
		}
		rc.AddProcessedWALEntries(1)
		return nil
	}

	applier := wal.NewApplier(e.walStripe, countingApply, e.finalize, partitionFor)
	err = applier.ApplyChain(ctx, groups, cacheIDs, e.walCtrl, segments)
	rc.AddProcessedWALSegments(int64(len(segments)))
	if err != nil {
		return NewError(KindApply, "incremental WAL apply failed", err)
	}
	return nil
}

// CacheStop stops every restored cache group without deleting its files.
func (p *localPeer) CacheStop(ctx context.Context, requestID string) error {
	e := p.engine
	rc := e.CurrentContext()
	if rc == nil {
		return nil
	}
	for _, group := range groupsFor(rc, rc.AllMetadata()) {
		if err := e.cacheCtrl.Stop(group); err != nil {
			e.log.Warn().Err(err).Str("group", group).Msg("cache stop failed")
		}
		if err := e.layout.CacheStop(group); err != nil {
			e.log.Warn().Err(err).Str("group", group).Msg("temp directory cleanup failed during cache stop")
		}
	}
	return nil
}

// Rollback deletes both temp and final directories for every group
// touched by this attempt, then releases this node's Context — the
// terminal step of the failure path, mirroring Finish on the success path.
func (p *localPeer) Rollback(ctx context.Context, requestID string) error {
	e := p.engine
	rc := e.CurrentContext()
	if rc == nil {
		return nil
	}
	for _, group := range groupsFor(rc, rc.AllMetadata()) {
		if err := e.layout.Rollback(group); err != nil {
			e.log.Warn().Err(err).Str("group", group).Msg("rollback cleanup failed")
		}
	}
	e.clearContext(requestID)
	return nil
}

// Finish releases this node's Context once the coordinator confirms the
// attempt succeeded. On the originating node clearContext leaves the
// Context in place for Engine.finish to clear; this only matters on the
// other required nodes, which otherwise have no way to learn the attempt
// is over.
func (p *localPeer) Finish(ctx context.Context, requestID string) error {
	p.engine.clearContext(requestID)
	return nil
}

// groupsFor returns the attempt's requested groups, or every group named
// across all reported metadata when the attempt requested "all groups".
func groupsFor(rc *Context, all []*types.SnapshotMetadata) []string {
	if len(rc.Groups) > 0 {
		out := make([]string, 0, len(rc.Groups))
		for g := range rc.Groups {
			out = append(out, g)
		}
		return out
	}
	seen := make(map[string]struct{})
	for _, m := range all {
		for g := range m.Partitions {
			seen[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	return out
}

func availablePartitions(all []*types.SnapshotMetadata, group string) map[int]struct{} {
	out := make(map[int]struct{})
	for _, m := range all {
		for p := range m.Partitions[group] {
			out[p] = struct{}{}
		}
	}
	return out
}

// requestIDSeed derives a stable rand seed from a request id so peer-shuffle
// order is deterministic per attempt without needing a wall-clock source.
func requestIDSeed(requestID string) int64 {
	var seed int64
	for _, r := range requestID {
		seed = seed*31 + int64(r)
	}
	if seed == 0 {
		seed = 1
	}
	return seed
}
