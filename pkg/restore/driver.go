package restore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// phasePrepare fans Prepare out to every required node, merges the
// responses into the context, and validates metadata consistency before
// any group directory is touched.
func (e *Engine) phasePrepare(ctx context.Context, rc *Context) {
	req := &OperationRequest{
		RequestID:        rc.RequestID,
		OriginatorNodeID: rc.OriginatorNodeID,
		SnapshotName:     rc.SnapshotName,
		Groups:           setToSlice(rc.Groups),
		Baseline:         setToSlice(rc.RequiredNodes),
		IncrementalIndex: rc.IncrementalIndex,
	}

	type result struct {
		nodeID string
		resp   *PrepareResponse
	}
	results := make(chan result, len(rc.RequiredNodes))

	g, gctx := errgroup.WithContext(ctx)
	for nodeID := range rc.RequiredNodes {
		nodeID := nodeID
		peer := e.peerFor(nodeID)
		if peer == nil {
			rc.SetError(NewError(KindPrecondition, "no peer available for node "+nodeID, nil))
			continue
		}
		g.Go(func() error {
			resp, err := peer.Prepare(gctx, req)
			if err != nil {
				rc.SetError(asEngineError(KindPrecondition, err))
				return err
			}
			results <- result{nodeID: nodeID, resp: resp}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	if rc.Failed() {
		return
	}

	for r := range results {
		rc.SetMetadata(r.nodeID, r.resp.Metadata)
		for _, cfg := range r.resp.Configs {
			rc.SetConfig(cfg)
		}
	}

	if err := validateMetadata(rc); err != nil {
		rc.SetError(err)
	}
}

// validateMetadata enforces the invariants from §3: consistent page size
// and onlyPrimary across all reported metadata, and every requested group
// present in at least one metadata.
func validateMetadata(rc *Context) error {
	all := rc.AllMetadata()
	if len(all) == 0 {
		return NewError(KindInvalidMetadata, "no snapshot metadata reported by any node", nil)
	}

	pageSize := all[0].PageSize
	onlyPrimary := all[0].OnlyPrimary
	groupsSeen := make(map[string]struct{})
	for _, m := range all {
		if m.PageSize != pageSize {
			return NewError(KindInvalidMetadata, "inconsistent page size across nodes", nil)
		}
		if m.OnlyPrimary != onlyPrimary {
			return NewError(KindInvalidMetadata, "inconsistent onlyPrimary flag across nodes", nil)
		}
		for group := range m.Partitions {
			groupsSeen[group] = struct{}{}
		}
	}

	for group := range rc.Groups {
		if _, ok := groupsSeen[group]; !ok {
			return NewError(KindInvalidMetadata, "no snapshot data for "+group, nil)
		}
	}
	return nil
}

// phasePreload fans Preload out to every required node. Each node stages
// its own owned partitions and performs its own atomic directory switch;
// a failure on any node arms the error latch for the whole attempt.
func (e *Engine) phasePreload(ctx context.Context, rc *Context) {
	e.fanOut(ctx, rc, KindIO, func(ctx context.Context, peer PhasePeer) error {
		return peer.Preload(ctx, rc.RequestID)
	})
}

// phaseCacheStart fans CacheStart out to every required node.
func (e *Engine) phaseCacheStart(ctx context.Context, rc *Context) {
	e.fanOut(ctx, rc, KindApply, func(ctx context.Context, peer PhasePeer) error {
		return peer.CacheStart(ctx, rc.RequestID)
	})
}

// phaseIncrementalApply fans IncrementalApply out to every required node.
func (e *Engine) phaseIncrementalApply(ctx context.Context, rc *Context) {
	e.fanOut(ctx, rc, KindApply, func(ctx context.Context, peer PhasePeer) error {
		return peer.IncrementalApply(ctx, rc.RequestID)
	})
}

// fanOut runs fn against every required peer concurrently, stopping early
// (via the errgroup's derived context) once the first failure arms the
// error latch, and tagging unexpected errors with defaultKind if the peer
// didn't already return a *Error.
func (e *Engine) fanOut(ctx context.Context, rc *Context, defaultKind Kind, fn func(context.Context, PhasePeer) error) {
	g, gctx := errgroup.WithContext(ctx)
	for nodeID := range rc.RequiredNodes {
		nodeID := nodeID
		peer := e.peerFor(nodeID)
		if peer == nil {
			rc.SetError(NewError(defaultKind, "no peer available for node "+nodeID, nil))
			continue
		}
		g.Go(func() error {
			if rc.Failed() {
				return nil
			}
			if err := fn(gctx, peer); err != nil {
				rc.SetError(asEngineError(defaultKind, err))
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// asEngineError preserves an already-tagged *Error as-is; anything else is
// wrapped under defaultKind so the context's error latch always carries a
// classified error.
func asEngineError(defaultKind Kind, err error) error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewError(defaultKind, err.Error(), err)
}

// finishPeers tells every required peer the attempt succeeded, so the other
// required nodes (which have no Start/run of their own) release the Context
// installRemoteContext gave them. Best-effort: the restore has already
// succeeded by this point, so a peer that can't be reached just logs.
func (e *Engine) finishPeers(ctx context.Context, rc *Context) {
	for nodeID := range rc.RequiredNodes {
		peer := e.peerFor(nodeID)
		if peer == nil {
			continue
		}
		if err := peer.Finish(ctx, rc.RequestID); err != nil {
			e.log.Warn().Err(err).Str("node", nodeID).Msg("finish failed")
		}
	}
}

func setToSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return out
}
