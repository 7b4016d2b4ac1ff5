/*
Package restore implements the distributed snapshot-restore engine: the
per-operation context (C4), the five-phase distributed driver (C5), and
the wire records exchanged between nodes (C9).

Engine owns at most one in-flight Context per node, enforced under a
mutex the same way pkg/manager guarded its single in-flight apply. A
restore attempt is driven phase by phase — Prepare, Preload, CacheStart,
optionally IncrementalApply, then finish — fanning each phase out to every
required node through a PhasePeer. One PhasePeer implementation
(localPeer) wraps the engine's own handlers; a second, living in
pkg/transport, wraps an RPC client to a remote node — pkg/restore itself
never imports pkg/transport, the same dependency-inversion seam
pkg/cluster.Join uses for its requestJoin callback.

Context's error slot is compare-and-set: only the first error set on an
attempt is ever surfaced, and every long-running loop in the staging and
WAL-apply pipelines polls Context.Failed() between units of work so a
cancellation or a required node leaving aborts promptly.

# Usage

	engine := restore.NewEngine(restore.EngineConfig{
		NodeID:      nodeID,
		Cluster:     cluster,
		Layout:      layout,
		Registry:    registry,
		Stager:      stager,
		Affinity:    affinity.NewCalculator(),
		CacheCtrl:   restore.NewStubCacheGroupController(logger),
		ConfigStore: restore.NewStubCacheConfigStore(),
		WALStripe:   8,
		ApplyFn:     applyEntry,
		Finalize:    finalizeCounters,
		WALCtrl:     walControl,
		Fetcher:     transportClient,
	})
	engine.SetPeerResolver(transportClient.PeerFor)
	err := engine.Start(ctx, "nightly-2026-07-30", nil, 0)
*/
package restore
