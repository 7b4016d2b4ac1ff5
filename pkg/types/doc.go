/*
Package types defines the core data structures shared across the restore
engine: baseline cluster membership, the snapshot and cache-config records
exchanged during Prepare, and the WAL entries replayed during incremental
apply.

These types carry no behavior of their own — they are the wire and
storage records that pkg/cluster, pkg/snapshot, pkg/stage, pkg/wal and
pkg/restore pass between each other and persist through pkg/storage.

# Core Types

Membership:
  - NodeInfo: one baseline node's id, role, address and liveness
  - NodeRole: server or client
  - NodeStatus: ready, down, or unknown

Snapshot Data:
  - SnapshotMetadata: one node's view of a snapshot — which cache groups
    and partitions its local data covers, plus the page size and
    only-primary flag every node's metadata must agree on
  - CacheConfig: a cache's wire configuration, keyed by cache and group id

Incremental Apply:
  - WALEntry: one replayed WAL record — cache/group/partition, a key and
    value (or tombstone), and the update counter it advances

# Usage

	meta := &types.SnapshotMetadata{
		NodeID:     "node-1",
		FolderName: "snapshot-2026-07-30",
		PageSize:   4096,
		Partitions: map[string]map[int]struct{}{
			"orders": {0: {}, 1: {}, 2: {}},
		},
	}

All types are JSON-serializable for BoltDB storage and for the Envelope
payloads pkg/transport carries between nodes.
*/
package types
