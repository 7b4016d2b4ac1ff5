/*
Package snapshot implements the on-disk snapshot file layout (C1), the
metadata registry (C2), and the atomic directory switch (C7).

Layout resolves every path a restore attempt touches: tmp/<group> for
staging, <group> for the switched-in final directory, and part-N /
part-index for the partition files inside either. Switch renames a
staged group directory into place in one atomic move; Rollback and
CacheStop implement the two ways an attempt can undo staged work without
corrupting an already-running cache.

MetadataRegistry is a BoltDB file in a node's data directory, opened once
per node process, holding the SnapshotMetadata this node reports during
Prepare — it mirrors the bucket-per-kind JSON codec the control plane's
store uses. The engine never clears it; Clear is available to callers.

# Usage

	layout, _ := snapshot.NewLayout("/var/lib/gridrestore/snapshots")
	layout.EnsureTempDir("G")
	// ... copy/fetch partitions into layout.TempGroupDir("G") ...
	layout.Switch("G")

	registry, _ := snapshot.OpenMetadataRegistry(dataDir)
	registry.Put(meta)
	all, _ := registry.List()
	available := snapshot.AvailablePartitions(all, "G")
	source := snapshot.FindMetadataWithSamePartitions(all, "G", required)
*/
package snapshot
