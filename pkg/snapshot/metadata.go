package snapshot

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/gridrestore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketMetadata = []byte("metadata")

// MetadataRegistry is the Metadata Registry (C2): a durable, queryable
// record of every SnapshotMetadata file discovered for a snapshot, keyed
// by the node that produced it. It is a separate BoltDB file from the
// control plane's store, opened once per node in its data directory; the
// restore engine reads it during Prepare and never clears it.
type MetadataRegistry struct {
	db *bolt.DB
}

// OpenMetadataRegistry opens (creating if needed) the registry database
// rooted at dataDir.
func OpenMetadataRegistry(dataDir string) (*MetadataRegistry, error) {
	dbPath := filepath.Join(dataDir, "metadata-registry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata registry: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetadata)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &MetadataRegistry{db: db}, nil
}

// Close closes the registry.
func (r *MetadataRegistry) Close() error {
	return r.db.Close()
}

// Put upserts the metadata one node reported for the current attempt.
func (r *MetadataRegistry) Put(meta *types.SnapshotMetadata) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(meta.NodeID), data)
	})
}

// Get retrieves the metadata reported by a single node.
func (r *MetadataRegistry) Get(nodeID string) (*types.SnapshotMetadata, error) {
	var meta types.SnapshotMetadata
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		data := b.Get([]byte(nodeID))
		if data == nil {
			return fmt.Errorf("metadata not found for node: %s", nodeID)
		}
		return json.Unmarshal(data, &meta)
	})
	return &meta, err
}

// List returns every node's reported metadata for the current attempt.
func (r *MetadataRegistry) List() ([]*types.SnapshotMetadata, error) {
	var all []*types.SnapshotMetadata
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		return b.ForEach(func(k, v []byte) error {
			var meta types.SnapshotMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			all = append(all, &meta)
			return nil
		})
	})
	return all, err
}

// Clear removes every entry, used when a finished attempt's metadata is no
// longer needed.
func (r *MetadataRegistry) Clear() error {
	return r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketMetadata); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketMetadata)
		return err
	})
}

// AvailablePartitions computes availableParts(group) = ⋃ metadata[*].partitions[group]
// across every node's reported metadata (spec step 2 of the staging
// algorithm): the full set of partitions any node's snapshot data covers
// for the group.
func AvailablePartitions(all []*types.SnapshotMetadata, group string) map[int]struct{} {
	out := make(map[int]struct{})
	for _, meta := range all {
		for _, p := range meta.PartitionSet(group) {
			out[p] = struct{}{}
		}
	}
	return out
}

// FindMetadataWithSamePartitions implements findMetadataWithSamePartitions:
// it looks for a single metadata entry whose partition set for group is
// exactly required, so the staging pipeline can copy the whole required set
// from one local source instead of assembling it from several.
func FindMetadataWithSamePartitions(all []*types.SnapshotMetadata, group string, required map[int]struct{}) *types.SnapshotMetadata {
	for _, meta := range all {
		parts := meta.Partitions[group]
		if len(parts) != len(required) {
			continue
		}
		match := true
		for p := range required {
			if _, ok := parts[p]; !ok {
				match = false
				break
			}
		}
		if match {
			return meta
		}
	}
	return nil
}
