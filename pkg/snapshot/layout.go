package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSnapshotsPath is the base directory under which restored cache
// group directories live, one level below the root for temp staging.
const DefaultSnapshotsPath = "/var/lib/gridrestore/snapshots"

// indexPartition is the reserved partition file name for a group's index.
const indexPartition = "part-index"

// Layout resolves the on-disk paths a restore attempt reads and writes:
// the temp staging directory per group, the final group directory, and the
// individual partition files within each.
type Layout struct {
	basePath string
}

// NewLayout creates a Layout rooted at basePath, creating it if necessary.
func NewLayout(basePath string) (*Layout, error) {
	if basePath == "" {
		basePath = DefaultSnapshotsPath
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return &Layout{basePath: basePath}, nil
}

// GroupDir returns the final directory for a cache group.
func (l *Layout) GroupDir(group string) string {
	return filepath.Join(l.basePath, group)
}

// TempGroupDir returns the staging directory for a cache group, under tmp/.
func (l *Layout) TempGroupDir(group string) string {
	return filepath.Join(l.basePath, "tmp", group)
}

// PartitionFile returns the path of one partition file within dir (either a
// temp or final group directory).
func (l *Layout) PartitionFile(dir string, partID int) string {
	return filepath.Join(dir, fmt.Sprintf("part-%d", partID))
}

// IndexFile returns the path of the index partition file within dir.
func (l *Layout) IndexFile(dir string) string {
	return filepath.Join(dir, indexPartition)
}

// EnsureTempDir creates tmp/<group>, idempotently.
func (l *Layout) EnsureTempDir(group string) error {
	if err := os.MkdirAll(l.TempGroupDir(group), 0755); err != nil {
		return fmt.Errorf("failed to create temp directory for group %s: %w", group, err)
	}
	return nil
}

// GroupExists reports whether the final directory for a group already
// exists. Prepare must refuse to stage a group whose final directory is
// already present (restoring onto an existing cache is a precondition
// failure, not a merge).
func (l *Layout) GroupExists(group string) bool {
	_, err := os.Stat(l.GroupDir(group))
	return err == nil
}

// TempGroupExists reports whether a stale staging directory for a group is
// already present. Prepare must also refuse to start over an interrupted
// attempt's leftover tmp/<group> directory rather than silently reusing or
// overwriting it.
func (l *Layout) TempGroupExists(group string) bool {
	_, err := os.Stat(l.TempGroupDir(group))
	return err == nil
}

// Switch performs the atomic directory switch (C7): tmp/<group> becomes
// <group> via a single rename. The final directory must not already exist;
// Prepare is responsible for having enforced that earlier.
func (l *Layout) Switch(group string) error {
	tmp := l.TempGroupDir(group)
	final := l.GroupDir(group)

	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("final directory for group %s already exists", group)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to switch group %s into place: %w", group, err)
	}
	return nil
}

// Rollback deletes both the temp and final directories for a group, used
// when an attempt fails after some groups have already been switched.
func (l *Layout) Rollback(group string) error {
	if err := os.RemoveAll(l.TempGroupDir(group)); err != nil {
		return fmt.Errorf("failed to remove temp directory for group %s: %w", group, err)
	}
	if err := os.RemoveAll(l.GroupDir(group)); err != nil {
		return fmt.Errorf("failed to remove final directory for group %s: %w", group, err)
	}
	return nil
}

// ReadPartitions reads the requested partition files (and the index file,
// if present) for group out of whichever directory currently holds its
// data — the final directory once switched, the temp staging directory
// beforehand. It satisfies pkg/transport's partitionReader, letting a peer
// serve KindFetchPartitions requests straight from local disk.
func (l *Layout) ReadPartitions(group string, partIDs []int) (map[int][]byte, []byte, error) {
	dir := l.GroupDir(group)
	if _, err := os.Stat(dir); err != nil {
		dir = l.TempGroupDir(group)
	}

	data := make(map[int][]byte, len(partIDs))
	for _, id := range partIDs {
		bytes, err := os.ReadFile(l.PartitionFile(dir, id))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read partition %d for group %s: %w", id, group, err)
		}
		data[id] = bytes
	}

	var index []byte
	if bytes, err := os.ReadFile(l.IndexFile(dir)); err == nil {
		index = bytes
	}

	return data, index, nil
}

// CacheStop removes only the temp directory, leaving any already-switched
// final directory (and the caches it backs) untouched. Used by the
// cache-stop step of a failed attempt, after caches were started; Rollback
// runs next and removes the final directory as well.
func (l *Layout) CacheStop(group string) error {
	if err := os.RemoveAll(l.TempGroupDir(group)); err != nil {
		return fmt.Errorf("failed to remove temp directory for group %s: %w", group, err)
	}
	return nil
}
