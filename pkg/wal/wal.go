package wal

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/gridrestore/pkg/affinity"
	"github.com/cuemby/gridrestore/pkg/log"
	"github.com/cuemby/gridrestore/pkg/metrics"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/rs/zerolog"
)

// SegmentIterator walks one incremental WAL segment's DataEntry records in
// order. Production implementations read an on-disk segment; tests
// substitute an in-memory one. The WAL reader that actually produces
// segments is an external collaborator (spec §1) — this package only
// consumes the interface.
type SegmentIterator interface {
	// Next returns the next entry, or ok=false once the segment is
	// exhausted.
	Next() (entry *types.WALEntry, ok bool, err error)
}

// ApplyFunc locates the live local partition for an entry and invokes the
// database layer's applyDataEntry equivalent, advancing its update counter.
type ApplyFunc func(entry *types.WALEntry) error

// FinalizeFunc implements finalizeUpdateCounters for one (group, partition)
// pair: closing any counter gaps left by transactions excluded from the
// incremental snapshot.
type FinalizeFunc func(group string, partitionID int) error

// WALControl disables/re-enables WAL for a set of target cache groups
// around the incremental apply, and forces the checkpoint afterward. It is
// an external collaborator (the cache layer); this package only calls it.
type WALControl interface {
	Disable(groups []string) error
	Enable(groups []string) error
	Checkpoint(ctx context.Context) error
}

// Applier is the striped incremental WAL executor (C6): entries for the
// same (group, partition) pair are serialized on one stripe so their
// counters advance in order, while different partitions parallelize across
// stripes.
type Applier struct {
	stripes int
	inboxes []chan *types.WALEntry
	wg      sync.WaitGroup

	apply        ApplyFunc
	finalize     FinalizeFunc
	partitionFor map[string]int // group -> partition count, for the key-hash fallback

	mu      sync.Mutex
	err     error
	touched map[string]map[int]struct{}

	logger zerolog.Logger
}

// NewApplier creates an Applier with the given stripe count (worker
// goroutine count). partitionFor supplies each group's partition count for
// entries that arrive without an explicit partition id.
func NewApplier(stripes int, apply ApplyFunc, finalize FinalizeFunc, partitionFor map[string]int) *Applier {
	if stripes <= 0 {
		stripes = 1
	}
	a := &Applier{
		stripes:      stripes,
		inboxes:      make([]chan *types.WALEntry, stripes),
		apply:        apply,
		finalize:     finalize,
		partitionFor: partitionFor,
		touched:      make(map[string]map[int]struct{}),
		logger:       log.WithComponent("wal"),
	}
	for i := range a.inboxes {
		a.inboxes[i] = make(chan *types.WALEntry, 256)
	}
	return a
}

func (a *Applier) stripeFor(groupID string, partitionID int) int {
	h := xxhash.Sum64String(fmt.Sprintf("%s:%d", groupID, partitionID))
	return int(h % uint64(a.stripes))
}

func (a *Applier) start() {
	for i := 0; i < a.stripes; i++ {
		a.wg.Add(1)
		i := i
		go a.worker(i)
	}
}

func (a *Applier) worker(index int) {
	defer a.wg.Done()
	for entry := range a.inboxes[index] {
		metrics.WALStripeLag.WithLabelValues(fmt.Sprintf("%d", index)).Set(float64(len(a.inboxes[index])))

		if err := a.apply(entry); err != nil {
			a.recordErr(fmt.Errorf("failed to apply WAL entry for group %s partition %d: %w", entry.GroupID, entry.PartitionID, err))
			continue
		}

		metrics.WALEntriesApplied.WithLabelValues(entry.GroupID).Inc()

		a.mu.Lock()
		if a.touched[entry.GroupID] == nil {
			a.touched[entry.GroupID] = make(map[int]struct{})
		}
		a.touched[entry.GroupID][entry.PartitionID] = struct{}{}
		a.mu.Unlock()
	}
}

func (a *Applier) recordErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

// resolvePartition fills in entry.PartitionID via the affinity fallback hash
// when the entry arrived without one, per spec's "missing partition id ...
// falls back to affinity.partition(key) with a warning (never fails the
// apply)".
func (a *Applier) resolvePartition(entry *types.WALEntry) {
	if entry.HasPartitionID {
		return
	}
	count := a.partitionFor[entry.GroupID]
	entry.PartitionID = affinity.Partition(entry.Key, count)
	a.logger.Warn().
		Str("group_id", entry.GroupID).
		Str("cache_id", entry.CacheID).
		Int("resolved_partition_id", entry.PartitionID).
		Msg("WAL entry missing partition id, resolved via affinity hash")
}

// ApplyChain runs the full incremental applier sequence (spec §4.4) over
// segments in order, restricted to cacheIDs.
func (a *Applier) ApplyChain(ctx context.Context, groups []string, cacheIDs map[string]struct{}, control WALControl, segments []SegmentIterator) error {
	if err := control.Disable(groups); err != nil {
		return fmt.Errorf("failed to disable WAL for groups: %w", err)
	}

	timer := metrics.NewTimer()
	a.start()

	for _, segment := range segments {
		for {
			entry, ok, err := segment.Next()
			if err != nil {
				a.recordErr(err)
				break
			}
			if !ok {
				break
			}
			if _, wanted := cacheIDs[entry.CacheID]; !wanted {
				continue
			}

			a.resolvePartition(entry)
			stripe := a.stripeFor(entry.GroupID, entry.PartitionID)
			select {
			case a.inboxes[stripe] <- entry:
			case <-ctx.Done():
				a.recordErr(ctx.Err())
			}
		}
		metrics.WALSegmentsProcessed.Inc()
	}

	for _, inbox := range a.inboxes {
		close(inbox)
	}
	a.wg.Wait()
	timer.ObserveDuration(metrics.WALApplyDuration)

	a.mu.Lock()
	applyErr := a.err
	touched := a.touched
	a.mu.Unlock()

	if applyErr != nil {
		return applyErr
	}

	for group, partitions := range touched {
		for partID := range partitions {
			if err := a.finalize(group, partID); err != nil {
				return fmt.Errorf("failed to finalize update counters for group %s partition %d: %w", group, partID, err)
			}
		}
	}

	if err := control.Enable(groups); err != nil {
		return fmt.Errorf("failed to re-enable WAL for groups: %w", err)
	}

	if err := control.Checkpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint failed after incremental apply: %w", err)
	}

	return nil
}
