package restore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/gridrestore/pkg/types"
)

// Phase names the five-phase protocol's stages, used both for the context's
// "current phase" bookkeeping and for metrics/ledger labels.
type Phase string

const (
	PhasePrepare          Phase = "prepare"
	PhasePreload          Phase = "preload"
	PhaseCacheStart       Phase = "cache_start"
	PhaseIncrementalApply Phase = "incremental_apply"
	PhaseFinished         Phase = "finished"
)

// Context is the per-operation restore state (C4): identity, plan, progress
// counters, and the compare-and-set error latch every phase feeds into.
// Exactly one exists per node at a time; Engine enforces that.
type Context struct {
	RequestID        string
	SnapshotName     string
	OriginatorNodeID string
	RequiredNodes    map[string]struct{}
	Groups           map[string]struct{}
	IncrementalIndex int

	// Plan — populated by Prepare/Preload, effectively immutable after
	// Preload starts (spec §5).
	mu       sync.RWMutex
	dirs     map[string][]string
	configs  map[string]*types.CacheConfig
	metadata map[string][]*types.SnapshotMetadata

	phase atomic.Value // Phase

	processedPartitions int64
	totalPartitions     int64
	processedWalSegs    int64
	totalWalSegs        int64
	processedWalEntries int64

	errOnce sync.Once
	err     atomic.Value // error

	stopFutOnce sync.Once
	stopFut     chan struct{}

	startTime time.Time
	endTime   atomic.Value // time.Time
}

// NewContext creates a fresh Context for one attempt.
func NewContext(requestID, snapshotName, originatorNodeID string, required []string, groups []string, incrementalIndex int) *Context {
	c := &Context{
		RequestID:        requestID,
		SnapshotName:     snapshotName,
		OriginatorNodeID: originatorNodeID,
		RequiredNodes:    toSet(required),
		Groups:           toSet(groups),
		IncrementalIndex: incrementalIndex,
		dirs:             make(map[string][]string),
		configs:          make(map[string]*types.CacheConfig),
		metadata:         make(map[string][]*types.SnapshotMetadata),
		stopFut:          make(chan struct{}),
		startTime:        time.Now(),
	}
	c.phase.Store(PhasePrepare)
	return c
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

// SetPhase records the phase currently in progress.
func (c *Context) SetPhase(p Phase) {
	c.phase.Store(p)
}

// CurrentPhase returns the phase currently in progress.
func (c *Context) CurrentPhase() Phase {
	if p, ok := c.phase.Load().(Phase); ok {
		return p
	}
	return PhasePrepare
}

// SetDirs records the ordered final cache directories for a group.
// localPeer.Preload is the only caller, after each group's directory switch.
func (c *Context) SetDirs(group string, dirs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs[group] = dirs
}

// SetConfig records a cache config discovered during Prepare.
func (c *Context) SetConfig(cfg *types.CacheConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[cfg.CacheID] = cfg
}

// SetMetadata records one node's reported metadata.
func (c *Context) SetMetadata(nodeID string, metas []*types.SnapshotMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[nodeID] = metas
}

// AllMetadata flattens every node's reported metadata into one slice.
func (c *Context) AllMetadata() []*types.SnapshotMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var all []*types.SnapshotMetadata
	for _, metas := range c.metadata {
		all = append(all, metas...)
	}
	return all
}

// Configs returns every cache config discovered during Prepare.
func (c *Context) Configs() []*types.CacheConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.CacheConfig, 0, len(c.configs))
	for _, cfg := range c.configs {
		out = append(out, cfg)
	}
	return out
}

// Dirs returns the final directories planned for group.
func (c *Context) Dirs(group string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirs[group]
}

// SetError installs err into the compare-and-set latch. Only the first
// call has any effect — first-error-wins (spec §5, §8).
func (c *Context) SetError(err error) {
	c.errOnce.Do(func() {
		c.err.Store(err)
		c.stopFutOnce.Do(func() { close(c.stopFut) })
	})
}

// Err returns the first error set on the context, or nil.
func (c *Context) Err() error {
	if v := c.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Failed reports whether the error latch has been set — the stop-checker
// every long-running loop in the pipeline polls.
func (c *Context) Failed() bool {
	return c.err.Load() != nil
}

// StopFut returns a channel closed exactly once, the instant the error
// latch is first set. Engine.Cancel waits on it, so Cancel returns once the
// attempt is latched as failed; it does not wait for the rollback that
// follows.
func (c *Context) StopFut() <-chan struct{} {
	return c.stopFut
}

// AddProcessedPartitions advances the processed-partitions counter.
func (c *Context) AddProcessedPartitions(n int64) {
	atomic.AddInt64(&c.processedPartitions, n)
}

// SetTotalPartitions records the total partition count for the attempt.
func (c *Context) SetTotalPartitions(n int64) {
	atomic.StoreInt64(&c.totalPartitions, n)
}

// ProcessedPartitions returns the current processed-partitions count.
func (c *Context) ProcessedPartitions() int64 {
	return atomic.LoadInt64(&c.processedPartitions)
}

// TotalPartitions returns the planned total partition count.
func (c *Context) TotalPartitions() int64 {
	return atomic.LoadInt64(&c.totalPartitions)
}

// AddProcessedWALEntries advances the WAL-entry counter.
func (c *Context) AddProcessedWALEntries(n int64) {
	atomic.AddInt64(&c.processedWalEntries, n)
}

// ProcessedWALEntries returns the current WAL-entry count.
func (c *Context) ProcessedWALEntries() int64 {
	return atomic.LoadInt64(&c.processedWalEntries)
}

// SetTotalWALSegments records the total number of WAL segments to replay.
func (c *Context) SetTotalWALSegments(n int64) {
	atomic.StoreInt64(&c.totalWalSegs, n)
}

// AddProcessedWALSegments advances the processed-WAL-segments counter.
func (c *Context) AddProcessedWALSegments(n int64) {
	atomic.AddInt64(&c.processedWalSegs, n)
}

// ProcessedWALSegments / TotalWALSegments report WAL segment progress.
func (c *Context) ProcessedWALSegments() int64 { return atomic.LoadInt64(&c.processedWalSegs) }
func (c *Context) TotalWALSegments() int64     { return atomic.LoadInt64(&c.totalWalSegs) }

// Finish records the end time. Called once per context, on success or
// failure: by Engine.finish on the originating node, by Engine.clearContext
// on every other required node.
func (c *Context) Finish() {
	c.endTime.Store(time.Now())
}

// StartTime / EndTime expose the attempt's timing for metrics.
func (c *Context) StartTime() time.Time { return c.startTime }
func (c *Context) EndTime() time.Time {
	if v := c.endTime.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// HasGroup reports whether group was requested by this attempt, or the
// attempt covers every group (empty Groups means "all").
func (c *Context) HasGroup(group string) bool {
	if len(c.Groups) == 0 {
		return true
	}
	_, ok := c.Groups[group]
	return ok
}
