package restore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/gridrestore/pkg/affinity"
	"github.com/cuemby/gridrestore/pkg/events"
	"github.com/cuemby/gridrestore/pkg/log"
	"github.com/cuemby/gridrestore/pkg/metrics"
	"github.com/cuemby/gridrestore/pkg/snapshot"
	"github.com/cuemby/gridrestore/pkg/stage"
	"github.com/cuemby/gridrestore/pkg/storage"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/cuemby/gridrestore/pkg/wal"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PhasePeer is the per-node collaborator the driver talks to for one phase
// of the protocol. One implementation wraps the local engine's own phase
// handlers; another (in pkg/transport) wraps an RPC client to a remote
// node. Neither pkg/restore nor its tests need to know which.
type PhasePeer interface {
	NodeID() string
	Prepare(ctx context.Context, req *OperationRequest) (*PrepareResponse, error)
	Preload(ctx context.Context, requestID string) error
	CacheStart(ctx context.Context, requestID string) error
	IncrementalApply(ctx context.Context, requestID string) error
	CacheStop(ctx context.Context, requestID string) error
	Rollback(ctx context.Context, requestID string) error
	Finish(ctx context.Context, requestID string) error
}

// clusterView is the subset of pkg/cluster.Cluster the engine depends on,
// kept narrow so tests can supply a fake instead of a raft-backed cluster.
type clusterView interface {
	NodeID() string
	IsLeader() bool
	ListNodes() ([]*types.NodeInfo, error)
	GetNode(id string) (*types.NodeInfo, error)
	GetRaftStats() map[string]interface{}
	PutAttempt(record *storage.AttemptRecord) error
	PublishEvent(event *events.Event)
}

// Engine is the per-node restore coordinator (C5 driver + C4 context
// owner). Exactly one Engine runs per cluster node; engines on different
// nodes talk to each other through PhasePeer.
type Engine struct {
	nodeID  string
	cluster clusterView
	peerFor func(nodeID string) PhasePeer

	layout        *snapshot.Layout
	registry      *snapshot.MetadataRegistry
	stager        *stage.Stager
	affinity      *affinity.Calculator
	cacheCtrl     CacheGroupController
	configStore   CacheConfigStore
	walStripe     int
	applyFn       wal.ApplyFunc
	finalize      wal.FinalizeFunc
	walCtrl       wal.WALControl
	fetcher       stage.RemoteFetcher
	segmentsFor   func(snapshotName string, incrementalIndex int) ([]wal.SegmentIterator, error)
	snapshotGuard SnapshotGuard

	mu      sync.Mutex
	current *Context
	last    *Context

	log zerolog.Logger
}

// EngineConfig collects Engine's external collaborators.
type EngineConfig struct {
	NodeID        string
	Cluster       clusterView
	Layout        *snapshot.Layout
	Registry      *snapshot.MetadataRegistry
	Stager        *stage.Stager
	Affinity      *affinity.Calculator
	CacheCtrl     CacheGroupController
	ConfigStore   CacheConfigStore
	WALStripe     int
	ApplyFn       wal.ApplyFunc
	Finalize      wal.FinalizeFunc
	WALCtrl       wal.WALControl
	Fetcher       stage.RemoteFetcher
	SegmentsFor   func(snapshotName string, incrementalIndex int) ([]wal.SegmentIterator, error)
	SnapshotGuard SnapshotGuard
}

// NewEngine creates an Engine. PeerFor must be set separately via
// SetPeerResolver once pkg/transport exists to avoid a circular import;
// until then the engine can only drive single-node attempts.
func NewEngine(cfg EngineConfig) *Engine {
	guard := cfg.SnapshotGuard
	if guard == nil {
		guard = NewStubSnapshotGuard()
	}
	e := &Engine{
		nodeID:        cfg.NodeID,
		cluster:       cfg.Cluster,
		layout:        cfg.Layout,
		registry:      cfg.Registry,
		stager:        cfg.Stager,
		affinity:      cfg.Affinity,
		cacheCtrl:     cfg.CacheCtrl,
		configStore:   cfg.ConfigStore,
		walStripe:     cfg.WALStripe,
		applyFn:       cfg.ApplyFn,
		finalize:      cfg.Finalize,
		walCtrl:       cfg.WALCtrl,
		fetcher:       cfg.Fetcher,
		segmentsFor:   cfg.SegmentsFor,
		snapshotGuard: guard,
		log:           log.WithComponent("restore"),
	}
	e.peerFor = func(nodeID string) PhasePeer {
		if nodeID == e.nodeID {
			return &localPeer{engine: e}
		}
		return nil
	}
	return e
}

// SetPeerResolver installs the function used to resolve a PhasePeer for a
// remote node, typically backed by pkg/transport. Local node resolution is
// always handled internally regardless of what fn does.
func (e *Engine) SetPeerResolver(fn func(nodeID string) PhasePeer) {
	e.peerFor = func(nodeID string) PhasePeer {
		if nodeID == e.nodeID {
			return &localPeer{engine: e}
		}
		return fn(nodeID)
	}
}

// Start begins a new restore attempt. It fails fast (Rejected) against
// every precondition in the component design before touching any state:
// the caller must not be a client-only node, the baseline topology must be
// configured, the cluster must be active and not transitioning, no
// snapshot creation may be in flight, the caller must be the coordinator,
// and no restore may already be in progress on this node.
func (e *Engine) Start(ctx context.Context, snapshotName string, groups []string, incrementalIndex int) error {
	self, err := e.cluster.GetNode(e.nodeID)
	if err != nil {
		return NewError(KindRejected, "cannot determine this node's role", err)
	}
	if self != nil && self.Role == types.NodeRoleClient {
		return NewError(KindRejected, "client-only nodes cannot originate a restore", nil)
	}

	required, err := e.aliveBaseline()
	if err != nil {
		return NewError(KindRejected, "cannot determine baseline membership", err)
	}
	if len(required) == 0 {
		return NewError(KindRejected, "baseline topology is not configured", nil)
	}

	if err := e.checkClusterActive(); err != nil {
		return err
	}

	inFlight, err := e.snapshotGuard.SnapshotCreationInFlight()
	if err != nil {
		return NewError(KindRejected, "cannot determine snapshot creation status", err)
	}
	if inFlight {
		return NewError(KindRejected, "a snapshot creation operation is in flight", nil)
	}

	coord, err := e.coordinator()
	if err != nil {
		return NewError(KindRejected, "cannot determine coordinator", err)
	}
	if coord != e.nodeID {
		return NewError(KindRejected, fmt.Sprintf("only the coordinator node %s may originate a restore", coord), nil)
	}

	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		return NewError(KindRejected, "a restore is already in progress on this node", nil)
	}
	requestID := uuid.NewString()
	rc := NewContext(requestID, snapshotName, e.nodeID, required, groups, incrementalIndex)
	e.current = rc
	e.mu.Unlock()

	e.cluster.PublishEvent(&events.Event{
		Type:    events.RestoreStarted,
		Message: fmt.Sprintf("restore %s started for snapshot %s", requestID, snapshotName),
		Metadata: map[string]string{
			"requestId":    requestID,
			"snapshotName": snapshotName,
		},
	})

	err = e.run(ctx, rc)
	e.finish(rc, err)
	if err != nil {
		metrics.RestoreAttemptsTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.RestoreAttemptsTotal.WithLabelValues("success").Inc()
	return nil
}

// run drives the five-phase sequence described in the component design.
func (e *Engine) run(ctx context.Context, rc *Context) error {
	if err := e.timedPhase(PhasePrepare, func() { e.phasePrepare(ctx, rc) }, rc); err != nil {
		e.rollbackAll(ctx, rc, false)
		return rc.Err()
	}

	rc.SetPhase(PhasePreload)
	if err := e.timedPhase(PhasePreload, func() { e.phasePreload(ctx, rc) }, rc); err != nil {
		e.rollbackAll(ctx, rc, false)
		return rc.Err()
	}

	rc.SetPhase(PhaseCacheStart)
	if err := e.timedPhase(PhaseCacheStart, func() { e.phaseCacheStart(ctx, rc) }, rc); err != nil {
		e.rollbackAll(ctx, rc, true)
		return rc.Err()
	}

	if rc.IncrementalIndex > 0 {
		rc.SetPhase(PhaseIncrementalApply)
		if err := e.timedPhase(PhaseIncrementalApply, func() { e.phaseIncrementalApply(ctx, rc) }, rc); err != nil {
			e.rollbackAll(ctx, rc, true)
			return rc.Err()
		}
	}

	rc.SetPhase(PhaseFinished)
	e.finishPeers(ctx, rc)
	return nil
}

// timedPhase runs fn, records its duration against the phase's metric, and
// returns rc.Err() (nil if fn didn't arm the error latch).
func (e *Engine) timedPhase(phase Phase, fn func(), rc *Context) error {
	timer := metrics.NewTimer()
	fn()
	timer.ObserveDurationVec(metrics.RestorePhaseDuration, string(phase))
	if rc.Failed() {
		return rc.Err()
	}
	return nil
}

// rollbackAll runs CacheStop (if caches were started) then Rollback on
// every required peer, logging but never letting a rollback failure mask
// the original error.
func (e *Engine) rollbackAll(ctx context.Context, rc *Context, stopCaches bool) {
	metrics.RestoreRollbacksTotal.Inc()
	for nodeID := range rc.RequiredNodes {
		peer := e.peerFor(nodeID)
		if peer == nil {
			continue
		}
		if stopCaches {
			if err := peer.CacheStop(ctx, rc.RequestID); err != nil {
				e.log.Warn().Err(err).Str("node", nodeID).Msg("cache stop failed during rollback")
			}
		}
		if err := peer.Rollback(ctx, rc.RequestID); err != nil {
			e.log.Warn().Err(err).Str("node", nodeID).Msg("rollback failed")
		}
	}
}

// finish clears the current context, retains it read-only for metrics,
// records the attempt ledger entry, and publishes the terminal event.
func (e *Engine) finish(rc *Context, attemptErr error) {
	rc.Finish()
	e.mu.Lock()
	e.current = nil
	e.last = rc
	e.mu.Unlock()

	record := &storage.AttemptRecord{
		RequestID:        rc.RequestID,
		SnapshotName:     rc.SnapshotName,
		IncrementalIndex: rc.IncrementalIndex,
		Phase:            string(rc.CurrentPhase()),
		StartedAt:        rc.StartTime().UnixMilli(),
		FinishedAt:       rc.EndTime().UnixMilli(),
	}
	if attemptErr != nil {
		record.Error = attemptErr.Error()
	}
	if err := e.cluster.PutAttempt(record); err != nil {
		e.log.Warn().Err(err).Msg("failed to persist attempt ledger entry")
	}

	if attemptErr != nil {
		e.cluster.PublishEvent(&events.Event{
			Type:    events.RestoreFailed,
			Message: attemptErr.Error(),
			Metadata: map[string]string{
				"requestId":    rc.RequestID,
				"snapshotName": rc.SnapshotName,
			},
		})
		return
	}
	e.cluster.PublishEvent(&events.Event{
		Type:    events.RestoreFinished,
		Message: fmt.Sprintf("restore %s completed for snapshot %s", rc.RequestID, rc.SnapshotName),
		Metadata: map[string]string{
			"requestId":    rc.RequestID,
			"snapshotName": rc.SnapshotName,
		},
	})
}

// Cancel matches requestID or snapshotName against the in-flight attempt
// and arms InterruptedByUser. Idempotent: a no-op after finish.
func (e *Engine) Cancel(ctx context.Context, requestIDOrSnapshot string) bool {
	e.mu.Lock()
	rc := e.current
	e.mu.Unlock()
	if rc == nil {
		return false
	}
	if rc.RequestID != requestIDOrSnapshot && rc.SnapshotName != requestIDOrSnapshot {
		return false
	}
	rc.SetError(ErrInterruptedByUser)
	select {
	case <-rc.StopFut():
	case <-ctx.Done():
	}
	return true
}

// OnNodeLeft is the membership callback (C10): idempotent, arms
// RequiredNodeLeft iff nodeID is in the current attempt's required set.
func (e *Engine) OnNodeLeft(nodeID string) {
	e.mu.Lock()
	rc := e.current
	e.mu.Unlock()
	if rc == nil {
		return
	}
	if _, required := rc.RequiredNodes[nodeID]; !required {
		return
	}
	rc.SetError(NewError(KindRequiredNodeLeft, fmt.Sprintf("required node %s left", nodeID), nil))
}

// RestoringSnapshotName returns the current attempt's snapshot name, or
// "" if none is in progress.
func (e *Engine) RestoringSnapshotName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return ""
	}
	return e.current.SnapshotName
}

// IsRestoring reports whether cacheName (or its owning group, if given) is
// part of the current plan. Exact-name comparison is tried first; id
// comparison is only a fallback, per the documented preference for
// avoiding hash-collision false positives.
func (e *Engine) IsRestoring(cacheName, groupName string) bool {
	e.mu.Lock()
	rc := e.current
	e.mu.Unlock()
	if rc == nil {
		return false
	}
	if groupName != "" && rc.HasGroup(groupName) {
		return true
	}
	for _, cfg := range rc.Configs() {
		if cfg.Name == cacheName || cfg.CacheID == cacheName {
			return true
		}
	}
	return false
}

// HandlePrepare, HandlePreload, HandleCacheStart, HandleIncrementalApply,
// HandleCacheStop, HandleRollback and HandleFinish expose this node's own
// phase handlers so pkg/transport's server can dispatch incoming phase
// RPCs into the local engine without pkg/restore having to import
// pkg/transport.
func (e *Engine) HandlePrepare(ctx context.Context, req *OperationRequest) (*PrepareResponse, error) {
	return (&localPeer{engine: e}).Prepare(ctx, req)
}

func (e *Engine) HandlePreload(ctx context.Context, requestID string) error {
	return (&localPeer{engine: e}).Preload(ctx, requestID)
}

func (e *Engine) HandleCacheStart(ctx context.Context, requestID string) error {
	return (&localPeer{engine: e}).CacheStart(ctx, requestID)
}

func (e *Engine) HandleIncrementalApply(ctx context.Context, requestID string) error {
	return (&localPeer{engine: e}).IncrementalApply(ctx, requestID)
}

func (e *Engine) HandleCacheStop(ctx context.Context, requestID string) error {
	return (&localPeer{engine: e}).CacheStop(ctx, requestID)
}

func (e *Engine) HandleRollback(ctx context.Context, requestID string) error {
	return (&localPeer{engine: e}).Rollback(ctx, requestID)
}

func (e *Engine) HandleFinish(ctx context.Context, requestID string) error {
	return (&localPeer{engine: e}).Finish(ctx, requestID)
}

// CurrentContext exposes the in-flight (or, if none, the last finished)
// context read-only, for metrics collection.
func (e *Engine) CurrentContext() *Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		return e.current
	}
	return e.last
}

// installRemoteContext gives a participant node a Context for an incoming
// Prepare request. The originating node already installed its own Context
// in Start before fanning Prepare out to itself along with every other
// peer, so this is a no-op there; every other required node has no
// Context yet and needs one installed here so its later Preload/CacheStart/
// IncrementalApply/CacheStop/Rollback calls (which all resolve against
// CurrentContext) find a match. Rejects a second concurrent attempt the
// same way Start does.
func (e *Engine) installRemoteContext(req *OperationRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		if e.current.RequestID == req.RequestID {
			return nil
		}
		return NewError(KindRejected, "a restore is already in progress on this node", nil)
	}
	e.current = NewContext(req.RequestID, req.SnapshotName, req.OriginatorNodeID, req.Baseline, req.Groups, req.IncrementalIndex)
	return nil
}

// clearContext drops e.current once it matches requestID, retaining it
// read-only as e.last. It leaves the originating node's own Context alone
// (finish clears that one); this is how every other required node releases its
// Context once the coordinator reports the attempt is over, via Finish on
// success or Rollback on failure.
func (e *Engine) clearContext(requestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.RequestID == requestID && e.current.OriginatorNodeID != e.nodeID {
		e.current.Finish()
		e.last = e.current
		e.current = nil
	}
}

// aliveBaseline returns the sorted set of currently-ready server node ids.
func (e *Engine) aliveBaseline() ([]string, error) {
	nodes, err := e.cluster.ListNodes()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range nodes {
		if n.Role == types.NodeRoleServer && n.Status == types.NodeStatusReady {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// checkClusterActive rejects Start when raft reports no current leader or
// a state in the middle of an election/shutdown transition.
func (e *Engine) checkClusterActive() error {
	stats := e.cluster.GetRaftStats()
	if stats == nil {
		return NewError(KindRejected, "cluster is not active", nil)
	}
	leader, _ := stats["leader"].(string)
	if leader == "" {
		return NewError(KindRejected, "cluster is not active: no current leader", nil)
	}
	if state, _ := stats["state"].(string); state == "Candidate" || state == "Shutdown" {
		return NewError(KindRejected, "cluster is transitioning ("+state+")", nil)
	}
	return nil
}

// coordinator picks the oldest alive server node at this instant, per the
// glossary's definition.
func (e *Engine) coordinator() (string, error) {
	nodes, err := e.cluster.ListNodes()
	if err != nil {
		return "", err
	}
	var oldest *types.NodeInfo
	for _, n := range nodes {
		if n.Role != types.NodeRoleServer || n.Status != types.NodeStatusReady {
			continue
		}
		if oldest == nil || n.JoinedAt.Before(oldest.JoinedAt) {
			oldest = n
		}
	}
	if oldest == nil {
		return "", fmt.Errorf("no alive server nodes")
	}
	return oldest.ID, nil
}
