package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/gridrestore/pkg/cluster"
	"github.com/cuemby/gridrestore/pkg/log"
	"github.com/cuemby/gridrestore/pkg/metrics"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/rs/zerolog"
)

// heartbeatTimeout is how long a node may go without a status update before
// the reconciler marks it down.
const heartbeatTimeout = 30 * time.Second

// NodeLeftFunc is notified when a previously ready node drops out of the
// baseline topology. The restore engine registers one to install
// RequiredNodeLeft into the active attempt's error latch.
type NodeLeftFunc func(nodeID string)

// nodeStore is the slice of *cluster.Cluster the reconciler needs. Depending
// on the interface rather than the concrete type keeps the membership-left
// detection logic testable without bringing up a Raft transport.
type nodeStore interface {
	ListNodes() ([]*types.NodeInfo, error)
	UpdateNode(node *types.NodeInfo) error
}

// Reconciler is the cluster's membership listener (C10): it polls baseline
// node health and tells registered listeners when a required node leaves.
type Reconciler struct {
	cluster nodeStore
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopCh  chan struct{}

	listeners []NodeLeftFunc
	lastReady map[string]bool
}

// NewReconciler creates a new reconciler bound to a cluster.
func NewReconciler(c *cluster.Cluster) *Reconciler {
	return &Reconciler{
		cluster:   c,
		logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
		lastReady: make(map[string]bool),
	}
}

// OnNodeLeft registers a callback invoked whenever a node that was ready
// transitions away from ready. Must be called before Start.
func (r *Reconciler) OnNodeLeft(fn NodeLeftFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile performs one reconciliation cycle: refresh node liveness and
// notify listeners of any node that left the ready set since the last cycle.
func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, err := r.cluster.ListNodes()
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	now := time.Now()
	for _, node := range nodes {
		wasReady := r.lastReady[node.ID]
		isReady := node.Status == types.NodeStatusReady

		if isReady && now.Sub(node.UpdatedAt) > heartbeatTimeout {
			isReady = false
			node.Status = types.NodeStatusDown
			if err := r.cluster.UpdateNode(node); err != nil {
				r.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to mark node down")
			} else {
				r.logger.Warn().
					Str("node_id", node.ID).
					Dur("stale_for", now.Sub(node.UpdatedAt)).
					Msg("node missed heartbeat, marking down")
			}
		}

		if wasReady && !isReady {
			metrics.RequiredNodeLeftTotal.Inc()
			r.logger.Warn().Str("node_id", node.ID).Msg("required node left")
			for _, fn := range r.listeners {
				fn(node.ID)
			}
		}

		r.lastReady[node.ID] = isReady
	}

	return nil
}
