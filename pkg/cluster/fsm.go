package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/gridrestore/pkg/storage"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM implements the Raft finite state machine for the restore engine's
// control plane: baseline node membership and the restore-attempt ledger.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates a new FSM instance.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command represents a state change operation in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a committed Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_node":
		var node types.NodeInfo
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.CreateNode(&node)

	case "update_node":
		var node types.NodeInfo
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.UpdateNode(&node)

	case "delete_node":
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		return f.store.DeleteNode(nodeID)

	case "put_attempt":
		var record storage.AttemptRecord
		if err := json.Unmarshal(cmd.Data, &record); err != nil {
			return err
		}
		return f.store.PutAttempt(&record)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	attempts, err := f.store.ListAttempts()
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	return &Snapshot{Nodes: nodes, Attempts: attempts}, nil
}

// Restore restores the FSM from a snapshot, e.g. when a node rejoins.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snapshot.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("failed to restore node: %w", err)
		}
	}

	for _, attempt := range snapshot.Attempts {
		if err := f.store.PutAttempt(attempt); err != nil {
			return fmt.Errorf("failed to restore attempt: %w", err)
		}
	}

	return nil
}

// Snapshot represents a point-in-time snapshot of cluster control-plane state.
type Snapshot struct {
	Nodes    []*types.NodeInfo
	Attempts []*storage.AttemptRecord
}

// Persist writes the snapshot to the given SnapshotSink.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases snapshot resources.
func (s *Snapshot) Release() {}
