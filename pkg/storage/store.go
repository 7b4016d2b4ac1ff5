package storage

import "github.com/cuemby/gridrestore/pkg/types"

// AttemptRecord is the crash-safe ledger entry for one restore attempt,
// replicated through the cluster's raft log and mirrored into the local
// store so a restarted node can answer "what was in flight" without
// re-deriving it from peers.
type AttemptRecord struct {
	RequestID        string
	SnapshotName     string
	Groups           []string
	IncrementalIndex int
	Phase            string
	Error            string
	StartedAt        int64
	FinishedAt       int64
}

// Store defines local persistent storage for the engine: the baseline node
// registry, the restore-attempt ledger, and the cluster certificate
// authority's encrypted root material.
type Store interface {
	// Nodes — baseline cluster membership, mirrored from raft.
	CreateNode(node *types.NodeInfo) error
	GetNode(id string) (*types.NodeInfo, error)
	ListNodes() ([]*types.NodeInfo, error)
	UpdateNode(node *types.NodeInfo) error
	DeleteNode(id string) error

	// Attempts — the restore-attempt ledger (one record per requestId).
	PutAttempt(record *AttemptRecord) error
	GetAttempt(requestID string) (*AttemptRecord, error)
	ListAttempts() ([]*AttemptRecord, error)

	// Certificate Authority.
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	Close() error
}
