package restore

import "github.com/cuemby/gridrestore/pkg/types"

// OperationRequest is the Prepare-phase wire record (C9): everything a
// participant needs to plan its share of the restore.
type OperationRequest struct {
	RequestID        string   `json:"requestId"`
	OriginatorNodeID string   `json:"originatorNodeId"`
	SnapshotName     string   `json:"snapshotName"`
	SnapshotPath     string   `json:"snapshotPath,omitempty"`
	Groups           []string `json:"groups,omitempty"`
	Baseline         []string `json:"baseline"`
	IncrementalIndex int      `json:"incrementalIndex"`
	OnlyPrimary      bool     `json:"onlyPrimary"`
}

// PrepareResponse is what each participant answers Prepare with.
type PrepareResponse struct {
	NodeID   string                    `json:"nodeId"`
	Configs  []*types.CacheConfig      `json:"configs"`
	Metadata []*types.SnapshotMetadata `json:"metadata"`
}
