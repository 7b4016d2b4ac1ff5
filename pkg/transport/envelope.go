package transport

import "encoding/json"

// Kind names which phase (or ancillary) operation an Envelope carries.
type Kind string

const (
	KindJoin             Kind = "join"
	KindPrepare          Kind = "prepare"
	KindPreload          Kind = "preload"
	KindCacheStart       Kind = "cache_start"
	KindIncrementalApply Kind = "incremental_apply"
	KindCacheStop        Kind = "cache_stop"
	KindRollback         Kind = "rollback"
	KindFinish           Kind = "finish"
	KindFetchPartitions  Kind = "fetch_partitions"
	KindRestoreStart     Kind = "restore_start"
	KindRestoreCancel    Kind = "restore_cancel"
	KindRestoreStatus    Kind = "restore_status"
)

// Envelope is the single wire message every Transport RPC carries in both
// directions: a request id for correlation, a Kind that selects the
// handler, and an opaque JSON payload specific to that kind.
type Envelope struct {
	RequestID string          `json:"requestId"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// joinPayload is KindJoin's request payload.
type joinPayload struct {
	NodeID   string `json:"nodeId"`
	BindAddr string `json:"bindAddr"`
}

// fetchPartitionsPayload is KindFetchPartitions' request payload.
type fetchPartitionsPayload struct {
	Group        string `json:"group"`
	PartitionIDs []int  `json:"partitionIds"`
}

// partitionFile carries one partition's bytes, base64-encoded by
// encoding/json's default []byte handling.
type partitionFile struct {
	PartitionID int    `json:"partitionId"`
	Index       bool   `json:"index,omitempty"`
	Data        []byte `json:"data"`
}

// fetchPartitionsResponse is KindFetchPartitions' response payload.
type fetchPartitionsResponse struct {
	Files []partitionFile `json:"files"`
}

// requestIDPayload is the common request payload for phases that carry
// only a request id (Preload, CacheStart, IncrementalApply, CacheStop,
// Rollback, Finish).
type requestIDPayload struct {
	RequestID string `json:"requestId"`
}

// restoreStartPayload is KindRestoreStart's request payload: it asks the
// node it's sent to act as the originating engine for a new restore.
type restoreStartPayload struct {
	SnapshotName     string   `json:"snapshotName"`
	Groups           []string `json:"groups"`
	IncrementalIndex int      `json:"incrementalIndex"`
}

// restoreCancelPayload is KindRestoreCancel's request payload: either a
// request id or a snapshot name, matched the same way Engine.Cancel does.
type restoreCancelPayload struct {
	RequestIDOrSnapshot string `json:"requestIdOrSnapshot"`
}

// restoreCancelResponse is KindRestoreCancel's response payload.
type restoreCancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// restoreStatusResponse is KindRestoreStatus' response payload, reporting
// the attempt in progress on this node (as originator or participant), if
// any.
type restoreStatusResponse struct {
	Restoring            bool   `json:"restoring"`
	SnapshotName         string `json:"snapshotName,omitempty"`
	Phase                string `json:"phase,omitempty"`
	ProcessedPartitions  int64  `json:"processedPartitions"`
	TotalPartitions      int64  `json:"totalPartitions"`
	ProcessedWALEntries  int64  `json:"processedWalEntries"`
	ProcessedWALSegments int64  `json:"processedWalSegments"`
	TotalWALSegments     int64  `json:"totalWalSegments"`
	Failed               bool   `json:"failed"`
	Err                  string `json:"err,omitempty"`
}
