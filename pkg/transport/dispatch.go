package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/gridrestore/pkg/restore"
)

// engine is the subset of restore.Engine the dispatcher needs, kept
// narrow so it can be faked in tests without a fully wired Engine.
type engine interface {
	HandlePrepare(ctx context.Context, req *restore.OperationRequest) (*restore.PrepareResponse, error)
	HandlePreload(ctx context.Context, requestID string) error
	HandleCacheStart(ctx context.Context, requestID string) error
	HandleIncrementalApply(ctx context.Context, requestID string) error
	HandleCacheStop(ctx context.Context, requestID string) error
	HandleRollback(ctx context.Context, requestID string) error
	HandleFinish(ctx context.Context, requestID string) error
	Start(ctx context.Context, snapshotName string, groups []string, incrementalIndex int) error
	Cancel(ctx context.Context, requestIDOrSnapshot string) bool
	CurrentContext() *restore.Context
}

// partitionReader supplies local partition bytes for a KindFetchPartitions
// request — implemented by a thin adapter over pkg/snapshot.Layout at
// wiring time.
type partitionReader interface {
	ReadPartitions(group string, partIDs []int) (data map[int][]byte, index []byte, err error)
}

// joinHandler is satisfied by pkg/cluster.Cluster: adding a new raft
// voter in response to a KindJoin envelope.
type joinHandler interface {
	AddVoter(nodeID, address string) error
}

// EngineDispatcher implements Dispatcher by routing each Envelope.Kind to
// the right collaborator: restore phases to the engine, joins to the
// cluster, and partition fetches to the local snapshot layout.
type EngineDispatcher struct {
	Engine    engine
	Cluster   joinHandler
	Partition partitionReader
}

// Dispatch implements Dispatcher.
func (d *EngineDispatcher) Dispatch(ctx context.Context, env *Envelope) (*Envelope, error) {
	switch env.Kind {
	case KindJoin:
		return d.handleJoin(env)
	case KindPrepare:
		return d.handlePrepare(ctx, env)
	case KindPreload:
		return d.handleSimple(ctx, env, d.Engine.HandlePreload)
	case KindCacheStart:
		return d.handleSimple(ctx, env, d.Engine.HandleCacheStart)
	case KindIncrementalApply:
		return d.handleSimple(ctx, env, d.Engine.HandleIncrementalApply)
	case KindCacheStop:
		return d.handleSimple(ctx, env, d.Engine.HandleCacheStop)
	case KindRollback:
		return d.handleSimple(ctx, env, d.Engine.HandleRollback)
	case KindFinish:
		return d.handleSimple(ctx, env, d.Engine.HandleFinish)
	case KindFetchPartitions:
		return d.handleFetchPartitions(env)
	case KindRestoreStart:
		return d.handleRestoreStart(ctx, env)
	case KindRestoreCancel:
		return d.handleRestoreCancel(ctx, env)
	case KindRestoreStatus:
		return d.handleRestoreStatus(env)
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
}

func (d *EngineDispatcher) handleJoin(env *Envelope) (*Envelope, error) {
	var p joinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed join payload: %w", err)
	}
	if err := d.Cluster.AddVoter(p.NodeID, p.BindAddr); err != nil {
		return nil, err
	}
	return &Envelope{RequestID: env.RequestID, Kind: env.Kind}, nil
}

func (d *EngineDispatcher) handlePrepare(ctx context.Context, env *Envelope) (*Envelope, error) {
	var req restore.OperationRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed prepare payload: %w", err)
	}
	resp, err := d.Engine.HandlePrepare(ctx, &req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &Envelope{RequestID: env.RequestID, Kind: env.Kind, Payload: payload}, nil
}

func (d *EngineDispatcher) handleSimple(ctx context.Context, env *Envelope, fn func(context.Context, string) error) (*Envelope, error) {
	var p requestIDPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed request-id payload: %w", err)
	}
	if err := fn(ctx, p.RequestID); err != nil {
		return nil, err
	}
	return &Envelope{RequestID: env.RequestID, Kind: env.Kind}, nil
}

func (d *EngineDispatcher) handleRestoreStart(ctx context.Context, env *Envelope) (*Envelope, error) {
	var p restoreStartPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed restore-start payload: %w", err)
	}
	if err := d.Engine.Start(ctx, p.SnapshotName, p.Groups, p.IncrementalIndex); err != nil {
		return nil, err
	}
	return &Envelope{RequestID: env.RequestID, Kind: env.Kind}, nil
}

func (d *EngineDispatcher) handleRestoreCancel(ctx context.Context, env *Envelope) (*Envelope, error) {
	var p restoreCancelPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed restore-cancel payload: %w", err)
	}
	cancelled := d.Engine.Cancel(ctx, p.RequestIDOrSnapshot)
	payload, err := json.Marshal(restoreCancelResponse{Cancelled: cancelled})
	if err != nil {
		return nil, err
	}
	return &Envelope{RequestID: env.RequestID, Kind: env.Kind, Payload: payload}, nil
}

func (d *EngineDispatcher) handleRestoreStatus(env *Envelope) (*Envelope, error) {
	resp := restoreStatusResponse{}
	if rc := d.Engine.CurrentContext(); rc != nil && rc.EndTime().IsZero() {
		resp.Restoring = true
		resp.SnapshotName = rc.SnapshotName
		resp.Phase = string(rc.CurrentPhase())
		resp.ProcessedPartitions = rc.ProcessedPartitions()
		resp.TotalPartitions = rc.TotalPartitions()
		resp.ProcessedWALEntries = rc.ProcessedWALEntries()
		resp.ProcessedWALSegments = rc.ProcessedWALSegments()
		resp.TotalWALSegments = rc.TotalWALSegments()
		resp.Failed = rc.Failed()
		if err := rc.Err(); err != nil {
			resp.Err = err.Error()
		}
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &Envelope{RequestID: env.RequestID, Kind: env.Kind, Payload: payload}, nil
}

func (d *EngineDispatcher) handleFetchPartitions(env *Envelope) (*Envelope, error) {
	var p fetchPartitionsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed fetch-partitions payload: %w", err)
	}
	data, index, err := d.Partition.ReadPartitions(p.Group, p.PartitionIDs)
	if err != nil {
		return nil, err
	}
	resp := fetchPartitionsResponse{}
	for _, partID := range p.PartitionIDs {
		if bytes, ok := data[partID]; ok {
			resp.Files = append(resp.Files, partitionFile{PartitionID: partID, Data: bytes})
		}
	}
	if index != nil {
		resp.Files = append(resp.Files, partitionFile{Index: true, Data: index})
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &Envelope{RequestID: env.RequestID, Kind: env.Kind, Payload: payload}, nil
}
