package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/gridrestore/pkg/log"
	"github.com/cuemby/gridrestore/pkg/restore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// AddressResolver maps a node id to its transport dial address; backed by
// the cluster's baseline node registry.
type AddressResolver func(nodeID string) (string, error)

// Client dials peer nodes over mTLS and speaks the Transport service.
// It is the concrete implementation behind pkg/cluster.Join's requestJoin
// callback, pkg/stage.RemoteFetcher, and pkg/restore.PhasePeer for remote
// nodes — the same client, three different dependency-inversion seams.
type Client struct {
	nodeID  string
	resolve AddressResolver
	tlsConf *tls.Config
	log     zerolog.Logger

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewClient creates a Client. cert is this node's own certificate, caCert
// the cluster root used to verify peers.
func NewClient(nodeID string, resolve AddressResolver, cert *tls.Certificate, caCert *x509.Certificate) *Client {
	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)
	return &Client{
		nodeID:  nodeID,
		resolve: resolve,
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{*cert},
			RootCAs:      certPool,
			MinVersion:   tls.VersionTLS13,
		},
		log:   log.WithComponent("transport"),
		conns: make(map[string]*grpc.ClientConn),
	}
}

func (c *Client) connFor(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	creds := credentials.NewTLS(c.tlsConf)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	if err != nil {
		return nil, fmt.Errorf("failed to dial transport peer %s: %w", addr, err)
	}
	c.conns[addr] = conn
	return conn, nil
}

// invoke sends env to addr and returns the peer's response envelope,
// turning a non-empty Envelope.Error into a Go error.
func (c *Client) invoke(ctx context.Context, addr string, env *Envelope) (*Envelope, error) {
	conn, err := c.connFor(addr)
	if err != nil {
		return nil, err
	}
	resp := new(Envelope)
	if err := conn.Invoke(ctx, "/"+serviceName+"/"+methodName, env, resp); err != nil {
		return nil, fmt.Errorf("transport invoke to %s failed: %w", addr, err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func (c *Client) invokeNode(ctx context.Context, nodeID string, env *Envelope) (*Envelope, error) {
	addr, err := c.resolve(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address for node %s: %w", nodeID, err)
	}
	return c.invoke(ctx, addr, env)
}

// RequestJoin implements the callback shape pkg/cluster.Cluster.Join
// expects: ask leaderAddr to add (nodeID, bindAddr) as a new raft voter.
func (c *Client) RequestJoin(leaderAddr, nodeID, bindAddr string) error {
	payload, _ := json.Marshal(joinPayload{NodeID: nodeID, BindAddr: bindAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.invoke(ctx, leaderAddr, &Envelope{RequestID: uuid.NewString(), Kind: KindJoin, Payload: payload})
	return err
}

// FetchPartitions implements pkg/stage.RemoteFetcher: request partition
// files (and the index, if present) from peerNodeID and write them into
// destDir.
func (c *Client) FetchPartitions(ctx context.Context, peerNodeID, group string, partIDs []int, destDir string) error {
	payload, _ := json.Marshal(fetchPartitionsPayload{Group: group, PartitionIDs: partIDs})
	resp, err := c.invokeNode(ctx, peerNodeID, &Envelope{
		RequestID: uuid.NewString(),
		Kind:      KindFetchPartitions,
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	var fr fetchPartitionsResponse
	if err := json.Unmarshal(resp.Payload, &fr); err != nil {
		return fmt.Errorf("malformed fetch-partitions response: %w", err)
	}
	for _, f := range fr.Files {
		name := fmt.Sprintf("part-%d", f.PartitionID)
		if f.Index {
			name = "part-index"
		}
		if err := os.WriteFile(filepath.Join(destDir, name), f.Data, 0644); err != nil {
			return fmt.Errorf("failed to write fetched partition %s: %w", name, err)
		}
	}
	return nil
}

// RestoreStart asks addr's node to originate a new restore attempt for
// snapshotName across groups, optionally applying WAL segments up through
// incrementalIndex. Used by the CLI's "restore start" command, which
// dials a node directly rather than through the baseline registry.
func (c *Client) RestoreStart(ctx context.Context, addr, snapshotName string, groups []string, incrementalIndex int) error {
	payload, _ := json.Marshal(restoreStartPayload{SnapshotName: snapshotName, Groups: groups, IncrementalIndex: incrementalIndex})
	_, err := c.invoke(ctx, addr, &Envelope{RequestID: uuid.NewString(), Kind: KindRestoreStart, Payload: payload})
	return err
}

// RestoreCancel asks addr's node to cancel the restore attempt identified
// by requestIDOrSnapshot, reporting whether anything was actually
// cancelled.
func (c *Client) RestoreCancel(ctx context.Context, addr, requestIDOrSnapshot string) (bool, error) {
	payload, _ := json.Marshal(restoreCancelPayload{RequestIDOrSnapshot: requestIDOrSnapshot})
	resp, err := c.invoke(ctx, addr, &Envelope{RequestID: uuid.NewString(), Kind: KindRestoreCancel, Payload: payload})
	if err != nil {
		return false, err
	}
	var cr restoreCancelResponse
	if err := json.Unmarshal(resp.Payload, &cr); err != nil {
		return false, fmt.Errorf("malformed restore-cancel response: %w", err)
	}
	return cr.Cancelled, nil
}

// RestoreStatus reports addr's node's current restore attempt, if any, as
// a plain map suitable for CLI output or JSON rendering.
func (c *Client) RestoreStatus(ctx context.Context, addr string) (map[string]any, error) {
	resp, err := c.invoke(ctx, addr, &Envelope{RequestID: uuid.NewString(), Kind: KindRestoreStatus})
	if err != nil {
		return nil, err
	}
	var sr restoreStatusResponse
	if err := json.Unmarshal(resp.Payload, &sr); err != nil {
		return nil, fmt.Errorf("malformed restore-status response: %w", err)
	}
	out := map[string]any{
		"restoring": sr.Restoring,
	}
	if sr.Restoring {
		out["snapshotName"] = sr.SnapshotName
		out["phase"] = sr.Phase
		out["processedPartitions"] = sr.ProcessedPartitions
		out["totalPartitions"] = sr.TotalPartitions
		out["processedWalEntries"] = sr.ProcessedWALEntries
		out["processedWalSegments"] = sr.ProcessedWALSegments
		out["totalWalSegments"] = sr.TotalWALSegments
		out["failed"] = sr.Failed
		if sr.Err != "" {
			out["err"] = sr.Err
		}
	}
	return out, nil
}

// PeerFor resolves a restore.PhasePeer for a remote node, to be installed
// via restore.Engine.SetPeerResolver.
func (c *Client) PeerFor(nodeID string) restore.PhasePeer {
	return &remotePeer{client: c, nodeID: nodeID}
}

// remotePeer implements restore.PhasePeer by round-tripping each phase
// call through the Transport service.
type remotePeer struct {
	client *Client
	nodeID string
}

func (p *remotePeer) NodeID() string { return p.nodeID }

func (p *remotePeer) Prepare(ctx context.Context, req *restore.OperationRequest) (*restore.PrepareResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.invokeNode(ctx, p.nodeID, &Envelope{RequestID: req.RequestID, Kind: KindPrepare, Payload: payload})
	if err != nil {
		return nil, err
	}
	var out restore.PrepareResponse
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		return nil, fmt.Errorf("malformed prepare response from %s: %w", p.nodeID, err)
	}
	return &out, nil
}

func (p *remotePeer) Preload(ctx context.Context, requestID string) error {
	return p.simplePhase(ctx, KindPreload, requestID)
}

func (p *remotePeer) CacheStart(ctx context.Context, requestID string) error {
	return p.simplePhase(ctx, KindCacheStart, requestID)
}

func (p *remotePeer) IncrementalApply(ctx context.Context, requestID string) error {
	return p.simplePhase(ctx, KindIncrementalApply, requestID)
}

func (p *remotePeer) CacheStop(ctx context.Context, requestID string) error {
	return p.simplePhase(ctx, KindCacheStop, requestID)
}

func (p *remotePeer) Rollback(ctx context.Context, requestID string) error {
	return p.simplePhase(ctx, KindRollback, requestID)
}

func (p *remotePeer) Finish(ctx context.Context, requestID string) error {
	return p.simplePhase(ctx, KindFinish, requestID)
}

func (p *remotePeer) simplePhase(ctx context.Context, kind Kind, requestID string) error {
	payload, _ := json.Marshal(requestIDPayload{RequestID: requestID})
	_, err := p.client.invokeNode(ctx, p.nodeID, &Envelope{RequestID: requestID, Kind: kind, Payload: payload})
	return err
}
