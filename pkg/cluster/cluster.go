package cluster

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/gridrestore/pkg/events"
	"github.com/cuemby/gridrestore/pkg/log"
	"github.com/cuemby/gridrestore/pkg/metrics"
	"github.com/cuemby/gridrestore/pkg/security"
	"github.com/cuemby/gridrestore/pkg/storage"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Cluster is a restore-engine node's control plane: it replicates baseline
// node membership and the crash-safe restore-attempt ledger through Raft,
// and owns the cluster certificate authority used to mint transport mTLS
// certificates.
type Cluster struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	fsm         *FSM
	store       storage.Store
	ca          *security.CertAuthority
	eventBroker *events.Broker

	log zerolog.Logger
}

// Config holds configuration for creating a Cluster.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewCluster creates a new Cluster instance.
func NewCluster(cfg *Config) (*Cluster, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewFSM(store)

	clusterKey := security.DeriveKeyFromClusterID(cfg.NodeID)
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		return nil, fmt.Errorf("failed to set cluster encryption key: %w", err)
	}

	ca := security.NewCertAuthority(store)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	return &Cluster{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		fsm:         fsm,
		store:       store,
		ca:          ca,
		eventBroker: eventBroker,
		log:         log.WithComponent("cluster"),
	}, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tuned for LAN-scale restore clusters rather than Raft's WAN-oriented
	// defaults: failover should complete well under the time a large
	// partition-set restore takes to stage.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (c *Cluster) newRaft() (*raft.Raft, raft.ServerAddress, error) {
	config := raftConfig(c.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", c.bindAddr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(c.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(c.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.dataDir, "raft-log.db"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, c.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create raft: %w", err)
	}

	return r, transport.LocalAddr(), nil
}

// Bootstrap initializes a new single-node Raft cluster and the cluster CA.
func (c *Cluster) Bootstrap() error {
	r, localAddr, err := c.newRaft()
	if err != nil {
		return err
	}
	c.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(c.nodeID), Address: localAddr},
		},
	}
	future := c.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	if err := c.initializeCA(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}

	return nil
}

// Join starts this node's Raft instance and, through the supplied callback,
// asks the current leader to add it as a voter. Decoupling the RPC from
// this package keeps pkg/cluster independent of pkg/transport — the caller
// (cmd/gridrestore) wires requestJoin to a transport.Client call.
func (c *Cluster) Join(leaderAddr string, requestJoin func(leaderAddr, nodeID, bindAddr string) error) error {
	r, _, err := c.newRaft()
	if err != nil {
		return err
	}
	c.raft = r

	if err := requestJoin(leaderAddr, c.nodeID, c.bindAddr); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}

	if err := c.ca.LoadFromStore(); err != nil {
		return fmt.Errorf("failed to load CA: %w", err)
	}

	return c.ensureOwnCertificate()
}

// AddVoter adds a new node to the Raft cluster. Only the leader may call this.
func (c *Cluster) AddVoter(nodeID, address string) error {
	if c.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !c.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", c.LeaderAddr())
	}

	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer removes a node from the Raft cluster.
func (c *Cluster) RemoveServer(nodeID string) error {
	if c.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !c.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	future := c.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// GetClusterServers returns the current Raft configuration's server list.
func (c *Cluster) GetClusterServers() ([]raft.Server, error) {
	if c.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := c.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader returns true if this node is the Raft leader.
func (c *Cluster) IsLeader() bool {
	return c.raft != nil && c.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader.
func (c *Cluster) LeaderAddr() string {
	if c.raft == nil {
		return ""
	}
	return string(c.raft.Leader())
}

// GetRaftStats returns a snapshot of Raft statistics.
func (c *Cluster) GetRaftStats() map[string]interface{} {
	if c.raft == nil {
		return nil
	}

	stats := map[string]interface{}{
		"state":         c.raft.State().String(),
		"last_log_index": c.raft.LastIndex(),
		"applied_index":  c.raft.AppliedIndex(),
		"leader":         string(c.raft.Leader()),
	}

	if configFuture := c.raft.GetConfiguration(); configFuture.Error() == nil {
		stats["peers"] = uint64(len(configFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}

	return stats
}

// GetEventBroker returns the event broker.
func (c *Cluster) GetEventBroker() *events.Broker {
	return c.eventBroker
}

// PublishEvent publishes an event to all subscribers.
func (c *Cluster) PublishEvent(event *events.Event) {
	if c.eventBroker != nil {
		c.eventBroker.Publish(event)
	}
}

// Apply submits a replicated command to the Raft log.
func (c *Cluster) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	if c.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := c.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

// CreateNode registers a node through the replicated log.
func (c *Cluster) CreateNode(node *types.NodeInfo) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return c.Apply(Command{Op: "create_node", Data: data})
}

// UpdateNode updates a node through the replicated log.
func (c *Cluster) UpdateNode(node *types.NodeInfo) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return c.Apply(Command{Op: "update_node", Data: data})
}

// DeleteNode removes a node through the replicated log.
func (c *Cluster) DeleteNode(id string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return c.Apply(Command{Op: "delete_node", Data: data})
}

// GetNode reads a node from the local store.
func (c *Cluster) GetNode(id string) (*types.NodeInfo, error) {
	return c.store.GetNode(id)
}

// ListNodes reads every known node from the local store.
func (c *Cluster) ListNodes() ([]*types.NodeInfo, error) {
	return c.store.ListNodes()
}

// PutAttempt writes a restore-attempt ledger entry through the replicated log.
func (c *Cluster) PutAttempt(record *storage.AttemptRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.Apply(Command{Op: "put_attempt", Data: data})
}

// GetAttempt reads a ledger entry from the local store.
func (c *Cluster) GetAttempt(requestID string) (*storage.AttemptRecord, error) {
	return c.store.GetAttempt(requestID)
}

// ListAttempts reads every ledger entry from the local store.
func (c *Cluster) ListAttempts() ([]*storage.AttemptRecord, error) {
	return c.store.ListAttempts()
}

// NodeID returns this node's identity.
func (c *Cluster) NodeID() string {
	return c.nodeID
}

// Shutdown gracefully stops Raft, the event broker and the local store.
func (c *Cluster) Shutdown() error {
	if c.eventBroker != nil {
		c.eventBroker.Stop()
	}

	if c.raft != nil {
		if err := c.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}

// initializeCA initializes or loads the cluster certificate authority, and
// issues this node's own certificate the first time it is bootstrapped.
func (c *Cluster) initializeCA() error {
	if c.ca.IsInitialized() {
		return c.ensureOwnCertificate()
	}

	if err := c.ca.LoadFromStore(); err == nil {
		c.log.Info().Msg("loaded existing certificate authority")
		return c.ensureOwnCertificate()
	}

	c.log.Info().Msg("initializing new certificate authority")
	if err := c.ca.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}
	if err := c.ca.SaveToStore(); err != nil {
		return fmt.Errorf("failed to save CA: %w", err)
	}

	return c.ensureOwnCertificate()
}

// ensureOwnCertificate issues and persists this node's own transport
// certificate, if one hasn't already been saved locally.
func (c *Cluster) ensureOwnCertificate() error {
	certDir, err := security.GetCertDir("node", c.nodeID)
	if err != nil {
		return fmt.Errorf("failed to get cert directory: %w", err)
	}

	if security.CertExists(certDir) {
		return nil
	}

	host, _, err := net.SplitHostPort(c.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to parse bind address: %w", err)
	}
	var ipAddresses []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ipAddresses = []net.IP{ip}
	}

	dnsNames := []string{fmt.Sprintf("node-%s", c.nodeID), "localhost"}

	cert, err := c.ca.IssueNodeCertificate(c.nodeID, "node", dnsNames, ipAddresses)
	if err != nil {
		return fmt.Errorf("failed to issue node certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	if err := security.SaveCACertToFile(c.ca.GetRootCACert(), certDir); err != nil {
		return fmt.Errorf("failed to save CA certificate: %w", err)
	}

	c.log.Info().Str("cert_dir", certDir).Msg("issued node certificate")
	return nil
}

// IssueCertificate issues a client certificate for a peer node.
func (c *Cluster) IssueCertificate(nodeID, role string) (*tls.Certificate, error) {
	if !c.ca.IsInitialized() {
		return nil, fmt.Errorf("CA not initialized")
	}
	return c.ca.IssueNodeCertificate(nodeID, role, nil, nil)
}

// OwnCertificate loads this node's own transport certificate, issued by
// ensureOwnCertificate the first time the cluster was bootstrapped or joined.
func (c *Cluster) OwnCertificate() (*tls.Certificate, error) {
	certDir, err := security.GetCertDir("node", c.nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cert directory: %w", err)
	}
	return security.LoadCertFromFile(certDir)
}

// RootCACert returns the cluster root certificate authority, used to verify
// peers over mTLS.
func (c *Cluster) RootCACert() (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(c.ca.GetRootCACert())
	if err != nil {
		return nil, fmt.Errorf("failed to parse root CA certificate: %w", err)
	}
	return cert, nil
}
