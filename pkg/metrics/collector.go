package metrics

import (
	"time"

	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/hashicorp/raft"
)

// clusterSource is the slice of *cluster.Cluster the collector samples.
// Depending on the interface rather than the concrete type keeps pkg/metrics
// from importing pkg/cluster, which itself imports pkg/metrics.
type clusterSource interface {
	ListNodes() ([]*types.NodeInfo, error)
	IsLeader() bool
	GetRaftStats() map[string]interface{}
	GetClusterServers() ([]raft.Server, error)
}

// Collector periodically samples cluster and raft state into gauges.
type Collector struct {
	cluster clusterSource
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(c clusterSource) *Collector {
	return &Collector{
		cluster: c,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.cluster.ListNodes()
	if err != nil {
		return
	}

	nodeCounts := make(map[string]map[string]int)
	for _, node := range nodes {
		role := string(node.Role)
		status := string(node.Status)

		if nodeCounts[role] == nil {
			nodeCounts[role] = make(map[string]int)
		}
		nodeCounts[role][status]++
	}

	for role, statuses := range nodeCounts {
		for status, count := range statuses {
			NodesTotal.WithLabelValues(role, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.cluster.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.cluster.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if servers, err := c.cluster.GetClusterServers(); err == nil {
		RaftPeers.Set(float64(len(servers)))
	}
}
