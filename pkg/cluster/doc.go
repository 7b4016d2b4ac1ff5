/*
Package cluster implements the restore engine's control plane: Raft-backed
baseline node membership and a crash-safe restore-attempt ledger.

A gridrestore deployment runs 1-7 control nodes forming a Raft quorum. The
quorum does not replicate the restore protocol itself — phase transitions
travel by direct RPC between the coordinating node and participants, per
pkg/restore. What the quorum replicates is state that must survive a
control-node crash: which nodes are registered members of the cluster, and
for each in-flight restore request, which phase it reached and whether it
failed, so a restarted node can answer "what was in progress" without
re-deriving it from peers.

# Architecture

	┌─────────────────────── CLUSTER NODE ───────────────────────┐
	│                                                              │
	│  Cluster                                                    │
	│   - Apply() replicated node/attempt commands                │
	│   - CA initialize/load (cluster certificate authority)      │
	│   - event broker for restore lifecycle notifications        │
	│                     │                                        │
	│  Raft Consensus Layer                                       │
	│   - hashicorp/raft, raft-boltdb log+stable store             │
	│   - tuned for LAN failover (~2-3s)                           │
	│                     │                                        │
	│  FSM                                                        │
	│   - create_node / update_node / delete_node                 │
	│   - put_attempt (restore ledger entry)                       │
	│                     │                                        │
	│  storage.Store (BoltDB)                                     │
	└──────────────────────────────────────────────────────────────┘

# Usage

	c, err := cluster.NewCluster(&cluster.Config{NodeID: "node-1", BindAddr: ":7000", DataDir: "/var/lib/gridrestore"})
	if err := c.Bootstrap(); err != nil { ... }

	// On another node:
	c2, _ := cluster.NewCluster(&cluster.Config{NodeID: "node-2", BindAddr: ":7001", DataDir: "/var/lib/gridrestore"})
	c2.Join(leaderAddr, transportClient.RequestJoin)

Reads (ListNodes, GetAttempt) go straight to the local store; writes
(CreateNode, PutAttempt) go through Apply so every voter converges on the
same history before acknowledging.
*/
package cluster
