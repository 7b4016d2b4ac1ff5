/*
Package storage provides BoltDB-backed persistence for one node's local
state: the baseline node registry mirrored from raft, the restore-attempt
ledger, and the cluster certificate authority's encrypted root material.

BoltStore implements Store with one bucket per kind (nodes, attempts, ca),
each entry JSON-marshaled under its natural key — node id for nodes,
request id for attempts. Reads use db.View, writes db.Update; BoltDB
serializes writers and fsyncs on commit, so a crash mid-attempt leaves the
last-committed AttemptRecord intact for pkg/cluster's FSM to replay on
restart.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.PutAttempt(&storage.AttemptRecord{
		RequestID:    requestID,
		SnapshotName: "snapshot-2026-07-30",
		Phase:        string(restore.PhasePreload),
	})

# See Also

  - pkg/cluster for the raft FSM that writes through this store
  - pkg/restore for AttemptRecord's producer
  - pkg/security for the CA material this store persists
*/
package storage
