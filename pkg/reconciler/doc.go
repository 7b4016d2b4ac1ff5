/*
Package reconciler is the restore engine's membership listener (C10).

It polls the replicated baseline node list every 10 seconds, marks a node
down when it has gone quiet past heartbeatTimeout, and notifies any
registered NodeLeftFunc the first time a previously ready node stops
being ready. pkg/restore registers a listener that installs
RequiredNodeLeft into the active attempt's error latch so the next
phase finisher rolls back.

# Usage

	r := reconciler.NewReconciler(cluster)
	r.OnNodeLeft(func(nodeID string) {
		engine.OnNodeLeft(nodeID)
	})
	r.Start()
	defer r.Stop()

Each cycle is timed with metrics.NewTimer into
ReconciliationDuration/ReconciliationCyclesTotal; a detected departure
increments RequiredNodeLeftTotal.
*/
package reconciler
