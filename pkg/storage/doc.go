/*
Package storage persists reconciliation results in BoltDB.

The reconciler never rotates hosts itself. Each pass is written here and an
external rotation mechanism reads the latest flagged hosts per cluster.

Two buckets are used, both holding JSON values:

	passes   pass id      -> types.ReconciliationPass
	hosts    cluster name -> []types.HostToUpdate

SavePass writes both in one transaction. A cluster's host list is replaced
only when the pass checked it successfully, so a transient monitor failure
does not clear the previous recommendation.

	store, err := storage.NewBoltStore("/var/lib/cloner")
	if err != nil {
		return err
	}
	defer store.Close()

	hosts, err := store.LatestHosts("web")
*/
package storage
