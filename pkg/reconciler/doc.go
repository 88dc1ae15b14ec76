/*
Package reconciler decides which cloned hosts should be rotated out of traffic.

Checker compares each cluster's configured host domains with the HAProxy
snapshot of the cluster's monitor. The lookup key is the first label of the
domain. A host is flagged when:

  - it is absent from the backend ("Not found host <domain> in proxy"), or
  - it is DOWN and downtime/60 exceeds the cluster's max downtime in minutes
    ("Host <domain> is DOWN longer than <n> minutes").

Clusters are checked in parallel. A cluster whose monitor has no snapshot
fails on its own and is reported in Report.Errors.

Reconciler runs a Checker periodically. Each pass refreshes the monitors,
re-reads the cluster policies and stores the result through storage.Store,
where the external rotation mechanism picks it up. The reconciler never
changes the cluster configuration itself.
*/
package reconciler
