/*
Package haproxy loads HAProxy stats feeds into immutable snapshots.

The feed is the CSV produced by "show stat" or the stats page ";csv"
endpoint. Its first column is the backend name; rows are grouped by it,
regardless of feed order. The columns svname, scur, smax, bck, status,
lastchg and downtime are required.

Parsing is lenient for numbers and strict for everything else:

  - unparsable or negative numbers become 0
  - a status other than UP, DOWN or OPEN fails the whole load
  - missing columns or ragged rows fail with ErrMalformedSnapshot

Rows with bck=1 are backend aggregates and are dropped unless
Options.IncludeBackend is set.

A Monitor holds the last good snapshot of one source and swaps it atomically
on a successful Refresh. A Registry maps monitor names, as used by cluster
configuration, to monitors.
*/
package haproxy
