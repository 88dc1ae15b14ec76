/*
Package types defines the data model shared by the cloner packages.

Two documents are modelled here. Configuration describes a single traffic
cloning run: where traffic is captured (Input), which URL paths pass the
filter, and where the captured requests are replayed (Output). ClusterConfig
is the operator-maintained inventory of clusters, the hosts cloned inside
each cluster, and the HAProxy stats sources that report on them.

# Configuration

	{
	  "version": 2,
	  "input": {
	    "type": "raw",
	    "port": 8080,
	    "paths": {"allow": ["/api"], "disallow": [], "rewrite": ["^/v1:/v2"]}
	  },
	  "output": {
	    "http": {"hosts": ["http://shadow:8080", {"host": "http://canary", "rate": "10%"}],
	             "rate": "50%", "workers": 4},
	    "split_traffic": false,
	    "stdout": false
	  },
	  "finish_after": "30m",
	  "extra_args": {"--output-http-timeout": "5s"}
	}

Output hosts accept either a bare string or an object carrying a per-host
rate. Version 1 documents kept split_traffic under output.http; pkg/config
migrates them when loading.

# Cluster configuration

A Cluster maps host domains to ClusterHost entries and names the HAProxy
monitor and backend that report their health. Cluster.Policy turns a cluster
into the ClusterHealthPolicy consumed by pkg/reconciler, and the reconciler
answers with HostToUpdate records.
*/
package types
