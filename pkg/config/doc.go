/*
Package config loads cloner and cluster configuration documents.

Both documents may be JSON or YAML; the file extension decides. Decoding is
strict: a document is first read into a generic map, migrated to the current
schema version, then decoded with unknown fields disallowed.

# Versions

Version 1 cloner documents carried split_traffic under output.http. Migrate
moves it to output.split_traffic and stamps version 2. Documents without a
version are treated as version 1.

# Cluster configuration

ClusterManager reads, edits and writes the cluster document:

	{
	    "clusters": {
	        "web": {
	            "name": "web",
	            "haproxy_monitor": "edge",
	            "haproxy_backend_name": "web_backend",
	            "updater_enabled": true,
	            "hosts": {
	                "web1.example.com": {"host_domain": "web1.example.com", "target_hosts": ["http://staging"]}
	            }
	        }
	    },
	    "haproxy_monitors": {"edge": {"name": "edge", "url": "http://lb:9000/stats;csv"}},
	    "replayers": {}
	}

Host domains are unique across clusters. Writes go to a temporary file that
is renamed over the target.
*/
package config
