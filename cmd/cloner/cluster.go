package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/cuemby/cloner/pkg/config"
	"github.com/cuemby/cloner/pkg/types"
	"github.com/cuemby/cloner/pkg/validate"
	"github.com/spf13/cobra"
)

// Cluster commands
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the cluster configuration file",
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters and their hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := readClusters(cmd, false)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CLUSTER\tMONITOR\tBACKEND\tRECONCILE\tHOST\tPORT\tTARGETS")
		for _, name := range mgr.ClusterNames() {
			cluster, err := mgr.Cluster(name)
			if err != nil {
				return err
			}
			domains := cluster.HostDomains()
			if len(domains) == 0 {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t-\t-\t-\n",
					name, cluster.HAProxyMonitor, cluster.HAProxyBackendName, cluster.UpdaterEnabled)
				continue
			}
			for _, domain := range domains {
				host := cluster.Hosts[domain]
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\t%d\n",
					name, cluster.HAProxyMonitor, cluster.HAProxyBackendName, cluster.UpdaterEnabled,
					domain, host.ListenPort, len(host.TargetHosts))
			}
		}
		return w.Flush()
	},
}

var clusterAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := readClusters(cmd, true)
		if err != nil {
			return err
		}
		monitor, _ := cmd.Flags().GetString("monitor")
		backend, _ := cmd.Flags().GetString("backend")
		reconcile, _ := cmd.Flags().GetBool("reconcile")
		alwaysRunning, _ := cmd.Flags().GetBool("always-running")

		cluster := &types.Cluster{
			Name:               args[0],
			HAProxyMonitor:     monitor,
			HAProxyBackendName: backend,
			UpdaterEnabled:     reconcile,
			AlwaysRunning:      alwaysRunning,
		}
		if cmd.Flags().Changed("max-downtime") {
			maxDowntime, _ := cmd.Flags().GetInt("max-downtime")
			if maxDowntime < 0 {
				return fmt.Errorf("--max-downtime must not be negative")
			}
			cluster.MaxDowntimeMinutes = &maxDowntime
		}
		if err := mgr.AddCluster(cluster); err != nil {
			return err
		}
		return writeClusters(mgr)
	},
}

var clusterAddHostCmd = &cobra.Command{
	Use:   "add-host CLUSTER DOMAIN",
	Short: "Add a cloned host to a cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := readClusters(cmd, false)
		if err != nil {
			return err
		}
		domain := args[1]
		if !validate.Hostname(domain) {
			return fmt.Errorf("invalid host domain: %s", domain)
		}

		host := types.NewClusterHost(domain)
		host.TargetHosts, _ = cmd.Flags().GetStringSlice("target")
		host.AllowURLPaths, _ = cmd.Flags().GetStringSlice("allow")
		host.DisallowURLPaths, _ = cmd.Flags().GetStringSlice("disallow")
		host.URLRewritePaths, _ = cmd.Flags().GetStringSlice("rewrite")
		host.ListenPort, _ = cmd.Flags().GetInt("port")
		host.TrafficRate, _ = cmd.Flags().GetString("rate")
		host.HTTPTimeout, _ = cmd.Flags().GetString("http-timeout")
		host.ContextPath, _ = cmd.Flags().GetString("context-path")
		host.SaveResponses, _ = cmd.Flags().GetBool("save-responses")

		if err := validateHost(host); err != nil {
			return err
		}

		if err := mgr.AddHost(args[0], host); err != nil {
			return err
		}
		return writeClusters(mgr)
	},
}

var clusterRemoveHostCmd = &cobra.Command{
	Use:   "remove-host CLUSTER DOMAIN",
	Short: "Remove a host from a cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := readClusters(cmd, false)
		if err != nil {
			return err
		}
		if err := mgr.RemoveHost(args[0], args[1]); err != nil {
			return err
		}
		return writeClusters(mgr)
	},
}

var clusterAddMonitorCmd = &cobra.Command{
	Use:   "add-monitor NAME URL",
	Short: "Register an HAProxy stats CSV source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := readClusters(cmd, true)
		if err != nil {
			return err
		}
		if err := mgr.AddMonitor(&types.HAProxyMonitor{Name: args[0], URL: args[1]}); err != nil {
			return err
		}
		return writeClusters(mgr)
	},
}

var clusterConfigCmd = &cobra.Command{
	Use:   "config CLUSTER DOMAIN",
	Short: "Print the cloner configuration that replays a host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := readClusters(cmd, false)
		if err != nil {
			return err
		}
		host, err := mgr.Host(args[0], args[1])
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			return config.Encode(os.Stdout, config.FormatJSON, host.Configuration())
		}
		return config.WriteFile(out, host.Configuration())
	},
}

func init() {
	clusterCmd.PersistentFlags().String("file", "clusters.json", "Cluster configuration file (JSON or YAML)")

	clusterAddCmd.Flags().String("monitor", "", "HAProxy monitor name")
	clusterAddCmd.Flags().String("backend", "", "HAProxy backend name")
	clusterAddCmd.Flags().Bool("reconcile", false, "Enable DOWN host reconciliation")
	clusterAddCmd.Flags().Bool("always-running", false, "Keep the cloner of every host running")
	clusterAddCmd.Flags().Int("max-downtime", 0, "Maximum DOWN minutes before a host is flagged (unset uses the reconciler default)")

	clusterAddHostCmd.Flags().StringSlice("target", nil, "Replay target host (repeatable)")
	clusterAddHostCmd.Flags().StringSlice("allow", nil, "Allowed URL path regexp (repeatable)")
	clusterAddHostCmd.Flags().StringSlice("disallow", nil, "Disallowed URL path regexp (repeatable)")
	clusterAddHostCmd.Flags().StringSlice("rewrite", nil, "URL rewrite rule from:to (repeatable)")
	clusterAddHostCmd.Flags().Int("port", types.DefaultListenPort, "Port to capture traffic on")
	clusterAddHostCmd.Flags().String("rate", types.DefaultTrafficRate, "Replay rate limit")
	clusterAddHostCmd.Flags().String("http-timeout", types.DefaultHTTPTimeout, "Replay HTTP timeout")
	clusterAddHostCmd.Flags().String("context-path", "", "Application context path")
	clusterAddHostCmd.Flags().Bool("save-responses", false, "Save replayed responses")

	clusterConfigCmd.Flags().String("output", "", "Write the configuration to this file instead of stdout")

	clusterCmd.AddCommand(clusterListCmd)
	clusterCmd.AddCommand(clusterAddCmd)
	clusterCmd.AddCommand(clusterAddHostCmd)
	clusterCmd.AddCommand(clusterRemoveHostCmd)
	clusterCmd.AddCommand(clusterAddMonitorCmd)
	clusterCmd.AddCommand(clusterConfigCmd)
}

// readClusters loads the cluster file. With allowMissing a missing file
// yields an empty document that the first write creates.
func readClusters(cmd *cobra.Command, allowMissing bool) (*config.ClusterManager, error) {
	path, _ := cmd.Flags().GetString("file")
	mgr := config.NewClusterManager(path)
	if err := mgr.Read(); err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return mgr, nil
		}
		return nil, err
	}
	return mgr, nil
}

func writeClusters(mgr *config.ClusterManager) error {
	if err := mgr.Validate(); err != nil {
		return err
	}
	return mgr.Write()
}

// validateHost rejects entries that could never be replayed
func validateHost(host *types.ClusterHost) error {
	if host.ListenPort < 1 || host.ListenPort > 65535 {
		return fmt.Errorf("invalid port: %d", host.ListenPort)
	}
	for _, target := range host.TargetHosts {
		if !validate.URL(target) {
			return fmt.Errorf("invalid target host: %s", target)
		}
	}
	for _, path := range append(append([]string(nil), host.AllowURLPaths...), host.DisallowURLPaths...) {
		if !validate.URLPath(path) {
			return fmt.Errorf("invalid url path: %s", path)
		}
	}
	for _, rule := range host.URLRewritePaths {
		if !validate.RewritePath(rule) {
			return fmt.Errorf("invalid rewrite rule: %s", rule)
		}
	}
	return nil
}
