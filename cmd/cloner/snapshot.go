package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/cloner/pkg/haproxy"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot --source FILE|URL",
	Short: "Load an HAProxy stats CSV and print the host statuses",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		includeBackend, _ := cmd.Flags().GetBool("include-backend")
		backend, _ := cmd.Flags().GetString("backend")
		available, _ := cmd.Flags().GetBool("available")
		asJSON, _ := cmd.Flags().GetBool("json")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		snap, err := haproxy.Load(ctx, source, haproxy.Options{IncludeBackend: includeBackend})
		if err != nil {
			return err
		}

		hosts := selectHosts(snap, backend, available)
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(hosts)
		}
		return printHosts(os.Stdout, hosts)
	},
}

func init() {
	snapshotCmd.Flags().String("source", "", "Stats CSV file path or http(s) URL")
	snapshotCmd.Flags().Bool("include-backend", false, "Include BACKEND aggregate rows")
	snapshotCmd.Flags().String("backend", "", "Only show this backend")
	snapshotCmd.Flags().Bool("available", false, "Only show hosts that are UP")
	snapshotCmd.Flags().Bool("json", false, "Print as JSON")
	snapshotCmd.Flags().Duration("timeout", haproxy.DefaultTimeout, "Timeout for URL sources")
	_ = snapshotCmd.MarkFlagRequired("source")
}

func selectHosts(snap *haproxy.Snapshot, backend string, available bool) []haproxy.HostStatus {
	backends := snap.BackendNames()
	if backend != "" {
		backends = []string{backend}
	}
	var hosts []haproxy.HostStatus
	for _, name := range backends {
		if available {
			hosts = append(hosts, snap.AvailableHosts(name)...)
		} else {
			hosts = append(hosts, snap.Hosts(name)...)
		}
	}
	return hosts
}

func printHosts(out io.Writer, hosts []haproxy.HostStatus) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tHOST\tSTATUS\tSESSIONS\tLAST CHANGE\tDOWNTIME")
	for _, h := range hosts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%dm\n",
			h.BackendName,
			h.Name,
			h.Status,
			h.CurrentSessions,
			h.MaxSessions,
			time.Duration(h.LastStatusChange)*time.Second,
			h.DowntimeMinutes(),
		)
	}
	return w.Flush()
}
