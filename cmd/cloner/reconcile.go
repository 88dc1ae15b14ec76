package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cuemby/cloner/pkg/config"
	"github.com/cuemby/cloner/pkg/haproxy"
	"github.com/cuemby/cloner/pkg/log"
	"github.com/cuemby/cloner/pkg/metrics"
	"github.com/cuemby/cloner/pkg/reconciler"
	"github.com/cuemby/cloner/pkg/storage"
	"github.com/cuemby/cloner/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile --clusters FILE",
	Short: "Flag cloned hosts that HAProxy reports DOWN for too long",
	Long: `Load every HAProxy monitor named in the cluster file, compare the
configured hosts of each cluster with reconciliation enabled against the
stats snapshot and print the hosts that should be rotated out of traffic.

With --data-dir each pass is persisted, and the latest hosts per cluster
can be read back with --latest by an external rotation job. With --watch
the check repeats every --interval and /metrics, /health, /ready, /live
and /hosts are served on --metrics-addr.

A watching reconciler keeps the write lock on the data directory for its
whole lifetime, so --latest against the same directory fails after a short
timeout. Read /hosts from the watcher instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		clustersFile, _ := cmd.Flags().GetString("clusters")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		watch, _ := cmd.Flags().GetBool("watch")
		interval, _ := cmd.Flags().GetDuration("interval")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		maxDowntime, _ := cmd.Flags().GetInt("max-downtime")
		latest, _ := cmd.Flags().GetBool("latest")

		if latest {
			if dataDir == "" {
				return errors.New("--latest requires --data-dir")
			}
			s, err := storage.OpenBoltStore(dataDir, storage.OpenOptions{ReadOnly: true})
			if err != nil {
				if errors.Is(err, storage.ErrLocked) {
					return fmt.Errorf("%w (a watching reconciler serves the same data on /hosts)", err)
				}
				return err
			}
			defer s.Close()
			return printLatest(os.Stdout, s)
		}

		var store storage.Store
		if dataDir != "" {
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
			s, err := storage.NewBoltStore(dataDir)
			if err != nil {
				return err
			}
			defer s.Close()
			store = s
		}

		mgr := config.NewClusterManager(clustersFile)
		if err := mgr.Read(); err != nil {
			return err
		}
		if err := mgr.Validate(); err != nil {
			return err
		}

		broker, stopEvents := startEventLog()
		defer stopEvents()

		registry := haproxy.NewRegistryFromConfig(mgr.Monitors(), haproxy.Options{Publisher: broker})
		checker := reconciler.NewChecker(registry, broker)

		policies := func() ([]types.ClusterHealthPolicy, error) {
			return mgr.Policies(maxDowntime), nil
		}
		if watch {
			// Pick up edits to the cluster file between passes
			policies = func() ([]types.ClusterHealthPolicy, error) {
				if err := mgr.Read(); err != nil {
					return nil, err
				}
				return mgr.Policies(maxDowntime), nil
			}
		}

		if !watch {
			recon := reconciler.NewReconciler(checker, registry, policies, store, reconciler.Config{})
			pass, err := recon.RunOnce(context.Background())
			if pass != nil {
				printPass(os.Stdout, os.Stderr, pass)
			}
			if err != nil {
				return err
			}
			if len(pass.Errors) > 0 {
				return fmt.Errorf("%d cluster(s) could not be checked", len(pass.Errors))
			}
			return nil
		}

		critical := []string{"monitors"}
		if store != nil {
			critical = append(critical, "storage")
		}
		health := metrics.NewHealthChecker(critical...)
		health.SetVersion(Version)

		recon := reconciler.NewReconciler(checker, registry, policies, store, reconciler.Config{
			Interval: interval,
			Health:   health,
		})

		mux := health.Mux()
		mux.HandleFunc("/hosts", latestHostsHandler(store))
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
		log.Logger.Info().Str("addr", metricsAddr).Msg("Serving metrics and health endpoints")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		recon.Start(ctx)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, unix.SIGTERM)
		defer signal.Stop(sigCh)

		var runErr error
		select {
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case runErr = <-errCh:
		}

		recon.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
		return runErr
	},
}

func init() {
	reconcileCmd.Flags().String("clusters", "", "Cluster configuration file (JSON or YAML)")
	reconcileCmd.Flags().String("data-dir", "", "Directory for persisted reconciliation passes")
	reconcileCmd.Flags().Bool("watch", false, "Keep reconciling every --interval")
	reconcileCmd.Flags().Duration("interval", reconciler.DefaultInterval, "Period between passes in watch mode")
	reconcileCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for metrics and health endpoints in watch mode")
	reconcileCmd.Flags().Int("max-downtime", config.DefaultMaxDowntimeMinutes, "Default maximum DOWN minutes for clusters that set none")
	reconcileCmd.Flags().Bool("latest", false, "Print the latest persisted hosts per cluster and exit")
}

func printPass(out, errOut io.Writer, pass *types.ReconciliationPass) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tHOST\tREASON")
	for _, h := range pass.Hosts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", h.ClusterName, h.HostDomain, h.Reason)
	}
	_ = w.Flush()

	clusters := make([]string, 0, len(pass.Errors))
	for cluster := range pass.Errors {
		clusters = append(clusters, cluster)
	}
	sort.Strings(clusters)
	for _, cluster := range clusters {
		fmt.Fprintf(errOut, "cluster %s: %s\n", cluster, pass.Errors[cluster])
	}
}

// latestHostsHandler serves the persisted hosts per cluster as JSON
func latestHostsHandler(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "no --data-dir configured", http.StatusNotFound)
			return
		}
		latest, err := store.ListLatestHosts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(latest)
	}
}

func printLatest(out io.Writer, store storage.Store) error {
	latest, err := store.ListLatestHosts()
	if err != nil {
		return err
	}
	clusters := make([]string, 0, len(latest))
	for cluster := range latest {
		clusters = append(clusters, cluster)
	}
	sort.Strings(clusters)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tHOST\tREASON")
	for _, cluster := range clusters {
		for _, h := range latest[cluster] {
			fmt.Fprintf(w, "%s\t%s\t%s\n", cluster, h.HostDomain, h.Reason)
		}
	}
	return w.Flush()
}
