package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/cloner/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// exitError carries the external tool's return code out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("tool exited with code %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cloner",
	Short: "Cloner - supervised HTTP traffic cloning",
	Long: `Cloner captures live HTTP traffic on a port and replays it to one or
more target hosts by driving the gor traffic tool as a supervised subprocess.

It also inspects HAProxy stats snapshots and flags cloned hosts that have
been DOWN for too long so they can be rotated out of traffic.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		log.Init(log.Config{
			Level:      log.Level(level),
			JSONOutput: jsonLogs,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Cloner version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(argsCmd)
	rootCmd.AddCommand(gorVersionCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(clusterCmd)
}
