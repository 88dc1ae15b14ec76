package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/cloner/pkg/cloner"
	"github.com/cuemby/cloner/pkg/config"
	"github.com/cuemby/cloner/pkg/gor"
	"github.com/cuemby/cloner/pkg/log"
	"github.com/cuemby/cloner/pkg/supervisor"
	"github.com/cuemby/cloner/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var runCmd = &cobra.Command{
	Use:   "run --config FILE",
	Short: "Clone traffic as described by a configuration file",
	Long: `Synthesize the gor command line from a configuration file, start it
under supervision and wait until it exits or the process is interrupted.

On SIGINT or SIGTERM the tool is terminated with an escalating sequence
of signals. The exit code is the tool's own exit code; an interrupted run
exits 0.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := clonerOptions(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfiguration(cmd)
		if err != nil {
			return err
		}

		broker, stopEvents := startEventLog()
		defer stopEvents()
		opts.Supervisor.Publisher = broker

		c, err := cloner.New(cfg, opts)
		if err != nil {
			return err
		}

		c.HandleSignals(os.Interrupt, unix.SIGTERM)
		defer c.StopSignals()

		if err := c.Start(context.Background()); err != nil {
			return err
		}
		c.Wait()
		interrupted := !c.Running()

		if err := c.Stop(); err != nil {
			log.Logger.Error().Err(err).Msg("Graceful stop failed, forcing")
			if ferr := c.ForceStop(); ferr != nil {
				return fmt.Errorf("failed to force stop: %w", ferr)
			}
			return err
		}

		res, err := c.Result()
		if res != nil {
			fmt.Fprint(os.Stdout, withNewline(res.Stdout))
			fmt.Fprint(os.Stderr, withNewline(res.Stderr))
		}
		if err != nil {
			return err
		}
		if interrupted {
			return nil
		}
		if res.ReturnCode != 0 {
			return &exitError{code: res.ReturnCode}
		}
		return nil
	},
}

var argsCmd = &cobra.Command{
	Use:   "args --config FILE",
	Short: "Print the synthesized gor command line",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := clonerOptions(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfiguration(cmd)
		if err != nil {
			return err
		}
		vector, err := gor.Synthesize(cfg, opts.Gor)
		if err != nil {
			return err
		}
		fmt.Println(gor.String(vector))
		return nil
	},
}

var gorVersionCmd = &cobra.Command{
	Use:   "gor-version",
	Short: "Print the version reported by the gor executable",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := clonerOptions(cmd)
		if err != nil {
			return err
		}
		version, err := cloner.Version(context.Background(), opts.Gor, opts.Supervisor)
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, argsCmd, gorVersionCmd} {
		c.Flags().String("gor", gor.DefaultExecutable, "Path to the gor executable")
		c.Flags().Bool("as-root", false, "Run gor through sudo")
	}
	for _, c := range []*cobra.Command{runCmd, argsCmd} {
		c.Flags().String("config", "", "Cloner configuration file (JSON or YAML)")
		_ = c.MarkFlagRequired("config")
	}
	runCmd.Flags().Duration("timeout", 0, "Terminate gor after this long (0 disables)")
	runCmd.Flags().Int("max-retries", supervisor.DefaultOptions().MaxRetryAttempts, "Termination rounds before giving up")
}

func loadConfiguration(cmd *cobra.Command) (*types.Configuration, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadConfiguration(path)
}

func clonerOptions(cmd *cobra.Command) (cloner.Options, error) {
	executable, _ := cmd.Flags().GetString("gor")
	asRoot, _ := cmd.Flags().GetBool("as-root")

	opts := cloner.Options{
		Gor: gor.Options{
			Executable: executable,
			AsRoot:     asRoot,
		},
		Supervisor: supervisor.DefaultOptions(),
	}
	if cmd.Flags().Lookup("timeout") != nil {
		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return opts, err
		}
		if timeout < 0 {
			return opts, errors.New("--timeout must not be negative")
		}
		opts.Supervisor.Timeout = timeout
	}
	if cmd.Flags().Lookup("max-retries") != nil {
		retries, _ := cmd.Flags().GetInt("max-retries")
		if retries > 0 {
			opts.Supervisor.MaxRetryAttempts = retries
		}
	}
	return opts, nil
}

func withNewline(s string) string {
	if s == "" || s[len(s)-1] == '\n' {
		return s
	}
	return s + "\n"
}
