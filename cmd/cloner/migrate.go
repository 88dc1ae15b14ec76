package main

import (
	"fmt"

	"github.com/cuemby/cloner/pkg/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate --config FILE",
	Short: "Upgrade a cloner configuration file to the current schema",
	Long: `Upgrade a configuration file written for an older schema version.

Version 1 files kept split_traffic under output.http; it is moved to
output.split_traffic. The original file is backed up before it is
replaced unless --dry-run is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetString("backup")

		m, err := config.PlanMigration(path)
		if err != nil {
			return err
		}

		fmt.Printf("Configuration: %s\n", path)
		fmt.Printf("Schema version: %d -> %d\n", m.FromVersion, m.ToVersion)
		if !m.Needed() {
			fmt.Println("✓ Already at the current schema, nothing to migrate")
			return nil
		}

		if dryRun {
			fmt.Println()
			fmt.Println("[DRY RUN] Upgraded configuration:")
			return config.Encode(cmd.OutOrStdout(), config.FormatFromPath(path), m.Config)
		}

		if backup == "" {
			backup = path + ".backup"
		}
		if err := m.Apply(backup); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Printf("✓ Backup created: %s\n", backup)
		fmt.Println("✓ Migration completed successfully")
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("config", "", "Cloner configuration file (JSON or YAML)")
	migrateCmd.Flags().Bool("dry-run", false, "Show the upgraded configuration without writing it")
	migrateCmd.Flags().String("backup", "", "Backup path for the original file (default: <config>.backup)")
	_ = migrateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(migrateCmd)
}
