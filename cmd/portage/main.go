package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/portage/internal/config"
	"github.com/willibrandon/portage/internal/migrate"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portage",
		Short: "One-shot PostgreSQL table migration",
		Long: `portage copies a fixed set of tables from a source PostgreSQL database
to a destination database, in foreign-key dependency order, preserving
identity sequences and verifying row counts after the copy.

Destination tables are truncated before the copy; each table's truncate
and writes form one transaction, so a failed table is left untouched.

Commands:
  portage run [-y] [--json]   Run the migration
  portage status              Show per-table row counts on both sides`,
		Version: version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/portage/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// tableSpecs converts configured tables into migration specs.
func tableSpecs(cfg *config.Config) []migrate.TableSpec {
	specs := make([]migrate.TableSpec, len(cfg.Migration.Tables))
	for i, t := range cfg.Migration.Tables {
		specs[i] = migrate.TableSpec{
			Name:           t.Name,
			Columns:        t.Columns,
			IdentityColumn: t.IdentityColumn,
			DependsOn:      t.DependsOn,
		}
	}
	return specs
}
