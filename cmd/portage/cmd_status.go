package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/portage/internal/db"
	"github.com/willibrandon/portage/internal/logger"
	"github.com/willibrandon/portage/internal/migrate"
)

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-table row counts on both sides",
		Long: `Show row counts for every configured table on the source and the
destination, with a match marker. Read-only: nothing is created,
truncated, or copied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
}

func showStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logLevel := logger.LevelInfo
	if debug {
		logLevel = logger.LevelDebug
	}
	logger.InitLogger(logLevel, cfg.Log.Path)
	defer logger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	source, err := db.Connect(ctx, "source", cfg.Source.DSN(), cfg.Source.PasswordCommand)
	if err != nil {
		return err
	}
	defer source.Close()

	dest, err := db.Connect(ctx, "destination", cfg.Destination.URL, cfg.Destination.PasswordCommand)
	if err != nil {
		return err
	}
	defer dest.Close()

	if err := db.ValidateConnection(ctx, source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := db.ValidateConnection(ctx, dest); err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	specs, err := migrate.SortTables(tableSpecs(cfg))
	if err != nil {
		return err
	}

	sourceInspector := migrate.NewInspector(source)
	destInspector := migrate.NewInspector(dest)

	fmt.Println("Table row counts (source vs destination):")
	for _, spec := range specs {
		sourceCount, srcErr := sourceInspector.RowCount(ctx, spec.Name)
		destCount, destErr := destInspector.RowCount(ctx, spec.Name)

		// A missing table on one side is reported per table, not fatal.
		switch {
		case srcErr != nil:
			fmt.Printf("  ? %s: source error: %v\n", spec.Name, srcErr)
		case destErr != nil:
			fmt.Printf("  ? %s: %d (source), destination error: %v\n", spec.Name, sourceCount, destErr)
		default:
			marker := "✓"
			if sourceCount != destCount {
				marker = "⚠"
			}
			fmt.Printf("  %s %s: %d (source) = %d (destination)\n", marker, spec.Name, sourceCount, destCount)
		}
	}

	return nil
}
