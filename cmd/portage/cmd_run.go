package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/willibrandon/portage/internal/db"
	"github.com/willibrandon/portage/internal/logger"
	"github.com/willibrandon/portage/internal/migrate"
)

// newRunCmd creates the run subcommand.
func newRunCmd() *cobra.Command {
	var (
		yes        bool
		batchSize  int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the migration",
		Long: `Run the migration: bootstrap the destination schema, report current
row counts on both sides, then copy every configured table in dependency
order.

Destination tables with a non-empty source are TRUNCATEd (with identity
reset and FK cascade) before being rewritten. Use -y to skip the
confirmation prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(yes, batchSize, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per insert batch (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the migration report as JSON")

	return cmd
}

func runMigration(yes bool, batchSize int, jsonOutput bool) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if batchSize <= 0 {
		batchSize = cfg.Migration.BatchSize
	}

	events := migrate.NewEventLogger(
		migrate.NewSlogSink(logger.Log),
		consoleSink(),
	)

	orch, err := migrate.NewOrchestrator(source, dest, tableSpecs(cfg), batchSize, events)
	if err != nil {
		return err
	}

	pf, err := orch.Preflight(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\nCurrent state before migration:")
	for _, t := range pf.Tables {
		fmt.Printf("  %s: %d (source) -> %d (destination)\n", t.Table, t.SourceRows, t.DestRows)
	}

	fmt.Println("\nReady to migrate the following tables, in order:")
	for i, spec := range orch.Tables() {
		fmt.Printf("  %d. %s\n", i+1, spec.Name)
	}
	fmt.Println("\nThis will TRUNCATE the destination tables before copying.")

	confirmed := yes
	if !confirmed {
		confirmed = promptConfirm()
	}
	if !confirmed {
		fmt.Println("Migration cancelled")
		return nil
	}

	report, runErr := orch.Run(ctx, confirmed)
	if report != nil {
		printReport(report)
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	if !report.Success {
		return fmt.Errorf("migration finished with mismatched row counts")
	}

	fmt.Println("\nMigration completed successfully")
	return nil
}

// promptConfirm asks the operator to approve the destructive copy phase.
func promptConfirm() bool {
	fmt.Print("\nProceed with migration? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.ToLower(strings.TrimSpace(response)) == "y"
}

// consoleSink renders progress events for the terminal.
func consoleSink() migrate.Sink {
	return migrate.SinkFunc(func(e migrate.Event) {
		switch e.Event {
		case migrate.EventTableStarted:
			fmt.Printf("\nMigrating %s: %d rows in source\n", e.Table, e.SourceRows)
		case migrate.EventTableSkipped:
			fmt.Printf("\nSkipping %s: source is empty (destination keeps %d rows)\n", e.Table, e.DestRows)
		case migrate.EventBatchCompleted:
			fmt.Printf("  Inserted %d/%d rows\n", e.Rows, e.SourceRows)
		case migrate.EventTableCompleted:
			fmt.Printf("  Completed %s: %d rows in destination\n", e.Table, e.DestRows)
		case migrate.EventTableFailed:
			fmt.Fprintf(os.Stderr, "  Failed %s: %s\n", e.Table, e.Error)
		}
	})
}

// printReport prints the final per-table match table.
func printReport(report *migrate.Report) {
	fmt.Println("\nFinal state after migration:")
	for _, r := range report.Results {
		marker := "✓"
		if !r.Match() {
			marker = "⚠"
		}
		suffix := ""
		if r.Skipped {
			suffix = " (skipped)"
		}
		fmt.Printf("  %s %s: %d (source) = %d (destination)%s\n",
			marker, r.Table, r.SourceRows, r.DestRows, suffix)
	}
}
