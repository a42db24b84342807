package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Orchestrator sequences the full migration: liveness probes, schema
// bootstrap, pre-migration counts, and the ordered table copies. Tables
// run strictly one at a time; the first error aborts the remainder.
type Orchestrator struct {
	source    *pgxpool.Pool
	dest      *pgxpool.Pool
	tables    []TableSpec
	batchSize int
	events    *EventLogger

	preflight *Preflight
}

// NewOrchestrator validates the table specs, computes the dependency
// order, and returns an orchestrator ready to run.
func NewOrchestrator(source, dest *pgxpool.Pool, tables []TableSpec, batchSize int, events *EventLogger) (*Orchestrator, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables configured for migration")
	}
	for i := range tables {
		if err := tables[i].Validate(); err != nil {
			return nil, err
		}
	}

	sorted, err := SortTables(tables)
	if err != nil {
		return nil, err
	}

	if events == nil {
		events = NewEventLogger()
	}

	return &Orchestrator{
		source:    source,
		dest:      dest,
		tables:    sorted,
		batchSize: batchSize,
		events:    events,
	}, nil
}

// Tables returns the specs in copy order.
func (o *Orchestrator) Tables() []TableSpec {
	out := make([]TableSpec, len(o.tables))
	copy(out, o.tables)
	return out
}

// Preflight probes both connections, bootstraps the destination schema,
// and reads per-table counts on both sides. Read-only apart from the
// additive CREATE TABLE IF NOT EXISTS bootstrap; it never gates the run.
func (o *Orchestrator) Preflight(ctx context.Context) (*Preflight, error) {
	if err := probe(ctx, o.source); err != nil {
		return nil, fmt.Errorf("source liveness probe: %w", err)
	}
	if err := probe(ctx, o.dest); err != nil {
		return nil, fmt.Errorf("destination liveness probe: %w", err)
	}

	if err := NewBootstrapper(o.dest).EnsureSchema(ctx); err != nil {
		return nil, err
	}

	sourceInspector := NewInspector(o.source)
	destInspector := NewInspector(o.dest)

	pf := &Preflight{}
	for _, spec := range o.tables {
		sourceCount, err := sourceInspector.RowCount(ctx, spec.Name)
		if err != nil {
			return nil, err
		}
		destCount, err := destInspector.RowCount(ctx, spec.Name)
		if err != nil {
			return nil, err
		}
		pf.Tables = append(pf.Tables, TableCounts{
			Table:      spec.Name,
			SourceRows: sourceCount,
			DestRows:   destCount,
		})
	}

	o.events.Emit(Event{
		Event:   EventPreflightCompleted,
		Details: map[string]any{"tables": len(pf.Tables)},
	})

	o.preflight = pf
	return pf, nil
}

// Run executes the migration. The confirmed gate must be true before any
// destructive step; callers source it from a prompt, a flag, or policy.
// On a table failure the remaining tables are not attempted; tables
// already copied stay migrated.
func (o *Orchestrator) Run(ctx context.Context, confirmed bool) (*Report, error) {
	if o.preflight == nil {
		if _, err := o.Preflight(ctx); err != nil {
			return nil, err
		}
	}

	if !confirmed {
		return nil, ErrConfirmationRequired
	}

	report := &Report{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}

	names := make([]string, len(o.tables))
	for i, spec := range o.tables {
		names[i] = spec.Name
	}
	o.events.RunStarted(report.RunID.String(), names)

	copier := NewCopier(o.source, o.dest, o.batchSize, o.events)
	for _, spec := range o.tables {
		result, err := copier.Copy(ctx, spec)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			report.CompletedAt = time.Now()
			o.events.RunFailed(report.RunID.String(), err)
			return report, err
		}
		report.Results = append(report.Results, result)
	}

	// Skipped tables keep whatever the destination held; their live count
	// feeds the match indicator but does not decide overall success.
	report.Success = true
	for _, result := range report.Results {
		if !result.Skipped && !result.Match() {
			report.Success = false
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: %v (source %d, destination %d)",
					result.Table, ErrCountMismatch, result.SourceRows, result.DestRows))
		}
	}

	report.CompletedAt = time.Now()
	o.events.RunCompleted(report.RunID.String(), report.Success,
		report.CompletedAt.Sub(report.StartedAt).Milliseconds())
	return report, nil
}

// probe runs the no-op liveness query.
func probe(ctx context.Context, pool *pgxpool.Pool) error {
	var one int
	return pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}
