package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultBatchSize is the number of rows written per INSERT statement.
// Batches bound statement size and produce progress events; they carry no
// transactional meaning.
const DefaultBatchSize = 1000

// Copier transfers one table at a time from source to destination.
// The destination side of a copy (truncate, inserts, identity resync) is
// a single transaction: either the whole table lands or nothing changes.
type Copier struct {
	source    *pgxpool.Pool
	dest      *pgxpool.Pool
	batchSize int
	events    *EventLogger
}

// NewCopier creates a copier. A batchSize <= 0 selects DefaultBatchSize.
func NewCopier(source, dest *pgxpool.Pool, batchSize int, events *EventLogger) *Copier {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if events == nil {
		events = NewEventLogger()
	}
	return &Copier{
		source:    source,
		dest:      dest,
		batchSize: batchSize,
		events:    events,
	}
}

// Copy migrates a single table and returns its CopyResult.
//
// A zero-row source table is skipped outright: no truncate, no writes.
// That preserves whatever the destination already holds, so the skip is
// surfaced as a warn-level event and the result keeps the live
// destination count for the match indicator.
func (c *Copier) Copy(ctx context.Context, spec TableSpec) (CopyResult, error) {
	start := time.Now()
	destInspector := NewInspector(c.dest)

	sourceCount, err := NewInspector(c.source).RowCount(ctx, spec.Name)
	if err != nil {
		return CopyResult{Table: spec.Name}, c.fail(spec.Name, err)
	}

	if sourceCount == 0 {
		destCount, err := destInspector.RowCount(ctx, spec.Name)
		if err != nil {
			return CopyResult{Table: spec.Name}, c.fail(spec.Name, err)
		}
		c.events.TableSkipped(spec.Name, destCount)
		return CopyResult{
			Table:      spec.Name,
			SourceRows: 0,
			DestRows:   destCount,
			Skipped:    true,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	c.events.TableStarted(spec.Name, sourceCount)

	batches, err := c.transfer(ctx, spec, sourceCount)
	if err != nil {
		return CopyResult{Table: spec.Name, SourceRows: sourceCount}, c.fail(spec.Name, err)
	}

	destCount, err := destInspector.RowCount(ctx, spec.Name)
	if err != nil {
		return CopyResult{Table: spec.Name, SourceRows: sourceCount}, c.fail(spec.Name, err)
	}

	result := CopyResult{
		Table:      spec.Name,
		SourceRows: sourceCount,
		DestRows:   destCount,
		Batches:    batches,
		DurationMs: time.Since(start).Milliseconds(),
	}
	c.events.TableCompleted(spec.Name, sourceCount, destCount, result.DurationMs)
	return result, nil
}

// transfer performs the destructive phase: truncate, batched writes, and
// identity resync, all inside one destination transaction.
func (c *Copier) transfer(ctx context.Context, spec TableSpec, sourceCount int64) (int, error) {
	tx, err := c.dest.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin destination transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Cascades to rows in tables referencing this one and resets the
	// identity counter. Deliberate overwrite, not a merge.
	if _, err := tx.Exec(ctx, truncateStatement(spec.Name)); err != nil {
		return 0, fmt.Errorf("truncate destination: %w", err)
	}

	// Whole-table read. Tables this tool moves fit in memory; parity
	// with the load-all-then-write behavior is intentional.
	rows, err := c.fetchSourceRows(ctx, spec)
	if err != nil {
		return 0, fmt.Errorf("read source rows: %w", err)
	}

	batches := 0
	for offset := 0; offset < len(rows); offset += c.batchSize {
		end := offset + c.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[offset:end]

		stmt := insertStatement(spec.Name, spec.Columns, len(batch))
		if _, err := tx.Exec(ctx, stmt, flattenRows(batch)...); err != nil {
			return 0, fmt.Errorf("insert batch %d: %w", batches+1, err)
		}
		batches++
		c.events.BatchCompleted(spec.Name, batches, int64(end), sourceCount)
	}

	// Bump the sequence past the migrated rows so organic inserts don't
	// collide with migrated identities.
	if spec.IdentityColumn != "" {
		if _, err := tx.Exec(ctx, resyncStatement(spec.Name, spec.IdentityColumn)); err != nil {
			return 0, fmt.Errorf("resync identity sequence: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit destination transaction: %w", err)
	}
	return batches, nil
}

// fetchSourceRows reads the table's declared columns from the source.
func (c *Copier) fetchSourceRows(ctx context.Context, spec TableSpec) ([][]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s",
		sanitizedColumnList(spec.Columns),
		pgx.Identifier{spec.Name}.Sanitize())

	rows, err := c.source.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result = append(result, values)
	}
	return result, rows.Err()
}

// fail wraps an error as a CopyError and emits the failure event.
func (c *Copier) fail(table string, err error) error {
	copyErr := &CopyError{Table: table, Err: err}
	c.events.TableFailed(table, err)
	return copyErr
}

// truncateStatement clears a destination table, its identity counter, and
// any rows referencing it by foreign key.
func truncateStatement(table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", pgx.Identifier{table}.Sanitize())
}

// insertStatement builds a multi-row INSERT with positional placeholders
// for rowCount rows of the given columns.
func insertStatement(table string, columns []string, rowCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ",
		pgx.Identifier{table}.Sanitize(),
		sanitizedColumnList(columns))

	n := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// resyncStatement sets the table's serial sequence to the maximum value
// currently present, so the next insert allocates one past it.
func resyncStatement(table, column string) string {
	return fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', '%s'), COALESCE(MAX(%s), 1)) FROM %s",
		table, column,
		pgx.Identifier{column}.Sanitize(),
		pgx.Identifier{table}.Sanitize())
}

// sanitizedColumnList quotes and joins column identifiers.
func sanitizedColumnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// flattenRows turns row-major values into the flat argument list the
// multi-row INSERT expects.
func flattenRows(rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		args = append(args, row...)
	}
	return args
}
