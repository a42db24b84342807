package migrate

import (
	"time"

	"github.com/google/uuid"
)

// CopyResult records the outcome of one table's copy.
type CopyResult struct {
	Table      string `json:"table"`
	SourceRows int64  `json:"source_rows"`
	DestRows   int64  `json:"dest_rows"`
	Batches    int    `json:"batches"`
	Skipped    bool   `json:"skipped,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Match reports whether the destination ended up with exactly the
// source's row count.
func (r CopyResult) Match() bool {
	return r.SourceRows == r.DestRows
}

// TableCounts holds pre-migration row counts for one table.
type TableCounts struct {
	Table      string `json:"table"`
	SourceRows int64  `json:"source_rows"`
	DestRows   int64  `json:"dest_rows"`
}

// Preflight reports destination schema readiness and pre-migration
// counts, in copy order. It is informational and never gates the run.
type Preflight struct {
	Tables []TableCounts `json:"tables"`
}

// Report is the result of a full migration run.
type Report struct {
	RunID       uuid.UUID    `json:"run_id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Results     []CopyResult `json:"results"`
	Success     bool         `json:"success"`
	Errors      []string     `json:"errors,omitempty"`
}

// ResultFor returns the copy result for a table, if the run reached it.
func (r *Report) ResultFor(table string) (CopyResult, bool) {
	for _, res := range r.Results {
		if res.Table == table {
			return res, true
		}
	}
	return CopyResult{}, false
}
