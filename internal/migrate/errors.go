package migrate

import (
	"errors"
	"fmt"
)

// Run-level errors.
var (
	// ErrConfirmationRequired is returned by Run when the caller has not
	// confirmed the destructive copy phase.
	ErrConfirmationRequired = errors.New("migration not confirmed")
	// ErrCountMismatch marks a table whose destination count diverged
	// from its source count after a copy.
	ErrCountMismatch = errors.New("source and destination row counts differ")
)

// SchemaError wraps a destination schema bootstrap failure.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema bootstrap failed: %v", e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// CopyError wraps a failure during one table's truncate/read/write/resync
// sequence. The destination table is left exactly as it was before the
// attempt; the failed transaction never commits.
type CopyError struct {
	Table string
	Err   error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy table %s: %v", e.Table, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }
