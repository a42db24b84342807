package migrate

import (
	"encoding/json"
	"log/slog"
	"time"
)

// EventType identifies the type of migration progress event.
type EventType string

const (
	EventRunStarted         EventType = "migrate.run_started"
	EventPreflightCompleted EventType = "migrate.preflight_completed"
	EventTableStarted       EventType = "migrate.table_started"
	EventTableSkipped       EventType = "migrate.table_skipped"
	EventBatchCompleted     EventType = "migrate.batch_completed"
	EventTableCompleted     EventType = "migrate.table_completed"
	EventTableFailed        EventType = "migrate.table_failed"
	EventRunCompleted       EventType = "migrate.run_completed"
	EventRunFailed          EventType = "migrate.run_failed"
)

// Event is a structured migration progress event. The engine emits these
// instead of printing; any presentation layer can subscribe.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Event      EventType      `json:"event"`
	Table      string         `json:"table,omitempty"`
	Rows       int64          `json:"rows,omitempty"`
	Batch      int            `json:"batch,omitempty"`
	SourceRows int64          `json:"source_rows,omitempty"`
	DestRows   int64          `json:"dest_rows,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Sink consumes migration events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// SlogSink writes events to a slog logger as JSON payloads.
type SlogSink struct {
	slog *slog.Logger
}

// NewSlogSink creates a sink backed by the given logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{slog: logger}
}

// Emit logs the event at its declared level.
func (s *SlogSink) Emit(event Event) {
	data, _ := json.Marshal(event)

	switch event.Level {
	case "error":
		s.slog.Error(string(event.Event), "event", string(data))
	case "warn":
		s.slog.Warn(string(event.Event), "event", string(data))
	case "debug":
		s.slog.Debug(string(event.Event), "event", string(data))
	default:
		s.slog.Info(string(event.Event), "event", string(data))
	}
}

// EventLogger fans migration events out to its sinks, stamping the
// timestamp and defaulting the level.
type EventLogger struct {
	sinks []Sink
}

// NewEventLogger creates an event logger over zero or more sinks.
func NewEventLogger(sinks ...Sink) *EventLogger {
	return &EventLogger{sinks: sinks}
}

// AddSink attaches another sink.
func (l *EventLogger) AddSink(sink Sink) {
	l.sinks = append(l.sinks, sink)
}

// Emit delivers an event to every sink.
func (l *EventLogger) Emit(event Event) {
	event.Timestamp = time.Now()
	if event.Level == "" {
		event.Level = "info"
	}
	for _, sink := range l.sinks {
		sink.Emit(event)
	}
}

// RunStarted announces a migration run over the given tables.
func (l *EventLogger) RunStarted(runID string, tables []string) {
	l.Emit(Event{
		Event:   EventRunStarted,
		Details: map[string]any{"run_id": runID, "tables": tables},
	})
}

// TableStarted announces the start of one table's copy.
func (l *EventLogger) TableStarted(table string, sourceRows int64) {
	l.Emit(Event{
		Event:      EventTableStarted,
		Table:      table,
		SourceRows: sourceRows,
	})
}

// TableSkipped records a zero-row source table that was left untouched on
// the destination. Warn level: whatever the destination held stays there.
func (l *EventLogger) TableSkipped(table string, destRows int64) {
	l.Emit(Event{
		Level:    "warn",
		Event:    EventTableSkipped,
		Table:    table,
		DestRows: destRows,
	})
}

// BatchCompleted records one batch of rows written within a table's
// transaction.
func (l *EventLogger) BatchCompleted(table string, batch int, rowsWritten, totalRows int64) {
	l.Emit(Event{
		Event:      EventBatchCompleted,
		Table:      table,
		Batch:      batch,
		Rows:       rowsWritten,
		SourceRows: totalRows,
	})
}

// TableCompleted records a committed table copy.
func (l *EventLogger) TableCompleted(table string, sourceRows, destRows int64, durationMs int64) {
	l.Emit(Event{
		Event:      EventTableCompleted,
		Table:      table,
		SourceRows: sourceRows,
		DestRows:   destRows,
		DurationMs: durationMs,
	})
}

// TableFailed records a rolled-back table copy.
func (l *EventLogger) TableFailed(table string, err error) {
	l.Emit(Event{
		Level: "error",
		Event: EventTableFailed,
		Table: table,
		Error: err.Error(),
	})
}

// RunCompleted records the end of a run.
func (l *EventLogger) RunCompleted(runID string, success bool, durationMs int64) {
	l.Emit(Event{
		Event:      EventRunCompleted,
		DurationMs: durationMs,
		Details:    map[string]any{"run_id": runID, "success": success},
	})
}

// RunFailed records a run aborted by an error.
func (l *EventLogger) RunFailed(runID string, err error) {
	l.Emit(Event{
		Level:   "error",
		Event:   EventRunFailed,
		Error:   err.Error(),
		Details: map[string]any{"run_id": runID},
	})
}
