package migrate

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// destinationDDL creates the migrated tables on the destination. Every
// statement is CREATE TABLE IF NOT EXISTS: existing tables and their data
// are never altered or dropped.
var destinationDDL = []string{
	`CREATE TABLE IF NOT EXISTS people (
		id SERIAL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		note TEXT,
		gender TEXT CHECK (gender IN ('male','female','other')),
		importance INTEGER,
		alive BOOLEAN,
		tag TEXT[],
		relationships INTEGER[],
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS meal_logs (
		id SERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		description TEXT NOT NULL,
		health_score INTEGER,
		health_comment TEXT,
		date DATE NOT NULL,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS daily_meal_scores (
		user_id TEXT NOT NULL,
		date DATE NOT NULL,
		health_score INTEGER,
		health_comment TEXT,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now(),
		PRIMARY KEY (user_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS interactions (
		id SERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		person_id INTEGER REFERENCES people(id),
		interaction_type TEXT CHECK (interaction_type IN ('IRL', 'Call', 'Text')),
		date DATE NOT NULL,
		note TEXT,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
}

// Bootstrapper ensures the destination has the tables the migration
// writes into.
type Bootstrapper struct {
	pool *pgxpool.Pool
}

// NewBootstrapper creates a schema bootstrapper for the destination.
func NewBootstrapper(pool *pgxpool.Pool) *Bootstrapper {
	return &Bootstrapper{pool: pool}
}

// EnsureSchema applies the destination DDL inside a single transaction.
// Safe to run on every invocation; any rejected statement rolls the whole
// bootstrap back and fails the run.
func (b *Bootstrapper) EnsureSchema(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return &SchemaError{Err: err}
	}
	defer tx.Rollback(ctx)

	for _, stmt := range destinationDDL {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return &SchemaError{Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &SchemaError{Err: err}
	}
	return nil
}
