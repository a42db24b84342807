package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"github.com/willibrandon/portage/internal/logger"
)

// Connect creates a PostgreSQL connection pool for the named endpoint and
// verifies it with a ping. The name ("source", "destination") only appears
// in logs and error messages.
func Connect(ctx context.Context, name, connString, passwordCommand string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse %s connection string: %w", name, err)
	}

	// Resolve a password only when the DSN does not carry one and some
	// other source can provide it. Passwordless DSNs (unix socket, IAM)
	// are left alone.
	if poolConfig.ConnConfig.Password == "" && hasPasswordSource(passwordCommand) {
		password, err := GetPassword(passwordCommand)
		if err != nil {
			return nil, fmt.Errorf("retrieve %s password: %w", name, err)
		}
		poolConfig.ConnConfig.Password = password
	}

	poolConfig.MaxConns = 4
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "portage"

	logger.Debug("Creating connection pool",
		"endpoint", name,
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"user", poolConfig.ConnConfig.User,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", name, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}

	logger.Info("Connected",
		"endpoint", name,
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
	)

	return pool, nil
}

// ValidateConnection runs a no-op query to confirm the pool is live.
func ValidateConnection(ctx context.Context, pool *pgxpool.Pool) error {
	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("connection validation failed: %w", err)
	}
	return nil
}

// hasPasswordSource reports whether GetPassword has any way to produce a
// password without hanging a non-interactive run.
func hasPasswordSource(passwordCommand string) bool {
	if passwordCommand != "" {
		return true
	}
	if _, exists := os.LookupEnv("PGPASSWORD"); exists {
		return true
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}
