package migrate_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/willibrandon/portage/internal/config"
	"github.com/willibrandon/portage/internal/migrate"
)

// =============================================================================
// Test Suite for Table Migration
// =============================================================================

// MigrationTestSuite runs migration tests against two PostgreSQL
// containers, one acting as source and one as destination. Containers
// are created once in SetupSuite and reused across all tests.
type MigrationTestSuite struct {
	suite.Suite
	ctx context.Context

	sourceContainer testcontainers.Container
	destContainer   testcontainers.Container
	sourcePool      *pgxpool.Pool
	destPool        *pgxpool.Pool
}

func TestMigrationSuite(t *testing.T) {
	suite.Run(t, new(MigrationTestSuite))
}

// SetupSuite creates the shared PostgreSQL containers once for all tests.
func (s *MigrationTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("Skipping integration tests in short mode")
	}

	s.ctx = context.Background()
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	s.sourceContainer, s.sourcePool = startPostgres(ctx, "source")
	s.destContainer, s.destPool = startPostgres(ctx, "destination")

	// Source needs the schema too; the destination gets bootstrapped by
	// the orchestrator, but creating it here keeps per-test cleanup
	// uniform on both sides.
	require.NoError(s.T(), migrate.NewBootstrapper(s.sourcePool).EnsureSchema(ctx))
	require.NoError(s.T(), migrate.NewBootstrapper(s.destPool).EnsureSchema(ctx))
}

// TearDownSuite cleans up containers after all tests complete.
func (s *MigrationTestSuite) TearDownSuite() {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if s.sourcePool != nil {
		s.sourcePool.Close()
	}
	if s.destPool != nil {
		s.destPool.Close()
	}
	if s.sourceContainer != nil {
		if err := s.sourceContainer.Terminate(cleanupCtx); err != nil {
			log.Printf("Failed to terminate source container: %v", err)
		}
	}
	if s.destContainer != nil {
		if err := s.destContainer.Terminate(cleanupCtx); err != nil {
			log.Printf("Failed to terminate destination container: %v", err)
		}
	}
}

// SetupTest resets table contents on both sides before each test.
func (s *MigrationTestSuite) SetupTest() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	cleanupSQL := "TRUNCATE people, meal_logs, daily_meal_scores, interactions RESTART IDENTITY CASCADE"
	_, err := s.sourcePool.Exec(ctx, cleanupSQL)
	require.NoError(s.T(), err)
	_, err = s.destPool.Exec(ctx, cleanupSQL)
	require.NoError(s.T(), err)
}

// startPostgres starts one PostgreSQL container and opens a pool to it.
func startPostgres(ctx context.Context, name string) (testcontainers.Container, *pgxpool.Pool) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: postgresWaitStrategy(),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("Failed to start %s container: %v", name, err)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to create %s pool: %v", name, err)
	}

	return container, pool
}

// postgresWaitStrategy returns a wait strategy that verifies PostgreSQL is ready
// by actually connecting and running a query.
func postgresWaitStrategy() wait.Strategy {
	return wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	}).WithStartupTimeout(60 * time.Second).WithPollInterval(500 * time.Millisecond)
}

// referenceSpecs converts the configured default tables into specs.
func referenceSpecs() []migrate.TableSpec {
	tables := config.DefaultTables()
	specs := make([]migrate.TableSpec, len(tables))
	for i, t := range tables {
		specs[i] = migrate.TableSpec{
			Name:           t.Name,
			Columns:        t.Columns,
			IdentityColumn: t.IdentityColumn,
			DependsOn:      t.DependsOn,
		}
	}
	return specs
}

// captureSink records events for order assertions.
type captureSink struct {
	events []migrate.Event
}

func (c *captureSink) Emit(e migrate.Event) {
	c.events = append(c.events, e)
}

func (c *captureSink) tablesStarted() []string {
	var names []string
	for _, e := range c.events {
		if e.Event == migrate.EventTableStarted {
			names = append(names, e.Table)
		}
	}
	return names
}

// seedSource populates the source with the reference scenario:
// 3 people, 2 interactions referencing two of them, plus rows in the
// independent fact tables.
func (s *MigrationTestSuite) seedSource(ctx context.Context) {
	_, err := s.sourcePool.Exec(ctx, `
		INSERT INTO people (id, name, gender, importance, alive, tag, relationships)
		VALUES
			(1, 'alice', 'female', 5, true, ARRAY['friend'], ARRAY[2]),
			(2, 'bob', 'male', 3, true, ARRAY['family','friend'], ARRAY[1]),
			(3, 'carol', 'female', 1, false, NULL, NULL)`)
	require.NoError(s.T(), err)

	_, err = s.sourcePool.Exec(ctx, `
		INSERT INTO interactions (id, user_id, person_id, interaction_type, date, note)
		VALUES
			(1, 'u1', 1, 'Call', '2024-03-01', 'caught up'),
			(2, 'u1', 2, 'IRL', '2024-03-02', NULL)`)
	require.NoError(s.T(), err)

	_, err = s.sourcePool.Exec(ctx, `
		INSERT INTO meal_logs (id, user_id, description, health_score, date)
		VALUES
			(1, 'u1', 'oatmeal', 8, '2024-03-01'),
			(2, 'u1', 'pizza', 3, '2024-03-02')`)
	require.NoError(s.T(), err)

	_, err = s.sourcePool.Exec(ctx, `
		INSERT INTO daily_meal_scores (user_id, date, health_score)
		VALUES ('u1', '2024-03-01', 6)`)
	require.NoError(s.T(), err)
}

func (s *MigrationTestSuite) rowCount(ctx context.Context, pool *pgxpool.Pool, table string) int64 {
	var count int64
	err := pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&count)
	require.NoError(s.T(), err)
	return count
}

// =============================================================================
// Tests
// =============================================================================

func (s *MigrationTestSuite) TestFullMigration() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	s.seedSource(ctx)

	orch, err := migrate.NewOrchestrator(s.sourcePool, s.destPool, referenceSpecs(), 1000, nil)
	require.NoError(s.T(), err)

	report, err := orch.Run(ctx, true)
	require.NoError(s.T(), err)
	require.True(s.T(), report.Success)
	require.Len(s.T(), report.Results, 4)

	require.Equal(s.T(), int64(3), s.rowCount(ctx, s.destPool, "people"))
	require.Equal(s.T(), int64(2), s.rowCount(ctx, s.destPool, "interactions"))
	require.Equal(s.T(), int64(2), s.rowCount(ctx, s.destPool, "meal_logs"))
	require.Equal(s.T(), int64(1), s.rowCount(ctx, s.destPool, "daily_meal_scores"))

	for _, r := range report.Results {
		require.True(s.T(), r.Match(), "table %s: source %d != dest %d", r.Table, r.SourceRows, r.DestRows)
	}

	// Every migrated interaction's foreign key resolves to a migrated person.
	var resolved int64
	err = s.destPool.QueryRow(ctx, `
		SELECT count(*)
		FROM interactions i
		JOIN people p ON p.id = i.person_id`).Scan(&resolved)
	require.NoError(s.T(), err)
	require.Equal(s.T(), int64(2), resolved)
}

func (s *MigrationTestSuite) TestRerunIsIdempotent() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	s.seedSource(ctx)

	orch, err := migrate.NewOrchestrator(s.sourcePool, s.destPool, referenceSpecs(), 1000, nil)
	require.NoError(s.T(), err)
	first, err := orch.Run(ctx, true)
	require.NoError(s.T(), err)
	require.True(s.T(), first.Success)

	// Second run with an unchanged source. Fresh orchestrator, same as a
	// second process invocation.
	orch, err = migrate.NewOrchestrator(s.sourcePool, s.destPool, referenceSpecs(), 1000, nil)
	require.NoError(s.T(), err)
	second, err := orch.Run(ctx, true)
	require.NoError(s.T(), err)
	require.True(s.T(), second.Success)

	for _, firstResult := range first.Results {
		secondResult, ok := second.ResultFor(firstResult.Table)
		require.True(s.T(), ok)
		require.Equal(s.T(), firstResult.DestRows, secondResult.DestRows,
			"table %s dest count changed between runs", firstResult.Table)
	}
}

func (s *MigrationTestSuite) TestZeroRowSourcePreservesDestination() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	s.seedSource(ctx)

	// Empty the source fact table and give the destination pre-existing
	// rows that a naive resync would wipe.
	_, err := s.sourcePool.Exec(ctx, "TRUNCATE meal_logs RESTART IDENTITY")
	require.NoError(s.T(), err)
	_, err = s.destPool.Exec(ctx, `
		INSERT INTO meal_logs (user_id, description, health_score, date)
		VALUES
			('old', 'stale breakfast', 5, '2023-01-01'),
			('old', 'stale lunch', 4, '2023-01-01')`)
	require.NoError(s.T(), err)

	orch, err := migrate.NewOrchestrator(s.sourcePool, s.destPool, referenceSpecs(), 1000, nil)
	require.NoError(s.T(), err)
	report, err := orch.Run(ctx, true)
	require.NoError(s.T(), err)

	result, ok := report.ResultFor("meal_logs")
	require.True(s.T(), ok)
	require.True(s.T(), result.Skipped)
	require.Equal(s.T(), int64(0), result.SourceRows)
	require.Equal(s.T(), int64(2), result.DestRows)
	require.False(s.T(), result.Match())

	// Skipped tables don't fail the run; the other tables migrated.
	require.True(s.T(), report.Success)
	require.Equal(s.T(), int64(2), s.rowCount(ctx, s.destPool, "meal_logs"))
	require.Equal(s.T(), int64(3), s.rowCount(ctx, s.destPool, "people"))
}

func (s *MigrationTestSuite) TestIdentityResync() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	s.seedSource(ctx)

	orch, err := migrate.NewOrchestrator(s.sourcePool, s.destPool, referenceSpecs(), 1000, nil)
	require.NoError(s.T(), err)
	report, err := orch.Run(ctx, true)
	require.NoError(s.T(), err)
	require.True(s.T(), report.Success)

	// An organic insert after migration must allocate past the migrated ids.
	var newID int64
	err = s.destPool.QueryRow(ctx,
		"INSERT INTO people (name) VALUES ('dave') RETURNING id").Scan(&newID)
	require.NoError(s.T(), err)
	require.Greater(s.T(), newID, int64(3))
}

func (s *MigrationTestSuite) TestCopyOrderRespectsDependencies() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	s.seedSource(ctx)

	sink := &captureSink{}
	events := migrate.NewEventLogger(sink)

	orch, err := migrate.NewOrchestrator(s.sourcePool, s.destPool, referenceSpecs(), 1000, events)
	require.NoError(s.T(), err)
	_, err = orch.Run(ctx, true)
	require.NoError(s.T(), err)

	started := sink.tablesStarted()
	peopleIdx, interactionsIdx := -1, -1
	for i, name := range started {
		switch name {
		case "people":
			peopleIdx = i
		case "interactions":
			interactionsIdx = i
		}
	}
	require.NotEqual(s.T(), -1, peopleIdx)
	require.NotEqual(s.T(), -1, interactionsIdx)
	require.Less(s.T(), peopleIdx, interactionsIdx,
		"interactions copied before the people table it references")
}

func (s *MigrationTestSuite) TestConfirmationGate() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	s.seedSource(ctx)

	// Destination rows that must survive an unconfirmed run.
	_, err := s.destPool.Exec(ctx, "INSERT INTO people (name) VALUES ('keep-me')")
	require.NoError(s.T(), err)

	orch, err := migrate.NewOrchestrator(s.sourcePool, s.destPool, referenceSpecs(), 1000, nil)
	require.NoError(s.T(), err)

	_, err = orch.Run(ctx, false)
	require.ErrorIs(s.T(), err, migrate.ErrConfirmationRequired)
	require.Equal(s.T(), int64(1), s.rowCount(ctx, s.destPool, "people"))
}

func (s *MigrationTestSuite) TestFailedTableLeavesDestinationUntouched() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	s.seedSource(ctx)

	// Pre-existing destination rows the failed copy must not disturb.
	_, err := s.destPool.Exec(ctx,
		"INSERT INTO people (name) VALUES ('old1'), ('old2')")
	require.NoError(s.T(), err)

	// A column the source table doesn't have forces the read to fail
	// after the truncate, inside the same transaction.
	specs := []migrate.TableSpec{
		{Name: "people", Columns: []string{"id", "name", "does_not_exist"}, IdentityColumn: "id"},
		{Name: "interactions", Columns: []string{"id", "user_id", "person_id"}, IdentityColumn: "id", DependsOn: []string{"people"}},
	}

	sink := &captureSink{}
	events := migrate.NewEventLogger(sink)

	orch, err := migrate.NewOrchestrator(s.sourcePool, s.destPool, specs, 1000, events)
	require.NoError(s.T(), err)

	report, err := orch.Run(ctx, true)
	require.Error(s.T(), err)

	var copyErr *migrate.CopyError
	require.True(s.T(), errors.As(err, &copyErr))
	require.Equal(s.T(), "people", copyErr.Table)

	// The failed table's transaction rolled back: prior rows intact.
	require.Equal(s.T(), int64(2), s.rowCount(ctx, s.destPool, "people"))

	// Fail-fast: the dependent table was never attempted.
	for _, name := range sink.tablesStarted() {
		require.NotEqual(s.T(), "interactions", name)
	}
	require.Empty(s.T(), report.Results)
	require.False(s.T(), report.Success)
}

func (s *MigrationTestSuite) TestDeclaredColumnsExistInLiveSchema() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	inspector := migrate.NewInspector(s.sourcePool)
	for _, spec := range referenceSpecs() {
		live, err := inspector.Columns(ctx, spec.Name)
		require.NoError(s.T(), err)

		liveSet := make(map[string]bool, len(live))
		for _, col := range live {
			liveSet[col] = true
		}
		for _, col := range spec.Columns {
			require.True(s.T(), liveSet[col],
				"table %s declares column %s missing from the live schema", spec.Name, col)
		}
	}
}

func (s *MigrationTestSuite) TestPreflightCounts() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	s.seedSource(ctx)

	orch, err := migrate.NewOrchestrator(s.sourcePool, s.destPool, referenceSpecs(), 1000, nil)
	require.NoError(s.T(), err)

	pf, err := orch.Preflight(ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), pf.Tables, 4)

	counts := make(map[string]migrate.TableCounts)
	for _, t := range pf.Tables {
		counts[t.Table] = t
	}
	require.Equal(s.T(), int64(3), counts["people"].SourceRows)
	require.Equal(s.T(), int64(0), counts["people"].DestRows)
	require.Equal(s.T(), int64(2), counts["interactions"].SourceRows)

	// Preflight is read-only: nothing moved.
	require.Equal(s.T(), int64(0), s.rowCount(ctx, s.destPool, "people"))
}
