package pgxdbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for pgtestdb
	"github.com/peterldowns/pgtestdb"
	"github.com/peterldowns/pgtestdb/migrators/sqlmigrator"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"
)

// CreateTestDatabase creates a test database with migrations applied.
// Returns the connection pool and database URL for further connections.
func CreateTestDatabase(t *testing.T, migrationsDir string) (*pgxpool.Pool, string) {
	t.Helper()

	config := pgtestdb.Config{
		DriverName: "pgx",
		User:       "aggregator",
		Password:   "aggregator",
		Host:       "localhost",
		Port:       "5432",
		Options:    "sslmode=disable",
	}

	// Set up sql-migrate migrator
	source := &migrate.FileMigrationSource{
		Dir: migrationsDir,
	}
	migrationSet := &migrate.MigrationSet{
		TableName: "schema_migrations",
	}
	migrator := sqlmigrator.New(source, migrationSet)

	// Create test database and get its config
	dbConfig := pgtestdb.Custom(t, config, migrator)
	dbURL := dbConfig.URL()

	t.Logf("testdbconf: %s", dbURL)

	pool, err := createTestConnection(t.Context(), dbURL)
	require.NoError(t, err)

	return pool, dbURL
}

// createTestConnection creates a connection pool optimized for integration tests:
// minimal pool size for sequential test execution, shorter lifecycles for
// faster test cycles, and quick failure detection for fast feedback.
func createTestConnection(ctx context.Context, connectionString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, err
	}

	config.MinConns = 1
	config.MaxConns = 2

	config.MaxConnLifetime = 10 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	config.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, config)
}

// SetWindowSize provisions the aggregator settings row with the given
// blocks-per-window value.
func SetWindowSize(t *testing.T, testDB *pgxpool.Pool, windowSize int64) {
	t.Helper()

	_, err := testDB.Exec(t.Context(), `
		INSERT INTO aggregator_settings (single_row, window_size_blocks) VALUES (TRUE, $1)
		ON CONFLICT (single_row) DO UPDATE SET window_size_blocks = EXCLUDED.window_size_blocks
	`, windowSize)
	require.NoError(t, err)
}

// InsertTransaction inserts one delegation transaction for test setup.
func InsertTransaction(t *testing.T, testDB *pgxpool.Pool, txID string, blockNumber int64, timestamp time.Time, from, to, resource string, amountSun int64, permissionID int32) {
	t.Helper()

	_, err := testDB.Exec(t.Context(), `
		INSERT INTO delegation_transactions
			(tx_id, block_number, timestamp, from_address, to_address, resource, amount_sun, permission_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, txID, blockNumber, timestamp, from, to, resource, amountSun, permissionID)
	require.NoError(t, err)
}
