//go:build acceptance

package aggregator_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tronwatch/delegation-aggregator/aggregator"
	"github.com/tronwatch/delegation-aggregator/aggregator/store/pgxstore"
	"github.com/tronwatch/delegation-aggregator/pkg/pgxdb/pgxdbtest"
)

const acceptanceWindowSize = int64(300)

// TestAggregationAcceptanceBehavior tests end-to-end windowed aggregation
// against a real PostgreSQL database.
func TestAggregationAcceptanceBehavior(t *testing.T) {
	t.Parallel()

	t.Run("it bootstraps, aggregates a complete window, and records it durably", func(t *testing.T) {
		t.Parallel()

		// Arrange
		testDB, _ := pgxdbtest.CreateTestDatabase(t, "../migrations")
		defer testDB.Close()

		pgxdbtest.SetWindowSize(t, testDB, acceptanceWindowSize)
		seedWindowTransactions(t, testDB)

		store, _ := pgxstore.New(testDB)
		svc := aggregator.NewService(store, store, store, store, discardBroadcaster{})
		defer svc.Close()
		go drainEvents(svc)

		// Act: first invocation bootstraps, second closes the window
		require.NoError(t, svc.Run(t.Context()))
		require.NoError(t, svc.Run(t.Context()))

		// Assert
		cursor, ok, err := store.Cursor(t.Context())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(1299), cursor.LastProcessedBlock)

		assertSummationRecorded(t, testDB)
	})

	t.Run("it re-inserts an already-recorded window idempotently", func(t *testing.T) {
		t.Parallel()

		// Arrange
		testDB, _ := pgxdbtest.CreateTestDatabase(t, "../migrations")
		defer testDB.Close()

		pgxdbtest.SetWindowSize(t, testDB, acceptanceWindowSize)
		seedWindowTransactions(t, testDB)

		store, _ := pgxstore.New(testDB)
		record := aggregator.NewSummationRecord(
			aggregator.Window{StartBlock: 1000, EndBlock: 1299},
			nil, aggregator.Counters{}, time.Now(),
		)

		// Act: the same block range twice
		require.NoError(t, store.InsertSummation(t.Context(), record))
		require.NoError(t, store.InsertSummation(t.Context(), record))

		// Assert
		var count int
		err := testDB.QueryRow(t.Context(),
			"SELECT COUNT(*) FROM delegation_summations WHERE start_block = 1000").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

// seedWindowTransactions writes transactions covering window 1000-1299 plus
// the block-1300 marker that proves the window is complete.
func seedWindowTransactions(t *testing.T, testDB *pgxpool.Pool) {
	t.Helper()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	pgxdbtest.InsertTransaction(t, testDB, "acc-1", 1000, base, "TAlice", "TRecip", "ENERGY", 5_000_000, 2)
	pgxdbtest.InsertTransaction(t, testDB, "acc-2", 1100, base.Add(5*time.Minute), "TBob", "TRecip", "ENERGY", -2_000_000, 2)
	pgxdbtest.InsertTransaction(t, testDB, "acc-3", 1200, base.Add(10*time.Minute), "TCarol", "TRecip", "BANDWIDTH", 3_000_000, 0)
	pgxdbtest.InsertTransaction(t, testDB, "acc-4", 1300, base.Add(15*time.Minute), "TDave", "TRecip", "ENERGY", 1_000_000, 0)
}

func assertSummationRecorded(t *testing.T, testDB *pgxpool.Pool) {
	t.Helper()

	var startBlock, endBlock, energyDelegated, energyReclaimed, netEnergy, txCount int64
	err := testDB.QueryRow(t.Context(), `
		SELECT start_block, end_block, energy_delegated_sun, energy_reclaimed_sun, net_energy_sun, transaction_count
		FROM delegation_summations ORDER BY start_block
	`).Scan(&startBlock, &endBlock, &energyDelegated, &energyReclaimed, &netEnergy, &txCount)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), startBlock)
	assert.Equal(t, int64(1299), endBlock)
	assert.Equal(t, int64(5_000_000), energyDelegated)
	assert.Equal(t, int64(2_000_000), energyReclaimed)
	assert.Equal(t, int64(3_000_000), netEnergy)
	assert.Equal(t, int64(3), txCount, "the block-1300 marker is outside the window")
}

func drainEvents(svc *aggregator.Service) {
	for range svc.Events() {
	}
}

type discardBroadcaster struct{}

func (discardBroadcaster) Publish(context.Context, string, string, any) error {
	return nil
}
