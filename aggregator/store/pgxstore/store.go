package pgxstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tronwatch/delegation-aggregator/aggregator"
	"github.com/tronwatch/delegation-aggregator/aggregator/store/dbrow"
)

// Sentinel errors for store operations
var (
	ErrRangeQueryFailed    = errors.New("transaction range query failed")
	ErrExtremeBlockFailed  = errors.New("extreme block query failed")
	ErrCursorQueryFailed   = errors.New("cursor query failed")
	ErrCursorUpsertFailed  = errors.New("cursor upsert failed")
	ErrSummationFailed     = errors.New("summation insert failed")
	ErrSettingsQueryFailed = errors.New("settings query failed")
)

// SQL statements
const (
	findRangeSQL = `
		SELECT tx_id, block_number, timestamp, from_address, to_address, resource, amount_sun, permission_id
		FROM delegation_transactions
		WHERE block_number BETWEEN $1 AND $2
		ORDER BY block_number, tx_id`

	lowestBlockSQL  = "SELECT MIN(block_number) FROM delegation_transactions"
	highestBlockSQL = "SELECT MAX(block_number) FROM delegation_transactions"

	cursorSQL = "SELECT last_processed_block, last_aggregation_time FROM aggregation_cursor"

	upsertCursorSQL = `
		INSERT INTO aggregation_cursor (single_row, last_processed_block, last_aggregation_time)
		VALUES (TRUE, $1, $2)
		ON CONFLICT (single_row) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block,
		    last_aggregation_time = EXCLUDED.last_aggregation_time`

	insertSummationSQL = `
		INSERT INTO delegation_summations (
			timestamp, start_block, end_block,
			energy_delegated_sun, energy_reclaimed_sun,
			bandwidth_delegated_sun, bandwidth_reclaimed_sun,
			net_energy_sun, net_bandwidth_sun,
			transaction_count, total_transactions_delegated,
			total_transactions_undelegated, total_transactions_net,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (start_block, end_block) DO NOTHING`

	windowSizeSQL = "SELECT window_size_blocks FROM aggregator_settings"
)

// Store implements the aggregator's TransactionLog, CursorStore,
// SummationStore and ConfigSource interfaces using pgx.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store with an existing connection pool.
// Returns the store and a closer function.
func New(pool *pgxpool.Pool) (*Store, func()) {
	store := &Store{pool: pool}
	closer := func() {
		pool.Close()
	}
	return store, closer
}

// FindRange returns all transactions with block numbers in [startBlock, endBlock],
// ordered by block number then transaction ID so aggregation stays reproducible.
func (s *Store) FindRange(ctx context.Context, startBlock, endBlock int64) ([]aggregator.DelegationTransaction, error) {
	rows, err := s.pool.Query(ctx, findRangeSQL, startBlock, endBlock)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRangeQueryFailed, err)
	}
	defer rows.Close()

	var transactions []aggregator.DelegationTransaction
	for rows.Next() {
		var row dbrow.Transaction
		err := rows.Scan(
			&row.TxID, &row.BlockNumber, &row.Timestamp,
			&row.FromAddress, &row.ToAddress, &row.Resource,
			&row.AmountSun, &row.PermissionID,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan failed: %w", ErrRangeQueryFailed, err)
		}
		transactions = append(transactions, row.ToDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRangeQueryFailed, err)
	}
	return transactions, nil
}

// LowestBlock returns the lowest indexed block number. ok is false when the log is empty.
func (s *Store) LowestBlock(ctx context.Context) (int64, bool, error) {
	return s.extremeBlock(ctx, lowestBlockSQL)
}

// HighestBlock returns the highest indexed block number. ok is false when the log is empty.
func (s *Store) HighestBlock(ctx context.Context) (int64, bool, error) {
	return s.extremeBlock(ctx, highestBlockSQL)
}

func (s *Store) extremeBlock(ctx context.Context, query string) (int64, bool, error) {
	var block *int64
	if err := s.pool.QueryRow(ctx, query).Scan(&block); err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrExtremeBlockFailed, err)
	}
	if block == nil {
		return 0, false, nil
	}
	return *block, true, nil
}

// Cursor returns the singleton aggregation cursor. ok is false when no cursor
// has been seeded yet.
func (s *Store) Cursor(ctx context.Context) (aggregator.Cursor, bool, error) {
	var cursor aggregator.Cursor
	err := s.pool.QueryRow(ctx, cursorSQL).Scan(&cursor.LastProcessedBlock, &cursor.LastAggregationTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return aggregator.Cursor{}, false, nil
	}
	if err != nil {
		return aggregator.Cursor{}, false, fmt.Errorf("%w: %w", ErrCursorQueryFailed, err)
	}
	return cursor, true, nil
}

// SetCursor creates or replaces the singleton cursor row.
func (s *Store) SetCursor(ctx context.Context, cursor aggregator.Cursor) error {
	_, err := s.pool.Exec(ctx, upsertCursorSQL, cursor.LastProcessedBlock, cursor.LastAggregationTime)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCursorUpsertFailed, err)
	}
	return nil
}

// InsertSummation writes one summation record. Re-inserting an
// already-recorded block range is a no-op, which heals the crash between
// record insert and cursor advance idempotently.
func (s *Store) InsertSummation(ctx context.Context, record aggregator.SummationRecord) error {
	_, err := s.pool.Exec(ctx, insertSummationSQL, dbrow.SummationToArgs(record)...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSummationFailed, err)
	}
	return nil
}

// WindowSize returns the configured blocks-per-window. ok is false when the
// settings row has not been provisioned yet.
func (s *Store) WindowSize(ctx context.Context) (int64, bool, error) {
	var size int64
	err := s.pool.QueryRow(ctx, windowSizeSQL).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrSettingsQueryFailed, err)
	}
	return size, true, nil
}
