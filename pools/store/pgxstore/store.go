package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tronwatch/delegation-aggregator/aggregator"
	"github.com/tronwatch/delegation-aggregator/aggregator/store/dbrow"
	"github.com/tronwatch/delegation-aggregator/pools"
)

// Sentinel errors for store operations
var (
	ErrLatestTimestampFailed = errors.New("latest timestamp query failed")
	ErrEnergyQueryFailed     = errors.New("energy transaction query failed")
	ErrMembershipQueryFailed = errors.New("pool membership query failed")
	ErrNameQueryFailed       = errors.New("address name query failed")
)

// SQL statements
const (
	latestTimestampSQL = "SELECT MAX(timestamp) FROM delegation_transactions"

	findEnergySQL = `
		SELECT tx_id, block_number, timestamp, from_address, to_address, resource, amount_sun, permission_id
		FROM delegation_transactions
		WHERE resource = $1 AND timestamp BETWEEN $2 AND $3
		ORDER BY block_number, tx_id`

	findMembershipsSQL = `
		SELECT m.account, m.permission_id, m.pool, m.self_signed
		FROM pool_memberships m
		JOIN unnest($1::text[], $2::int[]) AS k(account, permission_id)
		  ON m.account = k.account AND m.permission_id = k.permission_id`

	findNamesSQL = "SELECT address, name FROM address_names WHERE address = ANY($1)"
)

// Store implements the pools package's TransactionSource, MembershipRegistry
// and NameRegistry interfaces using pgx.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL pools store with an existing connection pool.
// Returns the store and a closer function.
func New(pool *pgxpool.Pool) (*Store, func()) {
	store := &Store{pool: pool}
	closer := func() {
		pool.Close()
	}
	return store, closer
}

// LatestTimestamp returns the ledger's latest indexed transaction timestamp.
// ok is false when nothing has been indexed yet.
func (s *Store) LatestTimestamp(ctx context.Context) (time.Time, bool, error) {
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, latestTimestampSQL).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %w", ErrLatestTimestampFailed, err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return *latest, true, nil
}

// FindEnergyBetween returns all ENERGY transactions with timestamps in [from, to].
func (s *Store) FindEnergyBetween(ctx context.Context, from, to time.Time) ([]aggregator.DelegationTransaction, error) {
	rows, err := s.pool.Query(ctx, findEnergySQL, string(aggregator.ResourceEnergy), from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnergyQueryFailed, err)
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
			return nil, fmt.Errorf("%w: scan failed: %w", ErrEnergyQueryFailed, err)
		}
		transactions = append(transactions, row.ToDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnergyQueryFailed, err)
	}
	return transactions, nil
}

// FindMemberships bulk-resolves the given keys with a single join against the
// membership table. Keys with no registered membership are absent from the result.
func (s *Store) FindMemberships(ctx context.Context, keys []pools.MembershipKey) (map[pools.MembershipKey]pools.Membership, error) {
	memberships := make(map[pools.MembershipKey]pools.Membership, len(keys))
	if len(keys) == 0 {
		return memberships, nil
	}

	accounts := make([]string, len(keys))
	permissions := make([]int32, len(keys))
	for i, key := range keys {
		accounts[i] = key.Account
		permissions[i] = key.PermissionID
	}

	rows, err := s.pool.Query(ctx, findMembershipsSQL, accounts, permissions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMembershipQueryFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m pools.Membership
		if err := rows.Scan(&m.Account, &m.PermissionID, &m.Pool, &m.SelfSigned); err != nil {
			return nil, fmt.Errorf("%w: scan failed: %w", ErrMembershipQueryFailed, err)
		}
		memberships[pools.MembershipKey{Account: m.Account, PermissionID: m.PermissionID}] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMembershipQueryFailed, err)
	}
	return memberships, nil
}

// FindNames returns human-readable names for the given addresses. Unknown
// addresses are absent from the result.
func (s *Store) FindNames(ctx context.Context, addresses []string) (map[string]string, error) {
	names := make(map[string]string, len(addresses))
	if len(addresses) == 0 {
		return names, nil
	}

	rows, err := s.pool.Query(ctx, findNamesSQL, addresses)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNameQueryFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var address, name string
		if err := rows.Scan(&address, &name); err != nil {
			return nil, fmt.Errorf("%w: scan failed: %w", ErrNameQueryFailed, err)
		}
		names[address] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNameQueryFailed, err)
	}
	return names, nil
}
