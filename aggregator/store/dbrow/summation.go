package dbrow

import (
	"time"

	"github.com/tronwatch/delegation-aggregator/aggregator"
)

// Transaction represents a delegation transaction as stored in the database
type Transaction struct {
	TxID         string    `db:"tx_id"`
	BlockNumber  int64     `db:"block_number"`
	Timestamp    time.Time `db:"timestamp"`
	FromAddress  string    `db:"from_address"`
	ToAddress    string    `db:"to_address"`
	Resource     string    `db:"resource"`
	AmountSun    int64     `db:"amount_sun"`
	PermissionID int32     `db:"permission_id"`
}

// ToDomain converts a database row to the aggregator domain model
func (t Transaction) ToDomain() aggregator.DelegationTransaction {
	return aggregator.DelegationTransaction{
		TxID:         t.TxID,
		BlockNumber:  t.BlockNumber,
		Timestamp:    t.Timestamp,
		FromAddress:  t.FromAddress,
		ToAddress:    t.ToAddress,
		Resource:     aggregator.ResourceType(t.Resource),
		AmountSun:    t.AmountSun,
		PermissionID: t.PermissionID,
	}
}

// SummationToArgs converts a summation record to positional insert arguments,
// matching the column order of the insert statement in pgxstore.
func SummationToArgs(r aggregator.SummationRecord) []any {
	return []any{
		r.Timestamp,
		r.StartBlock,
		r.EndBlock,
		r.EnergyDelegatedSun,
		r.EnergyReclaimedSun,
		r.BandwidthDelegatedSun,
		r.BandwidthReclaimedSun,
		r.NetEnergySun,
		r.NetBandwidthSun,
		r.TransactionCount,
		r.TotalTransactionsDelegated,
		r.TotalTransactionsUndelegated,
		r.TotalTransactionsNet,
		r.CreatedAt,
	}
}
