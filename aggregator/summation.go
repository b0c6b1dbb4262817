package aggregator

import "time"

// Counters holds the summed magnitudes for one window, split by resource type
// and direction. All amounts are absolute values in sun.
type Counters struct {
	EnergyDelegatedSun    int64
	EnergyReclaimedSun    int64
	BandwidthDelegatedSun int64
	BandwidthReclaimedSun int64
	Delegations           int64
	Reclaims              int64
}

// NetEnergySun returns delegated minus reclaimed energy.
func (c Counters) NetEnergySun() int64 {
	return c.EnergyDelegatedSun - c.EnergyReclaimedSun
}

// NetBandwidthSun returns delegated minus reclaimed bandwidth.
func (c Counters) NetBandwidthSun() int64 {
	return c.BandwidthDelegatedSun - c.BandwidthReclaimedSun
}

// NetTransactions returns delegation count minus reclaim count.
func (c Counters) NetTransactions() int64 {
	return c.Delegations - c.Reclaims
}

// Aggregate reduces a window's transactions into counters in a single pass.
// Each transaction is classified by the sign of its amount and by resource
// type; magnitudes are always accumulated as absolute values. Pure.
func Aggregate(transactions []DelegationTransaction) Counters {
	var c Counters
	for _, tx := range transactions {
		amount := tx.AbsAmountSun()
		if tx.IsDelegation() {
			c.Delegations++
			switch tx.Resource {
			case ResourceEnergy:
				c.EnergyDelegatedSun += amount
			case ResourceBandwidth:
				c.BandwidthDelegatedSun += amount
			}
			continue
		}
		c.Reclaims++
		switch tx.Resource {
		case ResourceEnergy:
			c.EnergyReclaimedSun += amount
		case ResourceBandwidth:
			c.BandwidthReclaimedSun += amount
		}
	}
	return c
}

// SummationRecord is the append-only output of one aggregated window.
// Ordered by StartBlock the records are contiguous and non-overlapping.
type SummationRecord struct {
	Timestamp                    time.Time
	StartBlock                   int64
	EndBlock                     int64
	EnergyDelegatedSun           int64
	EnergyReclaimedSun           int64
	BandwidthDelegatedSun        int64
	BandwidthReclaimedSun        int64
	NetEnergySun                 int64
	NetBandwidthSun              int64
	TransactionCount             int64
	TotalTransactionsDelegated   int64
	TotalTransactionsUndelegated int64
	TotalTransactionsNet         int64
	CreatedAt                    time.Time
}

// NewSummationRecord builds the record for a window from its transactions and
// counters. The record timestamp comes from the earliest transaction opening
// the window; an empty window falls back to now so the series stays gap-free.
func NewSummationRecord(window Window, transactions []DelegationTransaction, counters Counters, now time.Time) SummationRecord {
	return SummationRecord{
		Timestamp:                    windowTimestamp(transactions, now),
		StartBlock:                   window.StartBlock,
		EndBlock:                     window.EndBlock,
		EnergyDelegatedSun:           counters.EnergyDelegatedSun,
		EnergyReclaimedSun:           counters.EnergyReclaimedSun,
		BandwidthDelegatedSun:        counters.BandwidthDelegatedSun,
		BandwidthReclaimedSun:        counters.BandwidthReclaimedSun,
		NetEnergySun:                 counters.NetEnergySun(),
		NetBandwidthSun:              counters.NetBandwidthSun(),
		TransactionCount:             counters.Delegations + counters.Reclaims,
		TotalTransactionsDelegated:   counters.Delegations,
		TotalTransactionsUndelegated: counters.Reclaims,
		TotalTransactionsNet:         counters.NetTransactions(),
		CreatedAt:                    now,
	}
}

// windowTimestamp picks the record timestamp: the earliest transaction in the
// window, by block number then timestamp, or the current time for an empty
// window.
func windowTimestamp(transactions []DelegationTransaction, now time.Time) time.Time {
	if len(transactions) == 0 {
		return now
	}
	earliest := transactions[0]
	for _, tx := range transactions[1:] {
		if tx.BlockNumber < earliest.BlockNumber ||
			(tx.BlockNumber == earliest.BlockNumber && tx.Timestamp.Before(earliest.Timestamp)) {
			earliest = tx
		}
	}
	return earliest.Timestamp
}
