package aggregator

import "time"

// ResourceType identifies which TRON resource a delegation concerns.
type ResourceType string

const (
	ResourceEnergy    ResourceType = "ENERGY"
	ResourceBandwidth ResourceType = "BANDWIDTH"
)

// SunPerTRX is the number of sun in one TRX.
const SunPerTRX = 1_000_000

// DelegationTransaction represents one delegation event in the aggregator domain model.
// A positive AmountSun is a delegation, a negative one a reclaim. Transactions are
// written by the external ingestion pipeline and are immutable here.
type DelegationTransaction struct {
	TxID         string
	BlockNumber  int64
	Timestamp    time.Time
	FromAddress  string
	ToAddress    string
	Resource     ResourceType
	AmountSun    int64
	PermissionID int32
}

// IsDelegation reports whether the transaction grants (rather than reclaims) resource.
func (t DelegationTransaction) IsDelegation() bool {
	return t.AmountSun >= 0
}

// AbsAmountSun returns the transaction's magnitude regardless of direction.
func (t DelegationTransaction) AbsAmountSun() int64 {
	if t.AmountSun < 0 {
		return -t.AmountSun
	}
	return t.AmountSun
}
