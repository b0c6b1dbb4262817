package aggregator

import "github.com/shopspring/decimal"

// WindowPayload is the compact completed-window event published to
// subscribers. Amounts are converted from sun to TRX and rounded to one
// decimal place to keep payloads small.
type WindowPayload struct {
	StartBlock         int64           `json:"startBlock"`
	EndBlock           int64           `json:"endBlock"`
	EnergyDelegated    decimal.Decimal `json:"energyDelegatedTrx"`
	EnergyReclaimed    decimal.Decimal `json:"energyReclaimedTrx"`
	BandwidthDelegated decimal.Decimal `json:"bandwidthDelegatedTrx"`
	BandwidthReclaimed decimal.Decimal `json:"bandwidthReclaimedTrx"`
	NetEnergy          decimal.Decimal `json:"netEnergyTrx"`
	NetBandwidth       decimal.Decimal `json:"netBandwidthTrx"`
	Delegations        int64           `json:"delegations"`
	Reclaims           int64           `json:"reclaims"`
}

// NewWindowPayload converts a window's counters into the broadcast payload.
func NewWindowPayload(window Window, counters Counters) WindowPayload {
	return WindowPayload{
		StartBlock:         window.StartBlock,
		EndBlock:           window.EndBlock,
		EnergyDelegated:    SunToTRX(counters.EnergyDelegatedSun),
		EnergyReclaimed:    SunToTRX(counters.EnergyReclaimedSun),
		BandwidthDelegated: SunToTRX(counters.BandwidthDelegatedSun),
		BandwidthReclaimed: SunToTRX(counters.BandwidthReclaimedSun),
		NetEnergy:          SunToTRX(counters.NetEnergySun()),
		NetBandwidth:       SunToTRX(counters.NetBandwidthSun()),
		Delegations:        counters.Delegations,
		Reclaims:           counters.Reclaims,
	}
}

// SunToTRX converts a sun amount to TRX with fixed-point rounding to one
// decimal place.
func SunToTRX(amountSun int64) decimal.Decimal {
	return decimal.NewFromInt(amountSun).
		Div(decimal.NewFromInt(SunPerTRX)).
		Round(1)
}
