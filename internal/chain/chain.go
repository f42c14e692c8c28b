// Package chain isolates the external chain-data provider and fee-rate
// oracle behind narrow interfaces. Nothing outside this package knows the
// response shape of a particular block explorer.
package chain

import "context"

// UTXO is an unspent output at an address. Value is in satoshis.
type UTXO struct {
	TxID      string `json:"txid"`
	Vout      uint32 `json:"vout"`
	Value     int64  `json:"value"`
	Confirmed bool   `json:"confirmed"`
}

type TxStatus struct {
	TxID          string `json:"txid"`
	Confirmed     bool   `json:"confirmed"`
	BlockHeight   int64  `json:"block_height,omitempty"`
	Confirmations int64  `json:"confirmations"`
}

// Provider is the chain data contract the engine consumes.
//
// Transient failures are wrapped with apperr.ErrNetwork; a broadcast the
// network refuses is wrapped with apperr.ErrRejectedByNetwork.
type Provider interface {
	GetUTXOs(ctx context.Context, address string) ([]UTXO, error)
	GetBalance(ctx context.Context, address string) (int64, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
	GetTxStatus(ctx context.Context, txid string) (*TxStatus, error)
}

// FeeRates are recommended sat/byte rates by confirmation target.
type FeeRates struct {
	Fast   int64 `json:"fast"`
	Medium int64 `json:"medium"`
	Slow   int64 `json:"slow"`
}

// Tier returns the rate for a named tier, falling back to Medium.
func (r FeeRates) Tier(tier string) int64 {
	switch tier {
	case "fast":
		return r.Fast
	case "slow":
		return r.Slow
	default:
		return r.Medium
	}
}

type FeeOracle interface {
	RecommendedSatsPerByte(ctx context.Context) (FeeRates, error)
}
