package models

import (
	"time"

	"github.com/google/uuid"
)

// Fee kinds
const (
	FeeKindPlatform = "platform"
	FeeKindMining   = "mining"
	FeeKindRouting  = "routing"
)

func IsValidFeeKind(k string) bool {
	return k == FeeKindPlatform || k == FeeKindMining || k == FeeKindRouting
}

// FeeRecord is one fee collection event. Append-only.
type FeeRecord struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID string     `json:"transaction_id"`
	EscrowID      *uuid.UUID `json:"escrow_id,omitempty"`
	BaseAmount    int64      `json:"base_amount"`
	FeeAmount     int64      `json:"fee_amount"`
	Kind          string     `json:"kind"`
	CreatedAt     time.Time  `json:"created_at"`
}

// FeeDistributionRecord is one platform-fee split event. Append-only.
type FeeDistributionRecord struct {
	ID            uuid.UUID        `json:"id"`
	TransactionID string           `json:"transaction_id"`
	EscrowID      *uuid.UUID       `json:"escrow_id,omitempty"`
	TotalFee      int64            `json:"total_fee"`
	Buckets       map[string]int64 `json:"buckets"`
	CreatedAt     time.Time        `json:"created_at"`
}

type FeeTotals struct {
	Count int   `json:"count"`
	Total int64 `json:"total"`
}

// FeeReport aggregates fee records per kind over a period.
type FeeReport struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Platform FeeTotals `json:"platform"`
	Mining   FeeTotals `json:"mining"`
	Routing  FeeTotals `json:"routing"`
}

// DistributionReport aggregates distribution records per bucket over a period.
type DistributionReport struct {
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	RecordCount int              `json:"record_count"`
	TotalFees   int64            `json:"total_fees"`
	Buckets     map[string]int64 `json:"buckets"`
}
