package models

import (
	"time"

	"github.com/google/uuid"
)

type EscrowFilter struct {
	Statuses []string
	// PartyID matches either the buyer or the seller.
	PartyID string
	Halted  *bool
	// Unconfirmed selects escrows whose payout tx is below MaxConfirmations.
	Unconfirmed      bool
	MaxConfirmations int64
	// AwaitingDelivery selects escrows with a registered shipment whose
	// delivery is not yet confirmed.
	AwaitingDelivery bool
	Limit            int
	Offset           int
}

type FeeFilter struct {
	From     *time.Time
	To       *time.Time
	Kind     string
	EscrowID *uuid.UUID
	Limit    int
	Offset   int
}
