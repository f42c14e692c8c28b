package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow statuses
const (
	EscrowStatusCreated    = "created"
	EscrowStatusFunded     = "funded"
	EscrowStatusInProgress = "in_progress"
	EscrowStatusCompleted  = "completed"
	EscrowStatusRefunded   = "refunded"
	EscrowStatusDisputed   = "disputed"
)

// Payment channels
const (
	PaymentTypeOnChain   = "onchain"
	PaymentTypeLightning = "lightning"
)

// MaxAmount is the total bitcoin supply in satoshis. No escrow can hold more.
const MaxAmount int64 = 21_000_000 * 100_000_000

// Valid state transitions: from -> []to
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusCreated:    {EscrowStatusFunded},
	EscrowStatusFunded:     {EscrowStatusInProgress, EscrowStatusCompleted, EscrowStatusRefunded, EscrowStatusDisputed},
	EscrowStatusInProgress: {EscrowStatusInProgress, EscrowStatusCompleted, EscrowStatusRefunded, EscrowStatusDisputed},
	EscrowStatusDisputed:   {EscrowStatusCompleted, EscrowStatusRefunded},
	EscrowStatusCompleted:  {},
	EscrowStatusRefunded:   {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave status.
func IsTerminal(status string) bool {
	return status == EscrowStatusCompleted || status == EscrowStatusRefunded
}

func IsValidPaymentType(t string) bool {
	return t == PaymentTypeOnChain || t == PaymentTypeLightning
}

type Escrow struct {
	ID          uuid.UUID `json:"id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	PaymentType string    `json:"payment_type"` // onchain / lightning

	Address        string `json:"address"`
	RedeemScript   string `json:"redeem_script"` // hex
	BuyerPubKey    string `json:"buyer_pubkey"`
	SellerPubKey   string `json:"seller_pubkey"`
	MediatorPubKey string `json:"mediator_pubkey"`

	// Payout destinations. Default to the P2PKH address of the party's key.
	BuyerPayoutAddress  string `json:"buyer_payout_address"`
	SellerPayoutAddress string `json:"seller_payout_address"`

	// Amounts are satoshis.
	Amount             int64 `json:"amount"`
	PlatformFee        int64 `json:"platform_fee"`
	NetworkFeeEstimate int64 `json:"network_fee_estimate"`
	TotalDue           int64 `json:"total_due"`
	FundedBalance      int64 `json:"funded_balance"`

	Description     string `json:"description"`
	TimelockSeconds int64  `json:"timelock_seconds"`

	Status            string         `json:"status"`
	DeliveryConfirmed bool           `json:"delivery_confirmed"`
	DisputeReason     *string        `json:"dispute_reason,omitempty"`
	Dispute           *DisputeRecord `json:"dispute,omitempty"`
	Shipment          *Shipment      `json:"shipment,omitempty"`
	TxID              *string        `json:"txid,omitempty"`
	NetworkFeePaid    int64          `json:"network_fee_paid"`
	TxConfirmations   int64          `json:"tx_confirmations"`

	Halted     bool    `json:"halted"`
	HaltReason *string `json:"halt_reason,omitempty"`

	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	FundedAt  *time.Time `json:"funded_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate a working copy and discard
// it when a transition fails.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	c := *e
	c.DisputeReason = cloneString(e.DisputeReason)
	c.TxID = cloneString(e.TxID)
	c.HaltReason = cloneString(e.HaltReason)
	if e.FundedAt != nil {
		t := *e.FundedAt
		c.FundedAt = &t
	}
	c.Dispute = e.Dispute.Clone()
	c.Shipment = e.Shipment.Clone()
	return &c
}

func (e *Escrow) Timelock() time.Duration {
	return time.Duration(e.TimelockSeconds) * time.Second
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
