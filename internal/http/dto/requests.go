package dto

import "github.com/paybyt/escrowd/internal/fees"

// Amounts are satoshis. Where a request takes an amount it also accepts
// amount_btc as a decimal string; see ParseSats.

type CreateEscrowRequest struct {
	BuyerID             string `json:"buyer_id"`
	SellerID            string `json:"seller_id"`
	BuyerPubKey         string `json:"buyer_pubkey"`
	SellerPubKey        string `json:"seller_pubkey"`
	BuyerPayoutAddress  string `json:"buyer_payout_address,omitempty"`
	SellerPayoutAddress string `json:"seller_payout_address,omitempty"`
	Amount              *int64 `json:"amount,omitempty"`
	AmountBTC           string `json:"amount_btc,omitempty"`
	Description         string `json:"description"`
	TimelockHours       int    `json:"timelock_hours"`
	PaymentType         string `json:"payment_type,omitempty"` // onchain / lightning
}

// SignRequest carries the two co-signing keys as WIF strings.
type SignRequest struct {
	Signers []string `json:"signers"`
}

type RegisterShipmentRequest struct {
	Carrier      string `json:"carrier"`
	TrackingCode string `json:"tracking_code"`
}

type OpenDisputeRequest struct {
	Role   string `json:"role,omitempty"` // buyer / seller; derived from the caller when empty
	Reason string `json:"reason"`
}

type SubmitEvidenceRequest struct {
	Kind    string `json:"kind"` // text / image / document / other
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

type ResolveDisputeRequest struct {
	Decision      string   `json:"decision"` // buyer / seller / split
	SplitBuyerBPS *int     `json:"split_buyer_bps,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Signers       []string `json:"signers"`
}

type ClearHaltRequest struct {
	Note string `json:"note"`
}

type DistributionConfigRequest struct {
	Buckets         []fees.Bucket `json:"buckets"`
	RemainderBucket string        `json:"remainder_bucket,omitempty"`
}

type PreviewDistributionRequest struct {
	Amount    *int64 `json:"amount,omitempty"`
	AmountBTC string `json:"amount_btc,omitempty"`
}
