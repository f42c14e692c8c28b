package dto

import (
	"github.com/paybyt/escrowd/internal/models"
	"github.com/paybyt/escrowd/internal/services"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	// Halted is set when the failure stopped automated processing of the
	// escrow and an operator must reconcile it.
	Halted bool `json:"halted,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// EscrowResponse is an escrow with its amounts also rendered in BTC.
type EscrowResponse struct {
	*models.Escrow
	AmountBTC      string `json:"amount_btc"`
	PlatformFeeBTC string `json:"platform_fee_btc"`
	TotalDueBTC    string `json:"total_due_btc"`
}

func NewEscrowResponse(e *models.Escrow) EscrowResponse {
	return EscrowResponse{
		Escrow:         e,
		AmountBTC:      FormatBTC(e.Amount),
		PlatformFeeBTC: FormatBTC(e.PlatformFee),
		TotalDueBTC:    FormatBTC(e.TotalDue),
	}
}

func NewEscrowList(list []models.Escrow) []EscrowResponse {
	out := make([]EscrowResponse, 0, len(list))
	for i := range list {
		out = append(out, NewEscrowResponse(&list[i]))
	}
	return out
}

// FundingResponse is the escrow after a funding check plus the balance seen.
type FundingResponse struct {
	Escrow  EscrowResponse         `json:"escrow"`
	Funding services.FundingResult `json:"funding"`
}

// DeliveryResponse is the escrow after a carrier lookup plus what the
// carrier reported.
type DeliveryResponse struct {
	Escrow   EscrowResponse          `json:"escrow"`
	Delivery services.DeliveryResult `json:"delivery"`
}

type QuoteResponse struct {
	Channel        string `json:"channel"`
	Amount         int64  `json:"amount"`
	PlatformFee    int64  `json:"platform_fee"`
	NetworkFee     int64  `json:"network_fee"`
	RoutingFee     int64  `json:"routing_fee,omitempty"` // lightning only, not part of total
	Total          int64  `json:"total"`
	TotalBTC       string `json:"total_btc"`
	PlatformFeeBPS int64  `json:"platform_fee_bps"`
}
