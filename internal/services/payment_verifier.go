package services

import (
	"context"
	"time"

	"github.com/paybyt/escrowd/internal/chain"
	"github.com/paybyt/escrowd/internal/metrics"
	"github.com/paybyt/escrowd/internal/models"
	"go.uber.org/zap"
)

type FundingResult struct {
	Funded    bool      `json:"funded"`
	Balance   int64     `json:"balance"`
	Required  int64     `json:"required"`
	CheckedAt time.Time `json:"checked_at"`
}

// PaymentVerifier compares the escrow address balance with the trade amount.
// It performs one provider call, never retries, and never mutates the escrow.
type PaymentVerifier struct {
	provider chain.Provider
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewPaymentVerifier(provider chain.Provider, m *metrics.Metrics, log *zap.Logger) *PaymentVerifier {
	return &PaymentVerifier{provider: provider, metrics: m, log: log}
}

func (v *PaymentVerifier) CheckFunding(ctx context.Context, e *models.Escrow) (FundingResult, error) {
	balance, err := v.provider.GetBalance(ctx, e.Address)
	if err != nil {
		v.metrics.FundingCheck("error")
		return FundingResult{}, err
	}

	res := FundingResult{
		Funded:    balance >= e.Amount,
		Balance:   balance,
		Required:  e.Amount,
		CheckedAt: time.Now().UTC(),
	}
	if res.Funded {
		v.metrics.FundingCheck("funded")
	} else {
		v.metrics.FundingCheck("insufficient")
	}
	v.log.Debug("funding checked",
		zap.String("escrow_id", e.ID.String()),
		zap.String("address", e.Address),
		zap.Int64("balance", balance),
		zap.Int64("required", e.Amount),
	)
	return res, nil
}
