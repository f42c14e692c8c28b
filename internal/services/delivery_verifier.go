package services

import (
	"context"
	"fmt"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/delivery"
	"github.com/paybyt/escrowd/internal/metrics"
	"github.com/paybyt/escrowd/internal/models"
	"go.uber.org/zap"
)

type DeliveryResult struct {
	Delivered bool      `json:"delivered"`
	Status    string    `json:"status"`
	Details   string    `json:"details,omitempty"`
	ProofHash string    `json:"proof_hash,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// DeliveryVerifier asks the carrier whether an escrow's shipment arrived.
// Like PaymentVerifier it makes one tracker call, never retries, and never
// mutates the escrow.
type DeliveryVerifier struct {
	tracker delivery.Tracker
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewDeliveryVerifier(tracker delivery.Tracker, m *metrics.Metrics, log *zap.Logger) *DeliveryVerifier {
	return &DeliveryVerifier{tracker: tracker, metrics: m, log: log}
}

func (v *DeliveryVerifier) CheckDelivery(ctx context.Context, e *models.Escrow) (DeliveryResult, error) {
	if e.Shipment == nil {
		return DeliveryResult{}, fmt.Errorf("%w: no shipment registered", apperr.ErrInvalidState)
	}
	rep, err := v.tracker.Track(ctx, e.Shipment.Carrier, e.Shipment.TrackingCode)
	if err != nil {
		v.metrics.DeliveryCheck("error")
		return DeliveryResult{}, err
	}

	res := DeliveryResult{
		Delivered: rep.Status == models.DeliveryDelivered,
		Status:    rep.Status,
		Details:   rep.Details,
		CheckedAt: time.Now().UTC(),
	}
	if res.Delivered {
		res.ProofHash = delivery.ProofHash(*rep)
	}
	v.metrics.DeliveryCheck(rep.Status)
	v.log.Debug("delivery checked",
		zap.String("escrow_id", e.ID.String()),
		zap.String("carrier", e.Shipment.Carrier),
		zap.String("status", rep.Status),
	)
	return res, nil
}
