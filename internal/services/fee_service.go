package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/fees"
	"github.com/paybyt/escrowd/internal/models"
	"go.uber.org/zap"
)

type FeeService struct {
	calc   *fees.Calculator
	dist   *fees.Distributor
	ledger FeeLedger
	audit  AuditLogger
	log    *zap.Logger
}

func NewFeeService(calc *fees.Calculator, dist *fees.Distributor, ledger FeeLedger, audit AuditLogger, log *zap.Logger) *FeeService {
	return &FeeService{calc: calc, dist: dist, ledger: ledger, audit: audit, log: log}
}

func (s *FeeService) Calculator() *fees.Calculator { return s.calc }

func (s *FeeService) Quote(ctx context.Context, channel string, amount int64) (*fees.Quote, error) {
	return s.calc.Quote(ctx, channel, amount)
}

func (s *FeeService) PlatformFee(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", apperr.ErrInvalidAmount, amount)
	}
	return s.calc.PlatformFee(amount), nil
}

func (s *FeeService) NetworkFee(ctx context.Context, channel string, amount int64, inputs, outputs int) (int64, error) {
	if inputs < 0 || outputs < 0 {
		return 0, fmt.Errorf("%w: negative input or output count", apperr.ErrInvalidRequest)
	}
	return s.calc.EstimateNetworkFee(ctx, channel, amount, inputs, outputs)
}

func (s *FeeService) DistributionConfig() fees.DistributionConfig {
	return s.dist.Config()
}

func (s *FeeService) SetDistributionConfig(ctx context.Context, cfg fees.DistributionConfig, operatorID string) error {
	old := s.dist.Config()
	if err := s.dist.SetConfig(cfg); err != nil {
		return err
	}
	s.log.Info("fee distribution updated", zap.String("operator_id", operatorID), zap.Any("buckets", cfg.Buckets))
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorID:    &operatorID,
		ActorType:  models.ActorOperator,
		Action:     "fee_distribution_updated",
		EntityType: "fee_distribution",
		Meta:       map[string]any{"old": old, "new": cfg},
	})
	return nil
}

func (s *FeeService) PreviewDistribution(total int64) (fees.Distribution, error) {
	return s.dist.Distribute(total)
}

// RecordSettlement appends the ledger entries for a settled escrow: the
// mining fee the payout transaction paid and, when the payout carried a
// platform fee output, that fee and its split. Payouts always settle on
// chain, so lightning escrows record a mining fee too.
func (s *FeeService) RecordSettlement(ctx context.Context, e *models.Escrow, txid string, networkFee, platformFee int64) error {
	now := time.Now().UTC()
	escrowID := e.ID

	if err := s.ledger.RecordFee(ctx, &models.FeeRecord{
		ID:            uuid.New(),
		TransactionID: txid,
		EscrowID:      &escrowID,
		BaseAmount:    e.Amount,
		FeeAmount:     networkFee,
		Kind:          models.FeeKindMining,
		CreatedAt:     now,
	}); err != nil {
		return fmt.Errorf("record mining fee: %w", err)
	}
	if platformFee <= 0 {
		return nil
	}

	if err := s.ledger.RecordFee(ctx, &models.FeeRecord{
		ID:            uuid.New(),
		TransactionID: txid,
		EscrowID:      &escrowID,
		BaseAmount:    e.Amount,
		FeeAmount:     platformFee,
		Kind:          models.FeeKindPlatform,
		CreatedAt:     now,
	}); err != nil {
		return fmt.Errorf("record platform fee: %w", err)
	}

	dist, err := s.dist.Distribute(platformFee)
	if err != nil {
		return err
	}
	if err := s.ledger.RecordDistribution(ctx, &models.FeeDistributionRecord{
		ID:            uuid.New(),
		TransactionID: txid,
		EscrowID:      &escrowID,
		TotalFee:      dist.Total,
		Buckets:       dist.Buckets,
		CreatedAt:     now,
	}); err != nil {
		return fmt.Errorf("record fee distribution: %w", err)
	}
	return nil
}

func (s *FeeService) ListFees(ctx context.Context, f models.FeeFilter) ([]models.FeeRecord, error) {
	if f.Kind != "" && !models.IsValidFeeKind(f.Kind) {
		return nil, fmt.Errorf("%w: unknown fee kind %q", apperr.ErrInvalidRequest, f.Kind)
	}
	return s.ledger.ListFees(ctx, f)
}

func (s *FeeService) ListDistributions(ctx context.Context, f models.FeeFilter) ([]models.FeeDistributionRecord, error) {
	return s.ledger.ListDistributions(ctx, f)
}

func (s *FeeService) FeeReport(ctx context.Context, from, to time.Time) (*models.FeeReport, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: report period end must be after start", apperr.ErrInvalidRequest)
	}
	return s.ledger.FeeReport(ctx, from, to)
}

func (s *FeeService) DistributionReport(ctx context.Context, from, to time.Time) (*models.DistributionReport, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: report period end must be after start", apperr.ErrInvalidRequest)
	}
	return s.ledger.DistributionReport(ctx, from, to)
}
