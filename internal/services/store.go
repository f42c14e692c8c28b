package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paybyt/escrowd/internal/models"
)

// EscrowStore persists escrows. Update applies only when the stored version
// matches e.Version and fails with apperr.ErrConflict otherwise; on success
// e.Version is advanced.
type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	List(ctx context.Context, f models.EscrowFilter) ([]models.Escrow, error)
	Update(ctx context.Context, e *models.Escrow) error
	// SetHalt records or clears a halt without touching status or version.
	SetHalt(ctx context.Context, id uuid.UUID, halted bool, reason *string) error
	SetConfirmations(ctx context.Context, id uuid.UUID, confirmations int64) error
}

// FeeLedger is the append-only fee and distribution ledger.
type FeeLedger interface {
	RecordFee(ctx context.Context, r *models.FeeRecord) error
	RecordDistribution(ctx context.Context, r *models.FeeDistributionRecord) error
	ListFees(ctx context.Context, f models.FeeFilter) ([]models.FeeRecord, error)
	ListDistributions(ctx context.Context, f models.FeeFilter) ([]models.FeeDistributionRecord, error)
	FeeReport(ctx context.Context, from, to time.Time) (*models.FeeReport, error)
	DistributionReport(ctx context.Context, from, to time.Time) (*models.DistributionReport, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]models.AuditLog, error)
}
