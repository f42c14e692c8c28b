package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/models"
)

const escrowColumns = `
	id, buyer_id, seller_id, payment_type, address, redeem_script,
	buyer_pubkey, seller_pubkey, mediator_pubkey,
	buyer_payout_address, seller_payout_address,
	amount, platform_fee, network_fee_estimate, total_due, funded_balance,
	description, timelock_seconds, status, delivery_confirmed,
	dispute_reason, dispute, txid, network_fee_paid, tx_confirmations,
	halted, halt_reason, version, created_at, updated_at, funded_at, shipment`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(&e.ID, &e.BuyerID, &e.SellerID, &e.PaymentType, &e.Address, &e.RedeemScript,
		&e.BuyerPubKey, &e.SellerPubKey, &e.MediatorPubKey,
		&e.BuyerPayoutAddress, &e.SellerPayoutAddress,
		&e.Amount, &e.PlatformFee, &e.NetworkFeeEstimate, &e.TotalDue, &e.FundedBalance,
		&e.Description, &e.TimelockSeconds, &e.Status, &e.DeliveryConfirmed,
		&e.DisputeReason, &e.Dispute, &e.TxID, &e.NetworkFeePaid, &e.TxConfirmations,
		&e.Halted, &e.HaltReason, &e.Version, &e.CreatedAt, &e.UpdatedAt, &e.FundedAt, &e.Shipment)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	if e.Version == 0 {
		e.Version = 1
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
	`, e.ID, e.BuyerID, e.SellerID, e.PaymentType, e.Address, e.RedeemScript,
		e.BuyerPubKey, e.SellerPubKey, e.MediatorPubKey,
		e.BuyerPayoutAddress, e.SellerPayoutAddress,
		e.Amount, e.PlatformFee, e.NetworkFeeEstimate, e.TotalDue, e.FundedBalance,
		e.Description, e.TimelockSeconds, e.Status, e.DeliveryConfirmed,
		e.DisputeReason, e.Dispute, e.TxID, e.NetworkFeePaid, e.TxConfirmations,
		e.Halted, e.HaltReason, e.Version, e.CreatedAt, e.UpdatedAt, e.FundedAt, e.Shipment)
	return err
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	e, err := scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("escrow %s: %w", id, apperr.ErrNotFound)
	}
	return e, err
}

func (r *EscrowRepo) List(ctx context.Context, f models.EscrowFilter) ([]models.Escrow, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(f.Statuses)+")")
	}
	if f.PartyID != "" {
		p := arg(f.PartyID)
		where = append(where, "(buyer_id = "+p+" OR seller_id = "+p+")")
	}
	if f.Halted != nil {
		where = append(where, "halted = "+arg(*f.Halted))
	}
	if f.Unconfirmed {
		where = append(where, "txid IS NOT NULL AND tx_confirmations < "+arg(f.MaxConfirmations))
	}
	if f.AwaitingDelivery {
		where = append(where, "shipment IS NOT NULL AND NOT delivery_confirmed")
	}

	q := `SELECT ` + escrowColumns + ` FROM escrows`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY created_at ASC LIMIT " + arg(limit) + " OFFSET " + arg(f.Offset)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Update writes the mutable fields guarded by the version the caller loaded.
func (r *EscrowRepo) Update(ctx context.Context, e *models.Escrow) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET
			status = $1, delivery_confirmed = $2, dispute_reason = $3, dispute = $4,
			txid = $5, network_fee_paid = $6, funded_balance = $7, funded_at = $8,
			shipment = $9, updated_at = $10, version = version + 1
		WHERE id = $11 AND version = $12
	`, e.Status, e.DeliveryConfirmed, e.DisputeReason, e.Dispute,
		e.TxID, e.NetworkFeePaid, e.FundedBalance, e.FundedAt,
		e.Shipment, e.UpdatedAt, e.ID, e.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow %s at version %d: %w", e.ID, e.Version, apperr.ErrConflict)
	}
	e.Version++
	return nil
}

func (r *EscrowRepo) SetHalt(ctx context.Context, id uuid.UUID, halted bool, reason *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET halted = $1, halt_reason = $2, updated_at = now() WHERE id = $3
	`, halted, reason, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *EscrowRepo) SetConfirmations(ctx context.Context, id uuid.UUID, confirmations int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrows SET tx_confirmations = $1 WHERE id = $2 AND txid IS NOT NULL
	`, confirmations, id)
	return err
}
