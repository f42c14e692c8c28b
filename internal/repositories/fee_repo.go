package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paybyt/escrowd/internal/models"
)

type FeeRepo struct {
	pool *pgxpool.Pool
}

func NewFeeRepo(pool *pgxpool.Pool) *FeeRepo {
	return &FeeRepo{pool: pool}
}

func (r *FeeRepo) RecordFee(ctx context.Context, rec *models.FeeRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO fee_records (id, transaction_id, escrow_id, base_amount, fee_amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.TransactionID, rec.EscrowID, rec.BaseAmount, rec.FeeAmount, rec.Kind, rec.CreatedAt)
	return err
}

func (r *FeeRepo) RecordDistribution(ctx context.Context, rec *models.FeeDistributionRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO fee_distribution_records (id, transaction_id, escrow_id, total_fee, buckets, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.TransactionID, rec.EscrowID, rec.TotalFee, rec.Buckets, rec.CreatedAt)
	return err
}

// feeWhere builds the shared WHERE clause for ledger listings.
func feeWhere(f models.FeeFilter, withKind bool) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	if f.EscrowID != nil {
		add("escrow_id = $%d", *f.EscrowID)
	}
	if withKind && f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, f.Offset)
	clause += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return clause, args
}

func (r *FeeRepo) ListFees(ctx context.Context, f models.FeeFilter) ([]models.FeeRecord, error) {
	clause, args := feeWhere(f, true)
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, escrow_id, base_amount, fee_amount, kind, created_at
		FROM fee_records`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FeeRecord
	for rows.Next() {
		var rec models.FeeRecord
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.EscrowID, &rec.BaseAmount, &rec.FeeAmount, &rec.Kind, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *FeeRepo) ListDistributions(ctx context.Context, f models.FeeFilter) ([]models.FeeDistributionRecord, error) {
	clause, args := feeWhere(f, false)
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, escrow_id, total_fee, buckets, created_at
		FROM fee_distribution_records`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FeeDistributionRecord
	for rows.Next() {
		var rec models.FeeDistributionRecord
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.EscrowID, &rec.TotalFee, &rec.Buckets, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *FeeRepo) FeeReport(ctx context.Context, from, to time.Time) (*models.FeeReport, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, COUNT(*), COALESCE(SUM(fee_amount), 0)
		FROM fee_records WHERE created_at >= $1 AND created_at < $2
		GROUP BY kind
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &models.FeeReport{From: from, To: to}
	for rows.Next() {
		var (
			kind   string
			totals models.FeeTotals
		)
		if err := rows.Scan(&kind, &totals.Count, &totals.Total); err != nil {
			return nil, err
		}
		switch kind {
		case models.FeeKindPlatform:
			report.Platform = totals
		case models.FeeKindMining:
			report.Mining = totals
		case models.FeeKindRouting:
			report.Routing = totals
		}
	}
	return report, rows.Err()
}

func (r *FeeRepo) DistributionReport(ctx context.Context, from, to time.Time) (*models.DistributionReport, error) {
	report := &models.DistributionReport{From: from, To: to, Buckets: map[string]int64{}}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_fee), 0)
		FROM fee_distribution_records WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&report.RecordCount, &report.TotalFees)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT b.key, COALESCE(SUM(b.value::BIGINT), 0)
		FROM fee_distribution_records d, jsonb_each_text(d.buckets) AS b
		WHERE d.created_at >= $1 AND d.created_at < $2
		GROUP BY b.key
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name  string
			total int64
		)
		if err := rows.Scan(&name, &total); err != nil {
			return nil, err
		}
		report.Buckets[name] = total
	}
	return report, rows.Err()
}
