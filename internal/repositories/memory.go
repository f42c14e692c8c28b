package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/models"
)

// MemoryEscrowRepo keeps escrows in process memory. Every read and write
// copies, so callers never share state with the store.
type MemoryEscrowRepo struct {
	mu      sync.RWMutex
	escrows map[uuid.UUID]*models.Escrow
}

func NewMemoryEscrowRepo() *MemoryEscrowRepo {
	return &MemoryEscrowRepo{escrows: make(map[uuid.UUID]*models.Escrow)}
}

func (r *MemoryEscrowRepo) Create(_ context.Context, e *models.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.escrows[e.ID]; ok {
		return fmt.Errorf("escrow %s exists: %w", e.ID, apperr.ErrConflict)
	}
	for _, other := range r.escrows {
		if other.Address == e.Address {
			return fmt.Errorf("address %s in use: %w", e.Address, apperr.ErrConflict)
		}
	}
	if e.Version == 0 {
		e.Version = 1
	}
	r.escrows[e.ID] = e.Clone()
	return nil
}

func (r *MemoryEscrowRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.escrows[id]
	if !ok {
		return nil, fmt.Errorf("escrow %s: %w", id, apperr.ErrNotFound)
	}
	return e.Clone(), nil
}

func (r *MemoryEscrowRepo) List(_ context.Context, f models.EscrowFilter) ([]models.Escrow, error) {
	r.mu.RLock()
	var out []models.Escrow
	for _, e := range r.escrows {
		if matchEscrow(e, f) {
			out = append(out, *e.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset, 50), nil
}

func matchEscrow(e *models.Escrow, f models.EscrowFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PartyID != "" && e.BuyerID != f.PartyID && e.SellerID != f.PartyID {
		return false
	}
	if f.Halted != nil && e.Halted != *f.Halted {
		return false
	}
	if f.Unconfirmed && (e.TxID == nil || e.TxConfirmations >= f.MaxConfirmations) {
		return false
	}
	if f.AwaitingDelivery && (e.Shipment == nil || e.DeliveryConfirmed) {
		return false
	}
	return true
}

func (r *MemoryEscrowRepo) Update(_ context.Context, e *models.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.escrows[e.ID]
	if !ok {
		return fmt.Errorf("escrow %s: %w", e.ID, apperr.ErrNotFound)
	}
	if cur.Version != e.Version {
		return fmt.Errorf("escrow %s at version %d: %w", e.ID, e.Version, apperr.ErrConflict)
	}
	next := e.Clone()
	next.Version++
	// Halt state and confirmations are owned by their own setters.
	next.Halted = cur.Halted
	next.HaltReason = cur.HaltReason
	next.TxConfirmations = cur.TxConfirmations
	r.escrows[e.ID] = next
	e.Version = next.Version
	return nil
}

func (r *MemoryEscrowRepo) SetHalt(_ context.Context, id uuid.UUID, halted bool, reason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.escrows[id]
	if !ok {
		return fmt.Errorf("escrow %s: %w", id, apperr.ErrNotFound)
	}
	e.Halted = halted
	e.HaltReason = nil
	if reason != nil {
		v := *reason
		e.HaltReason = &v
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryEscrowRepo) SetConfirmations(_ context.Context, id uuid.UUID, confirmations int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.escrows[id]
	if !ok {
		return fmt.Errorf("escrow %s: %w", id, apperr.ErrNotFound)
	}
	if e.TxID != nil {
		e.TxConfirmations = confirmations
	}
	return nil
}

type MemoryFeeRepo struct {
	mu            sync.RWMutex
	fees          []models.FeeRecord
	distributions []models.FeeDistributionRecord
}

func NewMemoryFeeRepo() *MemoryFeeRepo {
	return &MemoryFeeRepo{}
}

func (r *MemoryFeeRepo) RecordFee(_ context.Context, rec *models.FeeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fees = append(r.fees, *rec)
	return nil
}

func (r *MemoryFeeRepo) RecordDistribution(_ context.Context, rec *models.FeeDistributionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	cp.Buckets = make(map[string]int64, len(rec.Buckets))
	for k, v := range rec.Buckets {
		cp.Buckets[k] = v
	}
	r.distributions = append(r.distributions, cp)
	return nil
}

func inPeriod(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}

func sameEscrow(a, b *uuid.UUID) bool {
	return b == nil || (a != nil && *a == *b)
}

func (r *MemoryFeeRepo) ListFees(_ context.Context, f models.FeeFilter) ([]models.FeeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.FeeRecord
	for i := len(r.fees) - 1; i >= 0; i-- {
		rec := r.fees[i]
		if !inPeriod(rec.CreatedAt, f.From, f.To) || !sameEscrow(rec.EscrowID, f.EscrowID) {
			continue
		}
		if f.Kind != "" && rec.Kind != f.Kind {
			continue
		}
		out = append(out, rec)
	}
	return page(out, f.Limit, f.Offset, 100), nil
}

func (r *MemoryFeeRepo) ListDistributions(_ context.Context, f models.FeeFilter) ([]models.FeeDistributionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.FeeDistributionRecord
	for i := len(r.distributions) - 1; i >= 0; i-- {
		rec := r.distributions[i]
		if inPeriod(rec.CreatedAt, f.From, f.To) && sameEscrow(rec.EscrowID, f.EscrowID) {
			out = append(out, rec)
		}
	}
	return page(out, f.Limit, f.Offset, 100), nil
}

func (r *MemoryFeeRepo) FeeReport(_ context.Context, from, to time.Time) (*models.FeeReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report := &models.FeeReport{From: from, To: to}
	for _, rec := range r.fees {
		if !inPeriod(rec.CreatedAt, &from, &to) {
			continue
		}
		var t *models.FeeTotals
		switch rec.Kind {
		case models.FeeKindPlatform:
			t = &report.Platform
		case models.FeeKindMining:
			t = &report.Mining
		case models.FeeKindRouting:
			t = &report.Routing
		default:
			continue
		}
		t.Count++
		t.Total += rec.FeeAmount
	}
	return report, nil
}

func (r *MemoryFeeRepo) DistributionReport(_ context.Context, from, to time.Time) (*models.DistributionReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report := &models.DistributionReport{From: from, To: to, Buckets: map[string]int64{}}
	for _, rec := range r.distributions {
		if !inPeriod(rec.CreatedAt, &from, &to) {
			continue
		}
		report.RecordCount++
		report.TotalFees += rec.TotalFee
		for k, v := range rec.Buckets {
			report.Buckets[k] += v
		}
	}
	return report, nil
}

type MemoryAuditRepo struct {
	mu      sync.RWMutex
	entries []models.AuditLog
}

func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

func (r *MemoryAuditRepo) Log(_ context.Context, entry models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryAuditRepo) ListByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit int) ([]models.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.AuditLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return page(out, limit, 0, 50), nil
}

func page[T any](items []T, limit, offset, def int) []T {
	if limit <= 0 {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
