package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEscrow(addr, buyer string, status string, created time.Time) *models.Escrow {
	return &models.Escrow{
		ID:        uuid.New(),
		BuyerID:   buyer,
		SellerID:  "seller",
		Address:   addr,
		Amount:    10_000,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryEscrowUpdateIsVersioned(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEscrowRepo()
	e := newEscrow("2N1", "b1", models.EscrowStatusCreated, time.Now())
	require.NoError(t, repo.Create(ctx, e))
	assert.Equal(t, 1, e.Version)

	a, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)

	a.Status = models.EscrowStatusFunded
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, 2, a.Version)

	b.Status = models.EscrowStatusFunded
	assert.ErrorIs(t, repo.Update(ctx, b), apperr.ErrConflict)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryEscrowRejectsReusedAddress(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEscrowRepo()
	require.NoError(t, repo.Create(ctx, newEscrow("2N1", "b1", models.EscrowStatusCreated, time.Now())))
	assert.ErrorIs(t, repo.Create(ctx, newEscrow("2N1", "b2", models.EscrowStatusCreated, time.Now())), apperr.ErrConflict)
}

func TestMemoryEscrowUpdateKeepsHaltState(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEscrowRepo()
	e := newEscrow("2N1", "b1", models.EscrowStatusFunded, time.Now())
	require.NoError(t, repo.Create(ctx, e))

	stale, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	reason := "broadcast rejected"
	require.NoError(t, repo.SetHalt(ctx, e.ID, true, &reason))

	stale.DeliveryConfirmed = true
	require.NoError(t, repo.Update(ctx, stale))

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Halted)
	assert.Equal(t, reason, *got.HaltReason)
	assert.True(t, got.DeliveryConfirmed)
}

func TestMemoryEscrowListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEscrowRepo()
	base := time.Now().Add(-time.Hour)

	created := newEscrow("a1", "alice", models.EscrowStatusCreated, base)
	funded := newEscrow("a2", "bob", models.EscrowStatusFunded, base.Add(time.Minute))
	paid := newEscrow("a3", "alice", models.EscrowStatusCompleted, base.Add(2*time.Minute))
	txid := "ab"
	paid.TxID = &txid
	funded.Shipment = &models.Shipment{Carrier: "dhl", TrackingCode: "JD0001", Status: models.DeliveryInTransit}
	for _, e := range []*models.Escrow{created, funded, paid} {
		require.NoError(t, repo.Create(ctx, e))
	}
	require.NoError(t, repo.SetConfirmations(ctx, paid.ID, 2))

	got, err := repo.List(ctx, models.EscrowFilter{Statuses: []string{models.EscrowStatusCreated, models.EscrowStatusFunded}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, created.ID, got[0].ID)

	got, err = repo.List(ctx, models.EscrowFilter{PartyID: "alice"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = repo.List(ctx, models.EscrowFilter{Unconfirmed: true, MaxConfirmations: 6})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].TxConfirmations)

	got, err = repo.List(ctx, models.EscrowFilter{AwaitingDelivery: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, funded.ID, got[0].ID)
	require.NotNil(t, got[0].Shipment)
	assert.Equal(t, "JD0001", got[0].Shipment.TrackingCode)

	got, err = repo.List(ctx, models.EscrowFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, paid.ID, got[0].ID)

	got, err = repo.List(ctx, models.EscrowFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryFeeReports(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryFeeRepo()
	now := time.Now().UTC()
	escrowID := uuid.New()

	recs := []models.FeeRecord{
		{ID: uuid.New(), TransactionID: "t1", EscrowID: &escrowID, BaseAmount: 100_000, FeeAmount: 1_000, Kind: models.FeeKindPlatform, CreatedAt: now},
		{ID: uuid.New(), TransactionID: "t1", EscrowID: &escrowID, BaseAmount: 100_000, FeeAmount: 2_260, Kind: models.FeeKindMining, CreatedAt: now},
		{ID: uuid.New(), TransactionID: "t0", BaseAmount: 500_000, FeeAmount: 5_000, Kind: models.FeeKindPlatform, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for i := range recs {
		require.NoError(t, repo.RecordFee(ctx, &recs[i]))
	}
	require.NoError(t, repo.RecordDistribution(ctx, &models.FeeDistributionRecord{
		ID: uuid.New(), TransactionID: "t1", EscrowID: &escrowID, TotalFee: 1_000,
		Buckets:   map[string]int64{"operations": 400, "development": 300, "reserve": 200, "community": 100},
		CreatedAt: now,
	}))

	from, to := now.Add(-time.Hour), now.Add(time.Hour)
	report, err := repo.FeeReport(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, models.FeeTotals{Count: 1, Total: 1_000}, report.Platform)
	assert.Equal(t, models.FeeTotals{Count: 1, Total: 2_260}, report.Mining)
	assert.Zero(t, report.Routing.Count)

	dist, err := repo.DistributionReport(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, dist.RecordCount)
	assert.Equal(t, int64(1_000), dist.TotalFees)
	assert.Equal(t, int64(400), dist.Buckets["operations"])

	platform, err := repo.ListFees(ctx, models.FeeFilter{Kind: models.FeeKindPlatform})
	require.NoError(t, err)
	require.Len(t, platform, 2)
	assert.Equal(t, "t0", platform[1].TransactionID)

	forEscrow, err := repo.ListFees(ctx, models.FeeFilter{EscrowID: &escrowID})
	require.NoError(t, err)
	assert.Len(t, forEscrow, 2)
}

func TestMemoryAuditNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditRepo()
	id := uuid.New()
	for _, action := range []string{"escrow_created", "escrow_status_created_to_funded"} {
		require.NoError(t, repo.Log(ctx, models.AuditLog{ActorType: models.ActorSystem, Action: action, EntityType: "escrow", EntityID: &id}))
	}
	other := uuid.New()
	require.NoError(t, repo.Log(ctx, models.AuditLog{Action: "escrow_created", EntityType: "escrow", EntityID: &other}))

	got, err := repo.ListByEntity(ctx, "escrow", id, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "escrow_status_created_to_funded", got[0].Action)
	assert.NotEqual(t, uuid.Nil, got[0].ID)
}
