package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/delivery"
	"github.com/paybyt/escrowd/internal/events"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sellerActor = Actor{ID: "seller-1", Type: models.ActorUser}

func TestVerifyDeliveryConfirmsFromCarrier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.funded(t, 200_000)
	require.True(t, h.svc.TracksDelivery())

	_, _, err := h.svc.VerifyDelivery(ctx, e.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := h.svc.RegisterShipment(ctx, e.ID, " DHL ", "JD0001", sellerActor)
	require.NoError(t, err)
	require.NotNil(t, got.Shipment)
	assert.Equal(t, "DHL", got.Shipment.Carrier)
	assert.Equal(t, models.DeliveryPending, got.Shipment.Status)
	assert.Equal(t, 1, h.pub.count(events.EventShipmentRegistered))

	h.tracker.SetStatus("DHL", "JD0001", models.DeliveryInTransit, "")
	got, res, err := h.svc.VerifyDelivery(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.False(t, got.DeliveryConfirmed)
	assert.Equal(t, models.EscrowStatusFunded, got.Status)
	assert.Equal(t, models.DeliveryInTransit, got.Shipment.Status)
	assert.NotNil(t, got.Shipment.CheckedAt)
	assert.Empty(t, got.Shipment.ProofHash)

	_, err = h.svc.Release(ctx, e.ID, SignerSet{h.buyer, h.seller}, buyerActor)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	h.tracker.SetStatus("DHL", "JD0001", models.DeliveryDelivered, "signed by J. Doe")
	got, res, err = h.svc.VerifyDelivery(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.True(t, got.DeliveryConfirmed)
	assert.Equal(t, models.EscrowStatusInProgress, got.Status)

	want := delivery.ProofHash(delivery.Report{
		Carrier:      "DHL",
		TrackingCode: "JD0001",
		Status:       models.DeliveryDelivered,
		Proof:        "signed by J. Doe",
		UpdatedAt:    time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, want, res.ProofHash)
	assert.Equal(t, want, got.Shipment.ProofHash)
	assert.Equal(t, 1, h.pub.count(events.EventDeliveryVerified))

	// confirmed deliveries are not looked up again
	again, res, err := h.svc.VerifyDelivery(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, want, again.Shipment.ProofHash)
	assert.Equal(t, 2, h.tracker.Calls())

	trail, err := h.svc.Events(ctx, e.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "escrow_status_funded_to_in_progress", trail[0].Action)
	require.NotNil(t, trail[0].ActorID)
	assert.Equal(t, DeliveryOracleActor.ID, *trail[0].ActorID)

	paid, err := h.svc.Release(ctx, e.ID, SignerSet{h.buyer, h.seller}, buyerActor)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusCompleted, paid.Status)
}

func TestRegisterShipmentGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("not funded", func(t *testing.T) {
		h := newHarness(t)
		e := h.create(t, 100_000)
		_, err := h.svc.RegisterShipment(ctx, e.ID, "dhl", "X1", sellerActor)
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	})

	t.Run("missing tracking code", func(t *testing.T) {
		h := newHarness(t)
		e := h.funded(t, 100_000)
		_, err := h.svc.RegisterShipment(ctx, e.ID, "dhl", "  ", sellerActor)
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	})

	t.Run("already delivered", func(t *testing.T) {
		h := newHarness(t)
		e := h.delivered(t, 100_000)
		_, err := h.svc.RegisterShipment(ctx, e.ID, "dhl", "X1", sellerActor)
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	})

	t.Run("disputed", func(t *testing.T) {
		h := newHarness(t)
		e := h.funded(t, 100_000)
		_, err := h.svc.RegisterShipment(ctx, e.ID, "dhl", "X1", sellerActor)
		require.NoError(t, err)
		_, err = h.svc.OpenDispute(ctx, e.ID, models.RoleBuyer, "never arrived", buyerActor)
		require.NoError(t, err)

		h.tracker.SetStatus("dhl", "X1", models.DeliveryDelivered, "")
		_, _, err = h.svc.VerifyDelivery(ctx, e.ID)
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
		assert.Zero(t, h.tracker.Calls())
	})
}

func TestVerifyDeliveryTrackerErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("network errors are retried", func(t *testing.T) {
		h := newHarness(t)
		e := h.funded(t, 100_000)
		_, err := h.svc.RegisterShipment(ctx, e.ID, "ups", "1Z999", sellerActor)
		require.NoError(t, err)
		h.tracker.SetStatus("ups", "1Z999", models.DeliveryDelivered, "")
		h.tracker.Errs = []error{fmt.Errorf("%w: timeout", apperr.ErrNetwork), apperr.ErrNetwork}

		got, res, err := h.svc.VerifyDelivery(ctx, e.ID)
		require.NoError(t, err)
		assert.True(t, res.Delivered)
		assert.True(t, got.DeliveryConfirmed)
		assert.Equal(t, 3, h.tracker.Calls())
	})

	t.Run("unknown tracking code", func(t *testing.T) {
		h := newHarness(t)
		e := h.funded(t, 100_000)
		_, err := h.svc.RegisterShipment(ctx, e.ID, "ups", "missing", sellerActor)
		require.NoError(t, err)

		_, _, err = h.svc.VerifyDelivery(ctx, e.ID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.Equal(t, 1, h.tracker.Calls())

		stored, err := h.svc.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.False(t, stored.DeliveryConfirmed)
		assert.Equal(t, models.DeliveryPending, stored.Shipment.Status)
	})
}
