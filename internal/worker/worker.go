// Package worker runs the background jobs that move escrows forward without
// a caller: funding detection, carrier delivery checks and payout
// confirmation tracking.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/paybyt/escrowd/internal/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const batchSize = 200

type Config struct {
	FundingInterval    time.Duration
	FundingConcurrency int
	TxStatusInterval   time.Duration
	DeliveryInterval   time.Duration
}

type Worker struct {
	escrows *services.EscrowService
	cfg     Config
	log     *zap.Logger
}

func New(escrows *services.EscrowService, cfg Config, log *zap.Logger) *Worker {
	if cfg.FundingInterval <= 0 {
		cfg.FundingInterval = 30 * time.Second
	}
	if cfg.FundingConcurrency <= 0 {
		cfg.FundingConcurrency = 8
	}
	if cfg.TxStatusInterval <= 0 {
		cfg.TxStatusInterval = 2 * time.Minute
	}
	if cfg.DeliveryInterval <= 0 {
		cfg.DeliveryInterval = 10 * time.Minute
	}
	return &Worker{escrows: escrows, cfg: cfg, log: log}
}

// Run polls on tickers until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	fundingTicker := time.NewTicker(w.cfg.FundingInterval)
	txTicker := time.NewTicker(w.cfg.TxStatusInterval)
	defer fundingTicker.Stop()
	defer txTicker.Stop()

	// a nil channel never fires, so delivery polling is off without a tracker
	var deliveryC <-chan time.Time
	if w.escrows.TracksDelivery() {
		deliveryTicker := time.NewTicker(w.cfg.DeliveryInterval)
		defer deliveryTicker.Stop()
		deliveryC = deliveryTicker.C
	}

	w.log.Info("worker started",
		zap.Duration("funding_interval", w.cfg.FundingInterval),
		zap.Duration("tx_status_interval", w.cfg.TxStatusInterval),
		zap.Bool("delivery_tracking", deliveryC != nil),
	)

	for {
		select {
		case <-fundingTicker.C:
			w.PollFunding(ctx)
		case <-txTicker.C:
			w.PollConfirmations(ctx)
		case <-deliveryC:
			w.PollDeliveries(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PollFunding checks every created, non-halted escrow and returns how many
// became funded. Checks run concurrently up to FundingConcurrency.
func (w *Worker) PollFunding(ctx context.Context) int {
	notHalted := false
	list, err := w.escrows.List(ctx, models.EscrowFilter{
		Statuses: []string{models.EscrowStatusCreated},
		Halted:   &notHalted,
		Limit:    batchSize,
	})
	if err != nil {
		w.log.Error("failed to list escrows awaiting funding", zap.Error(err))
		return 0
	}

	funded := make([]bool, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.FundingConcurrency)
	for i := range list {
		i, id := i, list[i].ID
		g.Go(func() error {
			_, res, err := w.escrows.CheckFunding(gctx, id)
			switch {
			case err == nil:
				funded[i] = res.Funded
				if res.Funded {
					w.log.Info("escrow funded", zap.String("escrow_id", id.String()), zap.Int64("balance", res.Balance))
				}
			case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrAlreadyFinalized):
				// moved on since the listing
			default:
				w.log.Warn("funding check failed", zap.String("escrow_id", id.String()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range funded {
		if f {
			n++
		}
	}
	return n
}

// PollDeliveries asks the carrier about every shipped, non-halted escrow
// whose delivery is unconfirmed and returns how many were confirmed.
func (w *Worker) PollDeliveries(ctx context.Context) int {
	notHalted := false
	list, err := w.escrows.List(ctx, models.EscrowFilter{
		Statuses:         []string{models.EscrowStatusFunded, models.EscrowStatusInProgress},
		Halted:           &notHalted,
		AwaitingDelivery: true,
		Limit:            batchSize,
	})
	if err != nil {
		w.log.Error("failed to list escrows awaiting delivery", zap.Error(err))
		return 0
	}

	n := 0
	for _, e := range list {
		if ctx.Err() != nil {
			break
		}
		_, res, err := w.escrows.VerifyDelivery(ctx, e.ID)
		switch {
		case err == nil:
			if res.Delivered {
				n++
			}
		case errors.Is(err, apperr.ErrInvalidState), errors.Is(err, apperr.ErrAlreadyFinalized):
			// moved on since the listing
		default:
			w.log.Warn("delivery check failed", zap.String("escrow_id", e.ID.String()), zap.Error(err))
		}
	}
	return n
}

// PollConfirmations refreshes the depth of payouts below the confirmation
// target.
func (w *Worker) PollConfirmations(ctx context.Context) {
	list, err := w.escrows.List(ctx, models.EscrowFilter{
		Statuses:         []string{models.EscrowStatusCompleted, models.EscrowStatusRefunded},
		Unconfirmed:      true,
		MaxConfirmations: w.escrows.ConfirmationTarget(),
		Limit:            batchSize,
	})
	if err != nil {
		w.log.Error("failed to list unconfirmed payouts", zap.Error(err))
		return
	}

	for _, e := range list {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.escrows.RefreshConfirmations(ctx, e.ID); err != nil {
			w.log.Warn("tx status refresh failed", zap.String("escrow_id", e.ID.String()), zap.Error(err))
		}
	}
}
