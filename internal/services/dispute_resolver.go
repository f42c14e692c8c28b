package services

import (
	"context"
	"fmt"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/fees"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/paybyt/escrowd/internal/multisig"
	"github.com/paybyt/escrowd/internal/retry"
	"go.uber.org/zap"
)

type ResolveInput struct {
	Decision string
	// SplitBuyerBPS is the buyer's share in basis points for a split;
	// nil uses the configured default.
	SplitBuyerBPS *int
	Notes         string
	Signers       SignerSet
	MediatorID    string
}

type Outcome struct {
	Decision      string
	Status        string
	TxID          string
	NetworkFee    int64
	PlatformFee   int64
	Payments      []multisig.Payment
	SplitBuyerBPS *int
}

// DisputeResolver turns a mediator's decision on a disputed escrow into one
// signed and broadcast transaction. It does not persist anything.
type DisputeResolver struct {
	settler         *settler
	defaultSplitBPS int
	log             *zap.Logger
}

func NewDisputeResolver(builder *multisig.Builder, policy retry.Policy, defaultSplitBPS int, log *zap.Logger) *DisputeResolver {
	if defaultSplitBPS <= 0 || defaultSplitBPS >= 10000 {
		defaultSplitBPS = 5000
	}
	return &DisputeResolver{
		settler:         &settler{builder: builder, retry: policy, log: log},
		defaultSplitBPS: defaultSplitBPS,
		log:             log,
	}
}

// Plan validates the decision and signers and returns the payments it
// implies, without touching the chain.
func (r *DisputeResolver) Plan(e *models.Escrow, in ResolveInput) ([]multisig.Payment, *int, error) {
	if e.Status != models.EscrowStatusDisputed {
		return nil, nil, fmt.Errorf("%w: resolve from %s", apperr.ErrInvalidTransition, e.Status)
	}
	switch in.Decision {
	case models.DecisionBuyer:
		if err := in.Signers.require(e, models.RoleMediator, models.RoleBuyer); err != nil {
			return nil, nil, err
		}
		return []multisig.Payment{{Address: e.BuyerPayoutAddress, Amount: e.Amount}}, nil, nil

	case models.DecisionSeller:
		if err := in.Signers.require(e, models.RoleMediator, models.RoleSeller); err != nil {
			return nil, nil, err
		}
		return []multisig.Payment{{Address: e.SellerPayoutAddress, Amount: e.Amount}}, nil, nil

	case models.DecisionSplit:
		if err := in.Signers.require(e, models.RoleMediator); err != nil {
			return nil, nil, err
		}
		bps := r.defaultSplitBPS
		if in.SplitBuyerBPS != nil {
			bps = *in.SplitBuyerBPS
		}
		if bps <= 0 || bps >= 10000 {
			return nil, nil, fmt.Errorf("%w: split share %d bps out of range", apperr.ErrInvalidDecision, bps)
		}
		buyerShare := fees.ApplyBPS(e.Amount, int64(bps))
		sellerShare := e.Amount - buyerShare
		if buyerShare < multisig.DustLimit || sellerShare < multisig.DustLimit {
			return nil, nil, fmt.Errorf("%w: split leg below dust (%d/%d)", apperr.ErrInvalidAmount, buyerShare, sellerShare)
		}
		return []multisig.Payment{
			{Address: e.BuyerPayoutAddress, Amount: buyerShare},
			{Address: e.SellerPayoutAddress, Amount: sellerShare},
		}, &bps, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", apperr.ErrInvalidDecision, in.Decision)
	}
}

// Resolve broadcasts the decision. A split is one transaction with both
// legs, so either both parties are paid or neither is. platform, when set,
// rides along in the same transaction.
func (r *DisputeResolver) Resolve(ctx context.Context, e *models.Escrow, in ResolveInput, platform *multisig.Payment) (*Outcome, error) {
	payments, bps, err := r.Plan(e, in)
	if err != nil {
		return nil, err
	}

	st, err := r.settler.settle(ctx, e, payments, platform, in.Signers)
	if err != nil {
		return nil, err
	}

	status := models.EscrowStatusCompleted
	if in.Decision == models.DecisionBuyer {
		status = models.EscrowStatusRefunded
	}
	r.log.Info("dispute resolved on chain",
		zap.String("escrow_id", e.ID.String()),
		zap.String("decision", in.Decision),
		zap.String("txid", st.TxID),
	)
	return &Outcome{
		Decision:      in.Decision,
		Status:        status,
		TxID:          st.TxID,
		NetworkFee:    st.Fee,
		PlatformFee:   st.PlatformFee,
		Payments:      payments,
		SplitBuyerBPS: bps,
	}, nil
}
