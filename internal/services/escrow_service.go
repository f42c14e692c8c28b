package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/chain"
	"github.com/paybyt/escrowd/internal/events"
	"github.com/paybyt/escrowd/internal/locks"
	"github.com/paybyt/escrowd/internal/metrics"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/paybyt/escrowd/internal/multisig"
	"github.com/paybyt/escrowd/internal/retry"
	"go.uber.org/zap"
)

type EscrowConfig struct {
	Net            *chaincfg.Params
	MediatorPubKey string
	// PlatformAddress receives the platform fee as an output of every
	// payout. Empty leaves the fee uncollected.
	PlatformAddress string
	Retry           retry.Policy
	// ConfirmationTarget is the depth at which a payout is reported confirmed.
	ConfirmationTarget int64
}

// Actor identifies who triggered an operation, for the audit trail.
type Actor struct {
	ID   string
	Type string
}

var (
	SystemActor         = Actor{ID: "system", Type: models.ActorSystem}
	DeliveryOracleActor = Actor{ID: "delivery-oracle", Type: models.ActorSystem}
)

type CreateEscrowInput struct {
	BuyerID             string
	SellerID            string
	BuyerPubKey         string
	SellerPubKey        string
	BuyerPayoutAddress  string
	SellerPayoutAddress string
	Amount              int64
	Description         string
	Timelock            time.Duration
	PaymentType         string
}

// EscrowService owns the escrow state machine. Every operation on one escrow
// runs under that escrow's lock and works on a fresh copy loaded under it.
type EscrowService struct {
	store     EscrowStore
	audit     AuditLogger
	fees      *FeeService
	verifier  *PaymentVerifier
	delivery  *DeliveryVerifier
	settler   *settler
	resolver  *DisputeResolver
	provider  chain.Provider
	locker    locks.Locker
	publisher events.Publisher
	cfg       EscrowConfig
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewEscrowService(
	store EscrowStore,
	audit AuditLogger,
	feeSvc *FeeService,
	verifier *PaymentVerifier,
	deliveryVerifier *DeliveryVerifier,
	builder *multisig.Builder,
	resolver *DisputeResolver,
	provider chain.Provider,
	locker locks.Locker,
	publisher events.Publisher,
	cfg EscrowConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *EscrowService {
	if cfg.ConfirmationTarget <= 0 {
		cfg.ConfirmationTarget = 6
	}
	cfg.Retry.Metrics = m
	cfg.Retry.Log = log
	return &EscrowService{
		store:     store,
		audit:     audit,
		fees:      feeSvc,
		verifier:  verifier,
		delivery:  deliveryVerifier,
		settler:   &settler{builder: builder, retry: cfg.Retry, log: log},
		resolver:  resolver,
		provider:  provider,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		log:       log,
	}
}

func (s *EscrowService) ConfirmationTarget() int64 { return s.cfg.ConfirmationTarget }

// TracksDelivery reports whether a carrier tracker is configured.
func (s *EscrowService) TracksDelivery() bool { return s.delivery != nil }

// withEscrow loads the escrow under its lock and hands it to fn.
func (s *EscrowService) withEscrow(ctx context.Context, id uuid.UUID, fn func(e *models.Escrow) (*models.Escrow, error)) (*models.Escrow, error) {
	unlock, err := s.locker.Lock(ctx, "escrow:"+id.String())
	if err != nil {
		return nil, fmt.Errorf("lock escrow: %w", err)
	}
	defer unlock()

	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return fn(e)
}

// transition validates and persists next, then writes the audit entry and
// publishes the status event. cur is left untouched.
func (s *EscrowService) transition(ctx context.Context, cur, next *models.Escrow, actor Actor, meta map[string]any) error {
	if !models.IsValidTransition(cur.Status, next.Status) {
		return fmt.Errorf("%w: %s to %s", apperr.ErrInvalidTransition, cur.Status, next.Status)
	}

	next.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, next); err != nil {
		return err
	}
	s.metrics.Transition(cur.Status, next.Status)

	if meta == nil {
		meta = map[string]any{}
	}
	meta["old_status"] = cur.Status
	meta["new_status"] = next.Status
	s.auditLog(ctx, actor, fmt.Sprintf("escrow_status_%s_to_%s", cur.Status, next.Status), next.ID, meta)
	s.publish(ctx, events.EventEscrowStatusChanged, next, map[string]any{
		"old_status": cur.Status,
		"new_status": next.Status,
	})
	return nil
}

func (s *EscrowService) auditLog(ctx context.Context, actor Actor, action string, id uuid.UUID, meta map[string]any) {
	actorID := actor.ID
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorID:    &actorID,
		ActorType:  actor.Type,
		Action:     action,
		EntityType: "escrow",
		EntityID:   &id,
		Meta:       meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("escrow_id", id.String()), zap.String("action", action), zap.Error(err))
	}
}

func (s *EscrowService) publish(ctx context.Context, eventType string, e *models.Escrow, extra map[string]any) {
	payload := map[string]any{
		"escrow_id": e.ID.String(),
		"buyer_id":  e.BuyerID,
		"seller_id": e.SellerID,
		"status":    e.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{Type: eventType, Payload: payload})
}

func (s *EscrowService) Create(ctx context.Context, in CreateEscrowInput) (*models.Escrow, error) {
	if in.Amount <= 0 || in.Amount > models.MaxAmount {
		return nil, fmt.Errorf("%w: %d sats out of range", apperr.ErrInvalidAmount, in.Amount)
	}
	if strings.TrimSpace(in.BuyerID) == "" || strings.TrimSpace(in.SellerID) == "" {
		return nil, fmt.Errorf("%w: buyer and seller ids are required", apperr.ErrInvalidRequest)
	}
	if in.Timelock < 0 {
		return nil, fmt.Errorf("%w: negative timelock", apperr.ErrInvalidRequest)
	}
	if in.PaymentType == "" {
		in.PaymentType = models.PaymentTypeOnChain
	}
	if !models.IsValidPaymentType(in.PaymentType) {
		return nil, fmt.Errorf("%w: %q", apperr.ErrInvalidChannel, in.PaymentType)
	}

	ms, err := multisig.DeriveMultisig(in.BuyerPubKey, in.SellerPubKey, s.cfg.MediatorPubKey, s.cfg.Net)
	if err != nil {
		return nil, err
	}

	buyerPayout, err := s.payoutAddress(in.BuyerPayoutAddress, in.BuyerPubKey)
	if err != nil {
		return nil, fmt.Errorf("buyer payout: %w", err)
	}
	sellerPayout, err := s.payoutAddress(in.SellerPayoutAddress, in.SellerPubKey)
	if err != nil {
		return nil, fmt.Errorf("seller payout: %w", err)
	}

	quote, err := s.fees.Quote(ctx, in.PaymentType, in.Amount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := &models.Escrow{
		ID:                  uuid.New(),
		BuyerID:             in.BuyerID,
		SellerID:            in.SellerID,
		PaymentType:         in.PaymentType,
		Address:             ms.Address,
		RedeemScript:        hex.EncodeToString(ms.RedeemScript),
		BuyerPubKey:         strings.ToLower(strings.TrimSpace(in.BuyerPubKey)),
		SellerPubKey:        strings.ToLower(strings.TrimSpace(in.SellerPubKey)),
		MediatorPubKey:      strings.ToLower(strings.TrimSpace(s.cfg.MediatorPubKey)),
		BuyerPayoutAddress:  buyerPayout,
		SellerPayoutAddress: sellerPayout,
		Amount:              in.Amount,
		PlatformFee:         quote.PlatformFee,
		NetworkFeeEstimate:  quote.NetworkFee,
		TotalDue:            quote.Total,
		Description:         in.Description,
		TimelockSeconds:     int64(in.Timelock / time.Second),
		Status:              models.EscrowStatusCreated,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}

	s.auditLog(ctx, Actor{ID: in.BuyerID, Type: models.ActorUser}, "escrow_created", e.ID, map[string]any{
		"address":      e.Address,
		"amount":       e.Amount,
		"payment_type": e.PaymentType,
	})
	s.publish(ctx, events.EventEscrowCreated, e, map[string]any{"address": e.Address, "amount": e.Amount})
	s.log.Info("escrow created",
		zap.String("escrow_id", e.ID.String()),
		zap.String("address", e.Address),
		zap.Int64("amount", e.Amount),
	)
	return e, nil
}

func (s *EscrowService) payoutAddress(explicit, pubKey string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if err := multisig.ValidateAddress(explicit, s.cfg.Net); err != nil {
			return "", err
		}
		return explicit, nil
	}
	return multisig.PayoutAddress(pubKey, s.cfg.Net)
}

// CheckFunding moves a created escrow to funded once the address balance
// covers the amount. An insufficient balance is not an error.
func (s *EscrowService) CheckFunding(ctx context.Context, id uuid.UUID) (*models.Escrow, FundingResult, error) {
	var res FundingResult
	e, err := s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if models.IsTerminal(e.Status) {
			return nil, apperr.ErrAlreadyFinalized
		}
		if e.Status != models.EscrowStatusCreated {
			return nil, fmt.Errorf("%w: already %s", apperr.ErrInvalidTransition, e.Status)
		}

		err := s.cfg.Retry.Do(ctx, "check_funding", func(ctx context.Context) error {
			var err error
			res, err = s.verifier.CheckFunding(ctx, e)
			return err
		})
		if err != nil {
			return nil, err
		}
		if !res.Funded {
			return e, nil
		}

		next := e.Clone()
		now := time.Now().UTC()
		next.Status = models.EscrowStatusFunded
		next.FundedBalance = res.Balance
		next.FundedAt = &now
		if err := s.transition(ctx, e, next, SystemActor, map[string]any{"balance": res.Balance}); err != nil {
			return nil, err
		}
		s.publish(ctx, events.EventEscrowFunded, next, map[string]any{"balance": res.Balance})
		return next, nil
	})
	if err != nil {
		return nil, res, err
	}
	return e, res, nil
}

func (s *EscrowService) ConfirmDelivery(ctx context.Context, id uuid.UUID, actor Actor) (*models.Escrow, error) {
	return s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if e.Status != models.EscrowStatusFunded && e.Status != models.EscrowStatusInProgress {
			return nil, fmt.Errorf("%w: cannot confirm delivery while %s", apperr.ErrInvalidState, e.Status)
		}
		next := e.Clone()
		next.DeliveryConfirmed = true
		next.Status = models.EscrowStatusInProgress
		if err := s.transition(ctx, e, next, actor, map[string]any{"delivery_confirmed": true}); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// RegisterShipment records the seller's carrier and tracking code so that
// delivery can be confirmed from the carrier. It replaces an earlier
// registration until delivery is confirmed.
func (s *EscrowService) RegisterShipment(ctx context.Context, id uuid.UUID, carrier, trackingCode string, actor Actor) (*models.Escrow, error) {
	carrier = strings.TrimSpace(carrier)
	trackingCode = strings.TrimSpace(trackingCode)
	if carrier == "" || trackingCode == "" {
		return nil, fmt.Errorf("%w: carrier and tracking code are required", apperr.ErrInvalidRequest)
	}
	return s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if models.IsTerminal(e.Status) {
			return nil, apperr.ErrAlreadyFinalized
		}
		if e.Status != models.EscrowStatusFunded && e.Status != models.EscrowStatusInProgress {
			return nil, fmt.Errorf("%w: cannot register a shipment while %s", apperr.ErrInvalidState, e.Status)
		}
		if e.DeliveryConfirmed {
			return nil, fmt.Errorf("%w: delivery already confirmed", apperr.ErrInvalidState)
		}

		now := time.Now().UTC()
		next := e.Clone()
		next.Shipment = &models.Shipment{
			Carrier:      carrier,
			TrackingCode: trackingCode,
			Status:       models.DeliveryPending,
			RegisteredAt: now,
		}
		next.UpdatedAt = now
		if err := s.store.Update(ctx, next); err != nil {
			return nil, err
		}
		meta := map[string]any{"carrier": carrier, "tracking_code": trackingCode}
		s.auditLog(ctx, actor, "delivery_shipment_registered", next.ID, meta)
		s.publish(ctx, events.EventShipmentRegistered, next, meta)
		return next, nil
	})
}

// VerifyDelivery asks the carrier about the registered shipment. A delivered
// report confirms delivery the same way ConfirmDelivery does and keeps the
// report's proof hash on the shipment. Any other report is stored and is not
// an error.
func (s *EscrowService) VerifyDelivery(ctx context.Context, id uuid.UUID) (*models.Escrow, DeliveryResult, error) {
	var res DeliveryResult
	if s.delivery == nil {
		return nil, res, fmt.Errorf("%w: delivery tracking is not configured", apperr.ErrInvalidRequest)
	}
	e, err := s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if e.Shipment == nil {
			return nil, fmt.Errorf("%w: no shipment registered", apperr.ErrInvalidState)
		}
		if e.DeliveryConfirmed {
			res = DeliveryResult{Delivered: true, Status: e.Shipment.Status, ProofHash: e.Shipment.ProofHash}
			return e, nil
		}
		if e.Status != models.EscrowStatusFunded && e.Status != models.EscrowStatusInProgress {
			return nil, fmt.Errorf("%w: cannot verify delivery while %s", apperr.ErrInvalidState, e.Status)
		}

		err := s.cfg.Retry.Do(ctx, "check_delivery", func(ctx context.Context) error {
			var err error
			res, err = s.delivery.CheckDelivery(ctx, e)
			return err
		})
		if err != nil {
			return nil, err
		}

		next := e.Clone()
		next.Shipment.Status = res.Status
		next.Shipment.Details = res.Details
		checked := res.CheckedAt
		next.Shipment.CheckedAt = &checked
		if !res.Delivered {
			next.UpdatedAt = res.CheckedAt
			if err := s.store.Update(ctx, next); err != nil {
				return nil, err
			}
			return next, nil
		}

		next.Shipment.ProofHash = res.ProofHash
		next.DeliveryConfirmed = true
		next.Status = models.EscrowStatusInProgress
		meta := map[string]any{
			"delivery_confirmed": true,
			"carrier":            next.Shipment.Carrier,
			"proof_hash":         res.ProofHash,
		}
		if err := s.transition(ctx, e, next, DeliveryOracleActor, meta); err != nil {
			return nil, err
		}
		s.publish(ctx, events.EventDeliveryVerified, next, map[string]any{"proof_hash": res.ProofHash})
		s.log.Info("delivery confirmed by carrier",
			zap.String("escrow_id", next.ID.String()),
			zap.String("carrier", next.Shipment.Carrier),
		)
		return next, nil
	})
	if err != nil {
		return nil, res, err
	}
	return e, res, nil
}

// guardSpend rejects fund-moving operations on finalized or halted escrows.
func guardSpend(e *models.Escrow) error {
	if models.IsTerminal(e.Status) {
		return apperr.ErrAlreadyFinalized
	}
	if e.Halted {
		return apperr.ErrEscrowHalted
	}
	return nil
}

// Release pays the seller. It requires confirmed delivery and the buyer's
// signature.
func (s *EscrowService) Release(ctx context.Context, id uuid.UUID, signers SignerSet, actor Actor) (*models.Escrow, error) {
	return s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if err := guardSpend(e); err != nil {
			return nil, err
		}
		if !models.IsValidTransition(e.Status, models.EscrowStatusCompleted) || e.Status == models.EscrowStatusDisputed {
			return nil, fmt.Errorf("%w: release from %s", apperr.ErrInvalidTransition, e.Status)
		}
		if !e.DeliveryConfirmed {
			return nil, fmt.Errorf("%w: delivery not confirmed", apperr.ErrInvalidState)
		}
		if err := signers.require(e, models.RoleBuyer); err != nil {
			return nil, err
		}

		payments := []multisig.Payment{{Address: e.SellerPayoutAddress, Amount: e.Amount}}
		st, err := s.settler.settle(ctx, e, payments, s.platformLeg(e), signers)
		if err != nil {
			return nil, s.settleFailed(ctx, e, err)
		}
		return s.recordPayout(ctx, e, models.EscrowStatusCompleted, payout{st.TxID, st.Fee, st.PlatformFee}, actor, apperr.ErrStateUnrecorded, nil)
	})
}

// Refund pays the buyer. The seller or the mediator must sign.
func (s *EscrowService) Refund(ctx context.Context, id uuid.UUID, signers SignerSet, actor Actor) (*models.Escrow, error) {
	return s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if err := guardSpend(e); err != nil {
			return nil, err
		}
		if !models.IsValidTransition(e.Status, models.EscrowStatusRefunded) {
			return nil, fmt.Errorf("%w: refund from %s", apperr.ErrInvalidTransition, e.Status)
		}
		if err := signers.requireAny(e, models.RoleSeller, models.RoleMediator); err != nil {
			return nil, err
		}

		payments := []multisig.Payment{{Address: e.BuyerPayoutAddress, Amount: e.Amount}}
		st, err := s.settler.settle(ctx, e, payments, s.platformLeg(e), signers)
		if err != nil {
			return nil, s.settleFailed(ctx, e, err)
		}
		return s.recordPayout(ctx, e, models.EscrowStatusRefunded, payout{st.TxID, st.Fee, st.PlatformFee}, actor, apperr.ErrStateUnrecorded, func(next *models.Escrow) {
			if next.Dispute != nil && !next.Dispute.IsResolved() {
				now := time.Now().UTC()
				next.Dispute.Decision = models.DecisionBuyer
				next.Dispute.Notes = "refunded"
				next.Dispute.ResolvedAt = &now
			}
		})
	})
}

func (s *EscrowService) OpenDispute(ctx context.Context, id uuid.UUID, role, reason string, actor Actor) (*models.Escrow, error) {
	if !models.IsValidOpenerRole(role) {
		return nil, fmt.Errorf("%w: role %q cannot open a dispute", apperr.ErrInvalidRequest, role)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", apperr.ErrInvalidRequest)
	}
	return s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if models.IsTerminal(e.Status) {
			return nil, apperr.ErrAlreadyFinalized
		}
		next := e.Clone()
		next.Status = models.EscrowStatusDisputed
		next.DisputeReason = &reason
		next.Dispute = &models.DisputeRecord{
			OpenedBy: role,
			Reason:   reason,
			Decision: models.DecisionPending,
			OpenedAt: time.Now().UTC(),
		}
		if err := s.transition(ctx, e, next, actor, map[string]any{"opened_by": role, "reason": reason}); err != nil {
			return nil, err
		}
		s.publish(ctx, events.EventDisputeOpened, next, map[string]any{"opened_by": role, "reason": reason})
		return next, nil
	})
}

func (s *EscrowService) SubmitEvidence(ctx context.Context, id uuid.UUID, ev models.Evidence, actor Actor) (*models.Escrow, error) {
	if !models.IsValidEvidenceKind(ev.Kind) {
		return nil, fmt.Errorf("%w: evidence kind %q", apperr.ErrInvalidRequest, ev.Kind)
	}
	if strings.TrimSpace(ev.Content) == "" && strings.TrimSpace(ev.URL) == "" {
		return nil, fmt.Errorf("%w: evidence needs content or a url", apperr.ErrInvalidRequest)
	}
	if ev.SubmittedBy != models.RoleBuyer && ev.SubmittedBy != models.RoleSeller && ev.SubmittedBy != models.RoleMediator {
		return nil, fmt.Errorf("%w: submitter role %q", apperr.ErrInvalidRequest, ev.SubmittedBy)
	}
	return s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if e.Status != models.EscrowStatusDisputed || e.Dispute == nil || e.Dispute.IsResolved() {
			return nil, fmt.Errorf("%w: no open dispute", apperr.ErrInvalidTransition)
		}
		next := e.Clone()
		ev.SubmittedAt = time.Now().UTC()
		next.Dispute.Evidence = append(next.Dispute.Evidence, ev)
		next.UpdatedAt = ev.SubmittedAt
		if err := s.store.Update(ctx, next); err != nil {
			return nil, err
		}
		s.auditLog(ctx, actor, "dispute_evidence_submitted", next.ID, map[string]any{"kind": ev.Kind, "submitted_by": ev.SubmittedBy})
		s.publish(ctx, events.EventEvidenceSubmitted, next, map[string]any{"kind": ev.Kind, "submitted_by": ev.SubmittedBy})
		return next, nil
	})
}

func (s *EscrowService) ResolveDispute(ctx context.Context, id uuid.UUID, in ResolveInput) (*models.Escrow, error) {
	if !models.IsValidDecision(in.Decision) {
		return nil, fmt.Errorf("%w: %q", apperr.ErrInvalidDecision, in.Decision)
	}
	actor := Actor{ID: in.MediatorID, Type: models.ActorMediator}
	return s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if err := guardSpend(e); err != nil {
			return nil, err
		}
		out, err := s.resolver.Resolve(ctx, e, in, s.platformLeg(e))
		if err != nil {
			return nil, s.settleFailed(ctx, e, err)
		}

		unrecorded := apperr.ErrStateUnrecorded
		if in.Decision == models.DecisionSplit {
			unrecorded = apperr.ErrPartialSplitFailure
		}
		return s.recordPayout(ctx, e, out.Status, payout{out.TxID, out.NetworkFee, out.PlatformFee}, actor, unrecorded, func(next *models.Escrow) {
			now := time.Now().UTC()
			if next.Dispute == nil {
				next.Dispute = &models.DisputeRecord{OpenedAt: now}
			}
			next.Dispute.Decision = in.Decision
			next.Dispute.SplitBuyerBPS = out.SplitBuyerBPS
			next.Dispute.Notes = in.Notes
			next.Dispute.ResolvedAt = &now
		})
	})
}

// settleFailed halts the escrow when the network refused the transaction and
// passes err through.
func (s *EscrowService) settleFailed(ctx context.Context, e *models.Escrow, err error) error {
	if apperr.IsFatal(err) {
		s.halt(ctx, e, err)
	}
	return err
}

// platformLeg is the platform fee output for e's payout, or nil when no
// platform address is configured.
func (s *EscrowService) platformLeg(e *models.Escrow) *multisig.Payment {
	if s.cfg.PlatformAddress == "" || e.PlatformFee <= 0 {
		return nil
	}
	return &multisig.Payment{Address: s.cfg.PlatformAddress, Amount: e.PlatformFee}
}

// payout is what a broadcast settlement actually paid out besides the
// parties' legs.
type payout struct {
	TxID        string
	NetworkFee  int64
	PlatformFee int64
}

// recordPayout persists a broadcast payout. Funds have already moved, so a
// failure here is fatal: the escrow is halted and unrecorded is returned.
func (s *EscrowService) recordPayout(
	ctx context.Context,
	e *models.Escrow,
	status string,
	p payout,
	actor Actor,
	unrecorded error,
	apply func(next *models.Escrow),
) (*models.Escrow, error) {
	ctx = context.WithoutCancel(ctx)

	txid := p.TxID
	next := e.Clone()
	next.Status = status
	next.TxID = &txid
	next.NetworkFeePaid = p.NetworkFee
	if apply != nil {
		apply(next)
	}
	meta := map[string]any{"txid": txid, "network_fee": p.NetworkFee, "platform_fee": p.PlatformFee}
	if err := s.transition(ctx, e, next, actor, meta); err != nil {
		fatal := fmt.Errorf("%w: txid %s: %v", unrecorded, txid, err)
		s.halt(ctx, e, fatal)
		return nil, fatal
	}

	if err := s.fees.RecordSettlement(ctx, next, txid, p.NetworkFee, p.PlatformFee); err != nil {
		s.log.Error("fee ledger write failed",
			zap.String("escrow_id", next.ID.String()),
			zap.String("txid", txid),
			zap.Error(err),
		)
	}
	return next, nil
}

func (s *EscrowService) halt(ctx context.Context, e *models.Escrow, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := cause.Error()
	if err := s.store.SetHalt(ctx, e.ID, true, &reason); err != nil {
		s.log.Error("failed to halt escrow, manual review required",
			zap.String("escrow_id", e.ID.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
	s.metrics.Halted()
	s.log.Error("escrow halted", zap.String("escrow_id", e.ID.String()), zap.Error(cause))
	s.auditLog(ctx, SystemActor, "escrow_halted", e.ID, map[string]any{"reason": reason})
	s.publish(ctx, events.EventEscrowHalted, e, map[string]any{"reason": reason})
}

// ClearHalt lets an operator resume automated processing after reconciling
// a fatal error by hand.
func (s *EscrowService) ClearHalt(ctx context.Context, id uuid.UUID, operatorID, note string) (*models.Escrow, error) {
	return s.withEscrow(ctx, id, func(e *models.Escrow) (*models.Escrow, error) {
		if !e.Halted {
			return nil, fmt.Errorf("%w: escrow is not halted", apperr.ErrInvalidRequest)
		}
		if err := s.store.SetHalt(ctx, e.ID, false, nil); err != nil {
			return nil, err
		}
		next := e.Clone()
		next.Halted = false
		next.HaltReason = nil

		prev := ""
		if e.HaltReason != nil {
			prev = *e.HaltReason
		}
		s.auditLog(ctx, Actor{ID: operatorID, Type: models.ActorOperator}, "escrow_halt_cleared", e.ID, map[string]any{
			"previous_reason": prev,
			"note":            note,
		})
		s.publish(ctx, events.EventEscrowHaltCleared, next, nil)
		return next, nil
	})
}

func (s *EscrowService) Get(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return s.store.GetByID(ctx, id)
}

func (s *EscrowService) List(ctx context.Context, f models.EscrowFilter) ([]models.Escrow, error) {
	for _, st := range f.Statuses {
		if _, ok := models.ValidEscrowTransitions[st]; !ok {
			return nil, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidRequest, st)
		}
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.store.List(ctx, f)
}

// Events returns the escrow's audit trail, newest first.
func (s *EscrowService) Events(ctx context.Context, id uuid.UUID, limit int) ([]models.AuditLog, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.audit.ListByEntity(ctx, "escrow", id, limit)
}

// TxStatus reports confirmations of the recorded payout transaction.
func (s *EscrowService) TxStatus(ctx context.Context, id uuid.UUID) (*chain.TxStatus, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.TxID == nil {
		return nil, fmt.Errorf("escrow has no payout transaction: %w", apperr.ErrNotFound)
	}

	var st *chain.TxStatus
	err = s.cfg.Retry.Do(ctx, "tx_status", func(ctx context.Context) error {
		var err error
		st, err = s.provider.GetTxStatus(ctx, *e.TxID)
		return err
	})
	return st, err
}

// RefreshConfirmations stores the payout's current depth and announces it
// once it reaches the confirmation target.
func (s *EscrowService) RefreshConfirmations(ctx context.Context, id uuid.UUID) (*chain.TxStatus, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.TxStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Confirmations == e.TxConfirmations {
		return st, nil
	}
	if err := s.store.SetConfirmations(ctx, id, st.Confirmations); err != nil {
		return nil, err
	}
	if e.TxConfirmations < s.cfg.ConfirmationTarget && st.Confirmations >= s.cfg.ConfirmationTarget {
		s.publish(ctx, events.EventTxConfirmed, e, map[string]any{
			"txid":          st.TxID,
			"confirmations": st.Confirmations,
		})
		s.log.Info("payout confirmed", zap.String("escrow_id", id.String()), zap.String("txid", st.TxID))
	}
	return st, nil
}
