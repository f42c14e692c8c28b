package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/http/dto"
	"github.com/paybyt/escrowd/internal/middleware"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/paybyt/escrowd/internal/multisig"
	"github.com/paybyt/escrowd/internal/rbac"
	"github.com/paybyt/escrowd/internal/services"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	net           *chaincfg.Params
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, net *chaincfg.Params, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, net: net, log: log}
}

func actorFor(c *fiber.Ctx) services.Actor {
	switch middleware.GetRole(c) {
	case rbac.RoleMediator:
		return services.Actor{ID: middleware.GetUserID(c), Type: models.ActorMediator}
	case rbac.RoleOperator:
		return services.Actor{ID: middleware.GetUserID(c), Type: models.ActorOperator}
	}
	return services.Actor{ID: middleware.GetUserID(c), Type: models.ActorUser}
}

// load fetches the escrow named in the path and checks that the caller holds
// a role granting perm. Escrows the caller has no part in read as not found.
// On failure the response is already written and the escrow is nil; the
// caller returns the error as is.
func (h *EscrowHandler) load(c *fiber.Ctx, perm string) (*models.Escrow, []string, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, nil, badRequest(c, "invalid escrow id")
	}
	e, err := h.escrowService.Get(c.UserContext(), id)
	if err != nil {
		return nil, nil, writeError(c, h.log, err)
	}
	roles := rbac.RolesFor(e, middleware.GetUserID(c), middleware.GetRole(c))
	if len(roles) == 0 {
		return nil, nil, writeError(c, h.log, apperr.ErrNotFound)
	}
	if !rbac.Can(roles, perm) {
		return nil, nil, forbidden(c, "not allowed to "+strings.ReplaceAll(perm, "_", " "))
	}
	return e, roles, nil
}

func (h *EscrowHandler) parseSigners(keys []string) (services.SignerSet, error) {
	var set services.SignerSet
	if len(keys) != multisig.RequiredSigs {
		return set, fmt.Errorf("%w: exactly %d signer keys required", apperr.ErrInvalidSigner, multisig.RequiredSigs)
	}
	for i, wif := range keys {
		priv, err := multisig.ParseWIF(strings.TrimSpace(wif), h.net)
		if err != nil {
			return set, err
		}
		set[i] = priv
	}
	return set, nil
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	amount, err := dto.ParseSats(req.Amount, req.AmountBTC)
	if err != nil {
		return writeError(c, h.log, err)
	}

	userID := middleware.GetUserID(c)
	if middleware.GetRole(c) != rbac.RoleOperator && userID != req.BuyerID && userID != req.SellerID {
		return forbidden(c, "caller must be the buyer or the seller")
	}
	if req.TimelockHours < 0 {
		return badRequest(c, "timelock_hours must not be negative")
	}

	e, err := h.escrowService.Create(c.UserContext(), services.CreateEscrowInput{
		BuyerID:             req.BuyerID,
		SellerID:            req.SellerID,
		BuyerPubKey:         req.BuyerPubKey,
		SellerPubKey:        req.SellerPubKey,
		BuyerPayoutAddress:  req.BuyerPayoutAddress,
		SellerPayoutAddress: req.SellerPayoutAddress,
		Amount:              amount,
		Description:         req.Description,
		Timelock:            time.Duration(req.TimelockHours) * time.Hour,
		PaymentType:         req.PaymentType,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(e)})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	filter := models.EscrowFilter{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if v := c.Query("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, s)
			}
		}
	}
	if v := c.Query("halted"); v != "" {
		halted := v == "true" || v == "1"
		filter.Halted = &halted
	}

	switch middleware.GetRole(c) {
	case rbac.RoleMediator, rbac.RoleOperator:
		filter.PartyID = c.Query("party_id")
	default:
		filter.PartyID = middleware.GetUserID(c)
	}

	list, err := h.escrowService.List(c.UserContext(), filter)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowList(list)})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermView)
	if e == nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(e)})
}

func (h *EscrowHandler) CheckFunding(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermCheckFunding)
	if e == nil {
		return err
	}
	updated, res, err := h.escrowService.CheckFunding(c.UserContext(), e.ID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.FundingResponse{
		Escrow:  dto.NewEscrowResponse(updated),
		Funding: res,
	}})
}

func (h *EscrowHandler) ConfirmDelivery(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermConfirmDelivery)
	if e == nil {
		return err
	}
	updated, err := h.escrowService.ConfirmDelivery(c.UserContext(), e.ID, actorFor(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(updated)})
}

func (h *EscrowHandler) RegisterShipment(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermRegisterShipment)
	if e == nil {
		return err
	}
	var req dto.RegisterShipmentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	updated, err := h.escrowService.RegisterShipment(c.UserContext(), e.ID, req.Carrier, req.TrackingCode, actorFor(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(updated)})
}

// VerifyDelivery looks the shipment up with the carrier now instead of
// waiting for the worker.
func (h *EscrowHandler) VerifyDelivery(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermVerifyDelivery)
	if e == nil {
		return err
	}
	updated, res, err := h.escrowService.VerifyDelivery(c.UserContext(), e.ID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.DeliveryResponse{
		Escrow:   dto.NewEscrowResponse(updated),
		Delivery: res,
	}})
}

func (h *EscrowHandler) Release(c *fiber.Ctx) error {
	return h.spend(c, rbac.PermRelease, h.escrowService.Release)
}

func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	return h.spend(c, rbac.PermRefund, h.escrowService.Refund)
}

type spendFunc func(ctx context.Context, id uuid.UUID, signers services.SignerSet, actor services.Actor) (*models.Escrow, error)

func (h *EscrowHandler) spend(c *fiber.Ctx, perm string, fn spendFunc) error {
	e, _, err := h.load(c, perm)
	if e == nil {
		return err
	}
	var req dto.SignRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	signers, err := h.parseSigners(req.Signers)
	if err != nil {
		return writeError(c, h.log, err)
	}
	updated, err := fn(c.UserContext(), e.ID, signers, actorFor(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(updated)})
}

func (h *EscrowHandler) OpenDispute(c *fiber.Ctx) error {
	e, roles, err := h.load(c, rbac.PermOpenDispute)
	if e == nil {
		return err
	}
	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	role := req.Role
	if role == "" {
		role = partyRole(roles)
	}
	if !hasRole(roles, role) {
		return forbidden(c, "caller does not hold role "+role)
	}

	updated, err := h.escrowService.OpenDispute(c.UserContext(), e.ID, role, req.Reason, actorFor(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(updated)})
}

func (h *EscrowHandler) SubmitEvidence(c *fiber.Ctx) error {
	e, roles, err := h.load(c, rbac.PermSubmitEvidence)
	if e == nil {
		return err
	}
	var req dto.SubmitEvidenceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	submitter := partyRole(roles)
	if submitter == "" {
		submitter = rbac.RoleMediator
	}
	updated, err := h.escrowService.SubmitEvidence(c.UserContext(), e.ID, models.Evidence{
		Kind:        req.Kind,
		Content:     req.Content,
		URL:         req.URL,
		SubmittedBy: submitter,
	}, actorFor(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(updated)})
}

func (h *EscrowHandler) ResolveDispute(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermResolveDispute)
	if e == nil {
		return err
	}
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	signers, err := h.parseSigners(req.Signers)
	if err != nil {
		return writeError(c, h.log, err)
	}

	updated, err := h.escrowService.ResolveDispute(c.UserContext(), e.ID, services.ResolveInput{
		Decision:      req.Decision,
		SplitBuyerBPS: req.SplitBuyerBPS,
		Notes:         req.Notes,
		Signers:       signers,
		MediatorID:    middleware.GetUserID(c),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(updated)})
}

func (h *EscrowHandler) TxStatus(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermView)
	if e == nil {
		return err
	}
	st, err := h.escrowService.TxStatus(c.UserContext(), e.ID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: st})
}

func (h *EscrowHandler) GetEscrowEvents(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermView)
	if e == nil {
		return err
	}
	trail, err := h.escrowService.Events(c.UserContext(), e.ID, queryInt(c, "limit", 100))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: trail})
}

func (h *EscrowHandler) ClearHalt(c *fiber.Ctx) error {
	e, _, err := h.load(c, rbac.PermClearHalt)
	if e == nil {
		return err
	}
	var req dto.ClearHaltRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if strings.TrimSpace(req.Note) == "" {
		return badRequest(c, "note is required")
	}

	updated, err := h.escrowService.ClearHalt(c.UserContext(), e.ID, middleware.GetUserID(c), req.Note)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(updated)})
}

// partyRole picks buyer or seller from roles, buyer first.
func partyRole(roles []string) string {
	for _, want := range []string{rbac.RoleBuyer, rbac.RoleSeller} {
		if hasRole(roles, want) {
			return want
		}
	}
	return ""
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
