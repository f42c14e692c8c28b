package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/paybyt/escrowd/internal/http/dto"
	"github.com/paybyt/escrowd/internal/multisig"
)

// NetworkInfo is the public engine configuration clients need to build keys
// and payout addresses.
type NetworkInfo struct {
	Network            string `json:"network"`
	MediatorPubKey     string `json:"mediator_pubkey"`
	RequiredSigs       int    `json:"required_sigs"`
	DustLimit          int64  `json:"dust_limit"`
	ConfirmationTarget int64  `json:"confirmation_target"`
}

type MetaHandler struct {
	info   NetworkInfo
	checks map[string]func(context.Context) error
}

func NewMetaHandler(info NetworkInfo, checks map[string]func(context.Context) error) *MetaHandler {
	info.RequiredSigs = multisig.RequiredSigs
	info.DustLimit = multisig.DustLimit
	return &MetaHandler{info: info, checks: checks}
}

// Health reports ok only when every dependency answers within two seconds.
func (h *MetaHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = "degraded"
			continue
		}
		results[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"status": status, "checks": results})
}

func (h *MetaHandler) GetNetwork(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.info})
}
