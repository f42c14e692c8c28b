package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/paybyt/escrowd/internal/fees"
	"github.com/paybyt/escrowd/internal/http/dto"
	"github.com/paybyt/escrowd/internal/middleware"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/paybyt/escrowd/internal/services"
	"go.uber.org/zap"
)

// defaultReportWindow is used when a report request omits from.
const defaultReportWindow = 30 * 24 * time.Hour

type FeeHandler struct {
	feeService *services.FeeService
	log        *zap.Logger
}

func NewFeeHandler(feeService *services.FeeService, log *zap.Logger) *FeeHandler {
	return &FeeHandler{feeService: feeService, log: log}
}

func (h *FeeHandler) queryAmount(c *fiber.Ctx) (int64, error) {
	sats, err := queryInt64(c, "amount")
	if err != nil {
		return 0, err
	}
	return dto.ParseSats(sats, c.Query("amount_btc"))
}

func channelQuery(c *fiber.Ctx) string {
	return c.Query("channel", models.PaymentTypeOnChain)
}

func (h *FeeHandler) Quote(c *fiber.Ctx) error {
	amount, err := h.queryAmount(c)
	if err != nil {
		return badRequest(c, "invalid amount")
	}
	q, err := h.feeService.Quote(c.UserContext(), channelQuery(c), amount)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.QuoteResponse{
		Channel:        q.Channel,
		Amount:         q.Amount,
		PlatformFee:    q.PlatformFee,
		NetworkFee:     q.NetworkFee,
		RoutingFee:     q.RoutingFee,
		Total:          q.Total,
		TotalBTC:       dto.FormatBTC(q.Total),
		PlatformFeeBPS: h.feeService.Calculator().Config().PlatformFeeBPS,
	}})
}

func (h *FeeHandler) PlatformFee(c *fiber.Ctx) error {
	amount, err := h.queryAmount(c)
	if err != nil {
		return badRequest(c, "invalid amount")
	}
	fee, err := h.feeService.PlatformFee(amount)
	if err != nil {
		return writeError(c, h.log, err)
	}
	cfg := h.feeService.Calculator().Config()
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"amount":       amount,
		"platform_fee": fee,
		"fee_bps":      cfg.PlatformFeeBPS,
		"min_fee":      cfg.MinPlatformFee,
	}})
}

func (h *FeeHandler) NetworkFee(c *fiber.Ctx) error {
	channel := channelQuery(c)
	var amount int64
	if channel == models.PaymentTypeLightning {
		var err error
		if amount, err = h.queryAmount(c); err != nil {
			return badRequest(c, "invalid amount")
		}
	}
	inputs := queryInt(c, "inputs", 1)
	outputs := queryInt(c, "outputs", 2)

	fee, err := h.feeService.NetworkFee(c.UserContext(), channel, amount, inputs, outputs)
	if err != nil {
		return writeError(c, h.log, err)
	}
	data := fiber.Map{"channel": channel, "network_fee": fee}
	if channel == models.PaymentTypeOnChain {
		data["tx_size"] = fees.TxSize(inputs, outputs)
		data["sats_per_byte"] = h.feeService.Calculator().SatsPerByte(c.UserContext())
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: data})
}

func (h *FeeHandler) ledgerFilter(c *fiber.Ctx) (models.FeeFilter, error) {
	f := models.FeeFilter{
		Kind:   c.Query("kind"),
		Limit:  queryInt(c, "limit", 100),
		Offset: queryInt(c, "offset", 0),
	}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return f, err
	}
	if v := c.Query("escrow_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, err
		}
		f.EscrowID = &id
	}
	return f, nil
}

// period reads from/to for reports. to defaults to now and from to thirty
// days before to.
func period(c *fiber.Ctx) (time.Time, time.Time, error) {
	to, err := queryTime(c, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := time.Now().UTC()
	if to != nil {
		end = *to
	}
	from, err := queryTime(c, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := end.Add(-defaultReportWindow)
	if from != nil {
		start = *from
	}
	return start, end, nil
}

func (h *FeeHandler) ListFeeRecords(c *fiber.Ctx) error {
	f, err := h.ledgerFilter(c)
	if err != nil {
		return badRequest(c, "invalid filter: "+err.Error())
	}
	recs, err := h.feeService.ListFees(c.UserContext(), f)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: recs})
}

func (h *FeeHandler) FeeReport(c *fiber.Ctx) error {
	from, to, err := period(c)
	if err != nil {
		return badRequest(c, "invalid period")
	}
	report, err := h.feeService.FeeReport(c.UserContext(), from, to)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}

func (h *FeeHandler) GetDistributionConfig(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.feeService.DistributionConfig()})
}

func (h *FeeHandler) UpdateDistributionConfig(c *fiber.Ctx) error {
	var req dto.DistributionConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	cfg := fees.DistributionConfig{Buckets: req.Buckets, RemainderBucket: req.RemainderBucket}
	if err := h.feeService.SetDistributionConfig(c.UserContext(), cfg, middleware.GetUserID(c)); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.feeService.DistributionConfig()})
}

func (h *FeeHandler) PreviewDistribution(c *fiber.Ctx) error {
	var req dto.PreviewDistributionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	total, err := dto.ParseSats(req.Amount, req.AmountBTC)
	if err != nil {
		return writeError(c, h.log, err)
	}
	dist, err := h.feeService.PreviewDistribution(total)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dist})
}

func (h *FeeHandler) ListDistributionRecords(c *fiber.Ctx) error {
	f, err := h.ledgerFilter(c)
	if err != nil {
		return badRequest(c, "invalid filter: "+err.Error())
	}
	recs, err := h.feeService.ListDistributions(c.UserContext(), f)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: recs})
}

func (h *FeeHandler) DistributionReport(c *fiber.Ctx) error {
	from, to, err := period(c)
	if err != nil {
		return badRequest(c, "invalid period")
	}
	report, err := h.feeService.DistributionReport(c.UserContext(), from, to)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}
