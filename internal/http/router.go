package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/paybyt/escrowd/internal/config"
	"github.com/paybyt/escrowd/internal/http/handlers"
	"github.com/paybyt/escrowd/internal/metrics"
	"github.com/paybyt/escrowd/internal/middleware"
	"github.com/paybyt/escrowd/internal/rbac"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handlers groups everything the router mounts. WSHub is optional.
type Handlers struct {
	Escrow *handlers.EscrowHandler
	Fee    *handlers.FeeHandler
	Meta   *handlers.MetaHandler
	WSHub  *handlers.WSHub
}

// SetupRouter mounts the API. rdb may be nil, which disables rate limiting.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	m *metrics.Metrics,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", h.Meta.Health)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	api := app.Group("/api/v1")
	api.Get("/meta/network", h.Meta.GetNetwork)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log), middleware.RateLimitMiddleware(rdb, 120, time.Minute))
	operator := middleware.RequireRole(rbac.RoleOperator)

	// Escrows
	protected.Post("/escrows", h.Escrow.CreateEscrow)
	protected.Get("/escrows", h.Escrow.ListEscrows)
	protected.Get("/escrows/:id", h.Escrow.GetEscrow)
	protected.Post("/escrows/:id/check-funding", h.Escrow.CheckFunding)
	protected.Post("/escrows/:id/confirm-delivery", h.Escrow.ConfirmDelivery)
	protected.Post("/escrows/:id/shipment", h.Escrow.RegisterShipment)
	protected.Post("/escrows/:id/verify-delivery", h.Escrow.VerifyDelivery)
	protected.Post("/escrows/:id/release", h.Escrow.Release)
	protected.Post("/escrows/:id/refund", h.Escrow.Refund)
	protected.Post("/escrows/:id/dispute", h.Escrow.OpenDispute)
	protected.Post("/escrows/:id/dispute/evidence", h.Escrow.SubmitEvidence)
	protected.Post("/escrows/:id/dispute/resolve", h.Escrow.ResolveDispute)
	protected.Get("/escrows/:id/tx-status", h.Escrow.TxStatus)
	protected.Get("/escrows/:id/events", h.Escrow.GetEscrowEvents)
	protected.Post("/escrows/:id/clear-halt", operator, h.Escrow.ClearHalt)

	// Fees
	protected.Get("/fees/quote", h.Fee.Quote)
	protected.Get("/fees/platform", h.Fee.PlatformFee)
	protected.Get("/fees/network", h.Fee.NetworkFee)
	protected.Get("/fees/distribution/config", h.Fee.GetDistributionConfig)
	protected.Post("/fees/distribution/preview", h.Fee.PreviewDistribution)

	// Fee ledger (operator)
	protected.Get("/fees/records", operator, h.Fee.ListFeeRecords)
	protected.Get("/fees/report", operator, h.Fee.FeeReport)
	protected.Put("/fees/distribution/config", operator, h.Fee.UpdateDistributionConfig)
	protected.Get("/fees/distribution/records", operator, h.Fee.ListDistributionRecords)
	protected.Get("/fees/distribution/report", operator, h.Fee.DistributionReport)

	// WebSocket
	if h.WSHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(h.WSHub.HandleWS))
	}
}
