package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/paybyt/escrowd/internal/bootstrap"
	"github.com/paybyt/escrowd/internal/config"
	apphttp "github.com/paybyt/escrowd/internal/http"
	"github.com/paybyt/escrowd/internal/http/dto"
	"github.com/paybyt/escrowd/internal/http/handlers"
	"github.com/paybyt/escrowd/internal/metrics"
	"github.com/paybyt/escrowd/internal/middleware"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("escrowd")
	st, err := bootstrap.Build(ctx, cfg, m, log)
	if err != nil {
		log.Fatal("failed to start engine", zap.Error(err))
	}
	defer st.Close()

	// Handlers
	escrowHandler := handlers.NewEscrowHandler(st.Escrows, st.Net, log)
	feeHandler := handlers.NewFeeHandler(st.Fees, log)
	metaHandler := handlers.NewMetaHandler(handlers.NetworkInfo{
		Network:            st.Net.Name,
		MediatorPubKey:     cfg.MediatorPubKey,
		ConfirmationTarget: cfg.ConfirmationTarget,
	}, st.HealthChecks())
	wsHub := handlers.NewWSHub(cfg, st.Subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "internal error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
		},
	})

	apphttp.SetupRouter(app, cfg, log, st.Redis, m, apphttp.Handlers{
		Escrow: escrowHandler,
		Fee:    feeHandler,
		Meta:   metaHandler,
		WSHub:  wsHub,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.String("network", st.Net.Name))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
