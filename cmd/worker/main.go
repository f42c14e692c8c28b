package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/paybyt/escrowd/internal/bootstrap"
	"github.com/paybyt/escrowd/internal/config"
	"github.com/paybyt/escrowd/internal/metrics"
	"github.com/paybyt/escrowd/internal/worker"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New("escrowd_worker")
	st, err := bootstrap.Build(ctx, cfg, m, log)
	if err != nil {
		log.Fatal("failed to start engine", zap.Error(err))
	}
	defer st.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.WorkerMetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	w := worker.New(st.Escrows, worker.Config{
		FundingInterval:    cfg.FundingPollInterval,
		FundingConcurrency: cfg.FundingPollConcurrency,
		TxStatusInterval:   cfg.TxStatusPollInterval,
		DeliveryInterval:   cfg.DeliveryPollInterval,
	}, log)
	w.Run(ctx)

	log.Info("shutting down worker")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
}
