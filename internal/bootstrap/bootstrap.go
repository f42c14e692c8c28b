// Package bootstrap wires the engine's storage, chain access and services
// from configuration. cmd/api and cmd/worker share it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paybyt/escrowd/internal/chain"
	"github.com/paybyt/escrowd/internal/config"
	"github.com/paybyt/escrowd/internal/db"
	"github.com/paybyt/escrowd/internal/delivery"
	"github.com/paybyt/escrowd/internal/events"
	"github.com/paybyt/escrowd/internal/fees"
	"github.com/paybyt/escrowd/internal/locks"
	"github.com/paybyt/escrowd/internal/metrics"
	"github.com/paybyt/escrowd/internal/multisig"
	"github.com/paybyt/escrowd/internal/repositories"
	"github.com/paybyt/escrowd/internal/services"
	"github.com/paybyt/escrowd/migrations"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stack is a fully wired engine. Pool and Redis are nil when the
// configuration does not use them.
type Stack struct {
	Net        *chaincfg.Params
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Provider   chain.Provider
	Escrows    *services.EscrowService
	Fees       *services.FeeService
	Publisher  events.Publisher
	Subscriber events.Subscriber

	closers []func()
}

// Close releases connections in reverse order of creation.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// HealthChecks returns a probe per external dependency in use.
func (s *Stack) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if s.Pool != nil {
		checks["postgres"] = s.Pool.Ping
	}
	if s.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return s.Redis.Ping(ctx).Err() }
	}
	return checks
}

func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (*Stack, error) {
	st := &Stack{}
	ok := false
	defer func() {
		if !ok {
			st.Close()
		}
	}()

	net, err := cfg.Net()
	if err != nil {
		return nil, err
	}
	st.Net = net

	// Redis is mandatory for distributed locks and optional otherwise.
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
		switch {
		case err == nil:
			st.Redis = rdb
			st.closers = append(st.closers, func() { _ = rdb.Close() })
		case cfg.LockBackend == config.LockRedis:
			return nil, fmt.Errorf("redis: %w", err)
		default:
			log.Warn("redis unavailable, using in-process events and no fee cache", zap.Error(err))
		}
	} else if cfg.LockBackend == config.LockRedis {
		return nil, fmt.Errorf("LOCK_BACKEND=redis requires REDIS_URL")
	}

	var (
		store  services.EscrowStore
		ledger services.FeeLedger
		audit  services.AuditLogger
	)
	switch cfg.StorageBackend {
	case config.StorageMemory:
		store = repositories.NewMemoryEscrowRepo()
		ledger = repositories.NewMemoryFeeRepo()
		audit = repositories.NewMemoryAuditRepo()
	default:
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn, log)
		if err != nil {
			return nil, err
		}
		st.Pool = pool
		st.closers = append(st.closers, pool.Close)
		if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		store = repositories.NewEscrowRepo(pool)
		ledger = repositories.NewFeeRepo(pool)
		audit = repositories.NewAuditRepo(pool)
	}

	var locker locks.Locker = locks.NewKeyedMutex()
	if cfg.LockBackend == config.LockRedis {
		locker = locks.NewRedisLocker(st.Redis, 0, log)
	}

	if st.Redis != nil {
		st.Publisher = events.NewRedisPublisher(st.Redis, log)
		st.Subscriber = events.NewRedisSubscriber(st.Redis, log)
	} else {
		bus := events.NewLocalBus()
		st.Publisher, st.Subscriber = bus, bus
	}

	provider := chain.NewEsploraClient(cfg.EsploraURL, chain.EsploraOptions{
		Timeout:          cfg.ChainTimeout,
		RequestsPerSec:   cfg.ChainRPS,
		CountUnconfirmed: cfg.CountUnconfirmed,
		Metrics:          m,
	}, log)
	st.Provider = provider

	var oracle chain.FeeOracle = chain.NewMempoolFeeOracle(cfg.FeeOracleURL, cfg.ChainTimeout)
	if st.Redis != nil {
		oracle = chain.NewCachedFeeOracle(oracle, st.Redis, cfg.FeeCacheTTL, log)
	}

	distCfg, err := cfg.Distribution()
	if err != nil {
		return nil, err
	}
	dist, err := fees.NewDistributor(distCfg)
	if err != nil {
		return nil, err
	}
	calc := fees.NewCalculator(cfg.FeeConfig(), oracle, log)
	st.Fees = services.NewFeeService(calc, dist, ledger, audit, log)

	policy := cfg.RetryPolicy()
	policy.Metrics = m
	policy.Log = log
	builder := multisig.NewBuilder(provider, calc, net, m, log)

	var deliveries *services.DeliveryVerifier
	if cfg.DeliveryTrackerURL != "" {
		tracker := delivery.NewHTTPTracker(cfg.DeliveryTrackerURL, cfg.ChainTimeout, cfg.DeliveryRPS, log)
		deliveries = services.NewDeliveryVerifier(tracker, m, log)
	}

	st.Escrows = services.NewEscrowService(
		store,
		audit,
		st.Fees,
		services.NewPaymentVerifier(provider, m, log),
		deliveries,
		builder,
		services.NewDisputeResolver(builder, policy, cfg.DisputeSplitBuyerBPS, log),
		provider,
		locker,
		st.Publisher,
		services.EscrowConfig{
			Net:                net,
			MediatorPubKey:     cfg.MediatorPubKey,
			PlatformAddress:    cfg.PlatformFeeAddress,
			Retry:              policy,
			ConfirmationTarget: cfg.ConfirmationTarget,
		},
		m,
		log,
	)

	log.Info("engine wired",
		zap.String("network", net.Name),
		zap.String("storage", cfg.StorageBackend),
		zap.String("locks", cfg.LockBackend),
		zap.Bool("redis", st.Redis != nil),
		zap.Bool("delivery_tracking", deliveries != nil),
	)
	ok = true
	return st, nil
}
