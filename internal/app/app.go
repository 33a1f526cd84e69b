// Package app assembles the fulfillment pipeline from a CoreConfig. The
// worker, server and reconciler binaries share it.
package app

import (
	"context"
	"fmt"
	"net"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/common"
	"github.com/rs-ent/starglow-sub015/internal/cache"
	"github.com/rs-ent/starglow-sub015/internal/chain"
	"github.com/rs-ent/starglow-sub015/internal/keysign"
	"github.com/rs-ent/starglow-sub015/internal/metrics"
	plugincommon "github.com/rs-ent/starglow-sub015/plugin/common"
	"github.com/rs-ent/starglow-sub015/plugin/event"
	"github.com/rs-ent/starglow-sub015/plugin/nft"
	"github.com/rs-ent/starglow-sub015/service"
	"github.com/rs-ent/starglow-sub015/storage"
	"github.com/rs-ent/starglow-sub015/storage/memory"
	"github.com/rs-ent/starglow-sub015/storage/postgres"
)

type App struct {
	Config      *common.CoreConfig
	Logger      *logrus.Logger
	DB          storage.DatabaseStorage
	Redis       *redis.Client
	RedisOpt    asynq.RedisClientOpt
	Queue       *service.PaymentQueue
	Fulfillment *service.FulfillmentService
	Registry    *prometheus.Registry
	Metrics     metrics.Recorder

	closers []func() error
}

// New connects storage, redis, statsd and the chain registry and builds the
// fulfillment service on top of them.
func New(ctx context.Context, cfg *common.CoreConfig, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	if cfg.Database.DSN == "" {
		a.Logger.Warn("no database dsn configured, using in-memory storage")
		a.DB = memory.NewStore()
	} else {
		db, err := postgres.NewPostgresBackend(cfg.Database.DSN, a.Logger)
		if err != nil {
			return fmt.Errorf("postgres.NewPostgresBackend: %w", err)
		}
		a.DB = db
	}
	a.closers = append(a.closers, a.DB.Close)

	redisClient, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("storage.NewRedisClient: %w", err)
	}
	a.Redis = redisClient
	a.closers = append(a.closers, redisClient.Close)

	a.RedisOpt = asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(a.RedisOpt)
	a.closers = append(a.closers, client.Close)
	inspector := asynq.NewInspector(a.RedisOpt)
	a.closers = append(a.closers, inspector.Close)
	a.Queue = service.NewPaymentQueue(client, inspector, a.Logger)

	var sdClient statsd.ClientInterface = &statsd.NoOpClient{}
	if cfg.Datadog.Host != "" {
		c, err := statsd.New(net.JoinHostPort(cfg.Datadog.Host, cfg.Datadog.Port))
		if err != nil {
			return fmt.Errorf("statsd.New: %w", err)
		}
		sdClient = c
		a.closers = append(a.closers, c.Close)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics()
	if err := prom.Register(a.Registry); err != nil {
		return fmt.Errorf("prom.Register: %w", err)
	}
	a.Metrics = metrics.Multi{prom, metrics.NewStatsd(sdClient)}

	nftConfig, err := nft.NewConfig(nft.WithFileConfig(cfg.BaseConfigPath))
	if err != nil {
		return fmt.Errorf("nft.NewConfig: %w", err)
	}

	var custody keysign.Wallets
	if cfg.Escrow.CustodyUrl != "" {
		custody = keysign.NewCustodyApi(cfg.Escrow.CustodyUrl, cfg.Escrow.CustodyToken, cfg.Escrow.Timeout, a.Logger)
	}
	wallets, err := keysign.NewKeyringFromHex(a.Logger, custody, cfg.Escrow.PrivateKeys)
	if err != nil {
		return fmt.Errorf("keysign.NewKeyringFromHex: %w", err)
	}

	chains := chain.NewRegistry(cfg.Networks, chain.DefaultDialer, a.Logger)
	transferer, err := nft.NewTransferer(a.DB, chains, wallets, nftConfig, a.Logger)
	if err != nil {
		return fmt.Errorf("nft.NewTransferer: %w", err)
	}
	executor, err := nft.NewPaymentExecutor(a.DB, transferer)
	if err != nil {
		return fmt.Errorf("nft.NewPaymentExecutor: %w", err)
	}

	invalidator := cache.NewRedisInvalidator(redisClient, cfg.Cache.Prefix, cfg.Cache.Channel, a.Logger)
	outcome, err := plugincommon.NewOutcome(a.DB, invalidator, nftConfig.Policy(), a.Metrics, a.Logger)
	if err != nil {
		return fmt.Errorf("plugincommon.NewOutcome: %w", err)
	}

	nftHandler, err := nft.NewHandler(a.DB, executor, outcome, nftConfig, a.Metrics, a.Logger)
	if err != nil {
		return fmt.Errorf("nft.NewHandler: %w", err)
	}

	a.Fulfillment, err = service.NewFulfillmentService(a.DB, nftHandler, event.NewHandler(a.Logger), a.Metrics, a.Logger)
	if err != nil {
		return fmt.Errorf("service.NewFulfillmentService: %w", err)
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
