package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/bootstrap"
	"github.com/ariefcatur/go-sales-orders/internal/config"
	"github.com/ariefcatur/go-sales-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-sales-orders/internal/kafka"
	"github.com/ariefcatur/go-sales-orders/internal/logging"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/redisx"
	"github.com/ariefcatur/go-sales-orders/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	service := cfg.ServiceName + "-inventory"
	logger, err := logging.New(service, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		logger.Fatal("KAFKA_BROKERS and REDIS_ADDR are required for the inventory consumer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, service, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing init", zap.Error(err))
	}

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Fatal("redis", zap.Error(err))
	}

	// Status changes made here are published like the API's.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(context.Background())

	svc := orders.NewService(store,
		orders.WithLogger(logger),
		orders.WithStatusCache(redisx.NewStatusCache(rdb, cfg.StatusCacheTTL)),
		orders.WithEvents(&orders.EventPublisher{Producer: prod, Service: service, Log: logger}),
	)
	inv := &inventory.Service{
		Orders: svc,
		Dedup:  redisx.NewDedup(rdb, "inventory"),
		Log:    logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	for topic, h := range map[string]kafkax.Handler{
		orders.TopicRestockRequested: inv.HandleRestock,
		orders.TopicOrderFulfilled:   inv.HandleOrderFulfilled,
	} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, topic, cfg.Workers, logger)
		logger.Info("consumer started",
			zap.String("group", cfg.WorkerGroup), zap.String("topic", topic), zap.Int("workers", cfg.Workers))
		g.Go(func() error { return cons.Start(gctx, h) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("consumer exit", zap.Error(err))
	}
	logger.Info("shutting down consumer")

	prod.Close()
	prod.WaitClosed()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
