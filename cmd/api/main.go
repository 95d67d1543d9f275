package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/bootstrap"
	"github.com/ariefcatur/go-sales-orders/internal/config"
	"github.com/ariefcatur/go-sales-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-sales-orders/internal/kafka"
	"github.com/ariefcatur/go-sales-orders/internal/logging"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/redisx"
	"github.com/ariefcatur/go-sales-orders/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing init", zap.Error(err))
	}

	// Store
	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()
	checks := map[string]httpx.HealthCheck{}
	if store.Ping != nil {
		checks["postgres"] = store.Ping
	}

	opts := []orders.Option{orders.WithLogger(logger)}
	var (
		idem   httpx.Idempotency
		status httpx.StatusCache
	)

	// Redis (optional): idempotency + status cache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			logger.Warn("redis unavailable at startup", zap.Error(err))
		}
		cache := redisx.NewStatusCache(rdb, cfg.StatusCacheTTL)
		idem, status = redisx.NewIdempotency(rdb, cfg.IdempotencyTTL), cache
		opts = append(opts, orders.WithStatusCache(cache))
		checks["redis"] = func(ctx context.Context) error { return redisx.Ping(ctx, rdb) }
	}

	// Kafka (optional): order events
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
		prod.Start(context.Background())
		opts = append(opts, orders.WithEvents(&orders.EventPublisher{
			Producer: prod,
			Service:  cfg.ServiceName,
			Log:      logger,
		}))
	}

	svc := orders.NewService(store, opts...)
	router := httpx.NewRouter(logger, checks)
	(&httpx.OrdersHandler{Orders: svc, Idem: idem, Status: status, Log: logger}).Register(router)
	(&httpx.CatalogHandler{Catalog: svc, Log: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server", zap.Error(err))
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
