package bootstrap

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-sales-orders/internal/config"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/postgres"
	"go.uber.org/zap"
)

// Store is an opened order store with its lifecycle hooks.
type Store struct {
	orders.Store
	Ping  func(ctx context.Context) error // nil for the in-memory store
	Close func()
}

// OpenStore connects the store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return &Store{Store: orders.NewMemStore(), Close: func() {}}, nil
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
			log.Info("schema migrated")
		}
		return &Store{Store: &orders.Repo{DB: pool}, Ping: pool.Ping, Close: pool.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
