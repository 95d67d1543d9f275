package inventory

import (
	"context"

	kafkax "github.com/ariefcatur/go-sales-orders/internal/kafka"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Orders is the part of orders.Service the consumers drive.
type Orders interface {
	Restock(ctx context.Context, productID string, qty int) (*orders.Product, error)
	UpdateStatus(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error)
}

type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Service applies inventory and fulfilment events to the order store.
type Service struct {
	Orders Orders
	Dedup  Deduper
	Log    *zap.Logger
}

// HandleRestock consumes RestockRequested events.
func (s *Service) HandleRestock(ctx context.Context, m kafkago.Message) error {
	return handle(ctx, s, m, orders.EventRestockRequested, func(ctx context.Context, p orders.RestockRequestedPayload) error {
		prod, err := s.Orders.Restock(ctx, p.ProductID, p.Qty)
		if err != nil {
			return err
		}
		s.log().Info("restock applied", zap.String("product_id", prod.ID), zap.Int("qty", p.Qty), zap.Int("stock", prod.Stock))
		return nil
	})
}

// HandleOrderFulfilled consumes OrderFulfilled events and completes the order.
func (s *Service) HandleOrderFulfilled(ctx context.Context, m kafkago.Message) error {
	return handle(ctx, s, m, orders.EventOrderFulfilled, func(ctx context.Context, p orders.OrderFulfilledPayload) error {
		_, err := s.Orders.UpdateStatus(ctx, p.OrderID, orders.StatusCompleted)
		return err
	})
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// handle decodes, dedups and applies one event. Malformed events and domain
// rejections are logged and committed; infrastructure errors release the
// claim and are returned so the consumer retries.
func handle[T any](ctx context.Context, s *Service, m kafkago.Message, eventType string, apply func(context.Context, T) error) error {
	log := s.log().With(zap.String("topic", m.Topic), zap.Int64("offset", m.Offset))

	env, err := kafkax.Decode[orders.Envelope](m.Value)
	if err != nil {
		log.Warn("skip malformed event", zap.Error(err))
		return nil
	}
	if env.EventType != eventType {
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("trace_id", env.TraceID))

	payload, err := kafkax.UnwrapPayload[T](env.Payload)
	if err != nil {
		log.Warn("skip malformed payload", zap.Error(err))
		return nil
	}

	first, err := s.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		log.Debug("duplicate event ignored")
		return nil
	}

	err = apply(ctx, payload)
	switch {
	case err == nil:
		return nil
	case orders.IsDomainError(err):
		log.Warn("event rejected", zap.String("kind", orders.KindOf(err).String()), zap.Error(err))
		return nil
	default:
		// The consumer ctx may already be cancelled on shutdown; the claim
		// must still go or the redelivery is dropped as a duplicate.
		if rerr := s.Dedup.Release(context.WithoutCancel(ctx), env.EventID); rerr != nil {
			log.Error("release dedup claim", zap.Error(rerr))
		}
		return err
	}
}
