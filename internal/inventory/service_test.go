package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func event(t *testing.T, id, eventType string, payload any) kafkago.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(orders.Envelope{EventID: id, EventType: eventType, EventVersion: 1, Payload: raw})
	require.NoError(t, err)
	return kafkago.Message{Topic: "test", Value: b}
}

type fixture struct {
	inv   *Service
	svc   *orders.Service
	redis *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	svc := orders.NewService(orders.NewMemStore())
	return &fixture{
		inv:   &Service{Orders: svc, Dedup: redisx.NewDedup(rdb, "inventory"), Log: zaptest.NewLogger(t)},
		svc:   svc,
		redis: mr,
	}
}

func TestHandleRestock_AppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.CreateProduct(ctx, orders.NewProduct{Name: "Mug", Price: decimal.NewFromInt(8), Stock: 1})
	require.NoError(t, err)

	msg := event(t, "e1", orders.EventRestockRequested, orders.RestockRequestedPayload{ProductID: p.ID, Qty: 4})
	require.NoError(t, f.inv.HandleRestock(ctx, msg))
	require.NoError(t, f.inv.HandleRestock(ctx, msg))

	got, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
	assert.True(t, f.redis.Exists("dedup:inventory:e1"))
}

func TestHandleRestock_SkipsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.inv.HandleRestock(ctx, kafkago.Message{Value: []byte("not json")}))
	assert.NoError(t, f.inv.HandleRestock(ctx, event(t, "e2", orders.EventOrderPlaced, map[string]string{})))
	assert.False(t, f.redis.Exists("dedup:inventory:e2"))

	// Unknown product is a domain rejection: committed, not retried.
	msg := event(t, "e3", orders.EventRestockRequested, orders.RestockRequestedPayload{ProductID: "ghost", Qty: 1})
	assert.NoError(t, f.inv.HandleRestock(ctx, msg))
}

func TestHandleOrderFulfilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.CreateCustomer(ctx, orders.NewCustomer{FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com"})
	require.NoError(t, err)
	p, err := f.svc.CreateProduct(ctx, orders.NewProduct{Name: "Mug", Price: decimal.NewFromInt(8), Stock: 3})
	require.NoError(t, err)
	o, err := f.svc.ProcessOrder(ctx, c.ID, []orders.LineInput{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)

	require.NoError(t, f.inv.HandleOrderFulfilled(ctx,
		event(t, "e4", orders.EventOrderFulfilled, orders.OrderFulfilledPayload{OrderID: o.ID})))

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, got.Status)

	spend, err := f.svc.TotalSpendByCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "8.00", spend.StringFixed(2))

	// A second fulfilment with a new id hits the state machine and is skipped.
	assert.NoError(t, f.inv.HandleOrderFulfilled(ctx,
		event(t, "e5", orders.EventOrderFulfilled, orders.OrderFulfilledPayload{OrderID: o.ID})))
}

type brokenOrders struct{}

func (brokenOrders) Restock(context.Context, string, int) (*orders.Product, error) {
	return nil, errors.New("connection refused")
}

func (brokenOrders) UpdateStatus(context.Context, string, orders.Status) (*orders.Order, error) {
	return nil, errors.New("connection refused")
}

func TestHandleRestock_InternalErrorReleasesClaim(t *testing.T) {
	f := newFixture(t)
	f.inv.Orders = brokenOrders{}
	ctx := context.Background()

	msg := event(t, "e6", orders.EventRestockRequested, orders.RestockRequestedPayload{ProductID: "p", Qty: 1})
	require.EqualError(t, f.inv.HandleRestock(ctx, msg), "connection refused")
	assert.False(t, f.redis.Exists("dedup:inventory:e6"))
}

// cancellingOrders cancels the consumer ctx before the write reaches the
// store, as a shutdown mid-event does.
type cancellingOrders struct {
	Orders
	cancel context.CancelFunc
}

func (c cancellingOrders) Restock(ctx context.Context, productID string, qty int) (*orders.Product, error) {
	c.cancel()
	return c.Orders.Restock(ctx, productID, qty)
}

func TestHandleRestock_ShutdownMidEventIsRedelivered(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.CreateProduct(context.Background(), orders.NewProduct{Name: "Mug", Price: decimal.NewFromInt(8), Stock: 1})
	require.NoError(t, err)
	msg := event(t, "e7", orders.EventRestockRequested, orders.RestockRequestedPayload{ProductID: p.ID, Qty: 4})

	ctx, cancel := context.WithCancel(context.Background())
	f.inv.Orders = cancellingOrders{Orders: f.svc, cancel: cancel}
	require.ErrorIs(t, f.inv.HandleRestock(ctx, msg), context.Canceled)
	assert.False(t, f.redis.Exists("dedup:inventory:e7"))

	f.inv.Orders = f.svc
	require.NoError(t, f.inv.HandleRestock(context.Background(), msg))
	got, err := f.svc.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}
