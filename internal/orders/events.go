package orders

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventRestockRequested   = "RestockRequested"
	EventOrderFulfilled     = "OrderFulfilled"

	envelopeVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ItemPrice struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type OrderPlacedPayload struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Items      []ItemPrice `json:"items"`
	Total      string      `json:"total"`
}

type OrderCancelledPayload struct {
	OrderID  string    `json:"order_id"`
	Restored []ItemQty `json:"restored"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

// RestockRequestedPayload is consumed from TopicRestockRequested.
type RestockRequestedPayload struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// OrderFulfilledPayload is consumed from TopicOrderFulfilled.
type OrderFulfilledPayload struct {
	OrderID string `json:"order_id"`
}

// Events receives committed order changes. Implementations must not fail the
// caller: the change is already durable when they run.
type Events interface {
	OrderPlaced(ctx context.Context, o *Order)
	OrderCancelled(ctx context.Context, o *Order)
	OrderStatusChanged(ctx context.Context, o *Order, from Status)
}

type publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) error
}

// EventPublisher turns order changes into Kafka envelopes.
type EventPublisher struct {
	Producer publisher
	Service  string
	Log      *zap.Logger
	now      func() time.Time
}

var _ Events = (*EventPublisher)(nil)

func (p *EventPublisher) OrderPlaced(ctx context.Context, o *Order) {
	items := make([]ItemPrice, 0, len(o.Lines))
	for _, ln := range o.Lines {
		items = append(items, ItemPrice{
			ProductID: ln.ProductID,
			Qty:       ln.Quantity,
			UnitPrice: ln.UnitPrice.StringFixed(2),
			Subtotal:  ln.Subtotal.StringFixed(2),
		})
	}
	p.publish(ctx, TopicOrderPlaced, EventOrderPlaced, o.ID, OrderPlacedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Items:      items,
		Total:      o.Total.StringFixed(2),
	})
}

func (p *EventPublisher) OrderCancelled(ctx context.Context, o *Order) {
	items := make([]ItemQty, 0, len(o.Lines))
	for _, ln := range o.Lines {
		items = append(items, ItemQty{ProductID: ln.ProductID, Qty: ln.Quantity})
	}
	p.publish(ctx, TopicOrderCancelled, EventOrderCancelled, o.ID, OrderCancelledPayload{
		OrderID:  o.ID,
		Restored: items,
	})
}

func (p *EventPublisher) OrderStatusChanged(ctx context.Context, o *Order, from Status) {
	p.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, o.ID, OrderStatusChangedPayload{
		OrderID: o.ID,
		From:    from,
		To:      o.Status,
	})
}

func (p *EventPublisher) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	raw, err := json.Marshal(payload)
	if err == nil {
		var b []byte
		b, err = json.Marshal(Envelope{
			EventID:       uuid.NewString(),
			EventType:     eventType,
			EventVersion:  envelopeVersion,
			OccurredAt:    now().UTC(),
			Producer:      p.Service,
			TraceID:       traceID(ctx),
			CorrelationID: orderID,
			Payload:       raw,
		})
		if err == nil {
			err = p.Producer.Publish(topic, PartitionKey(orderID), b,
				kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
				kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
			)
		}
	}
	if err != nil && p.Log != nil {
		p.Log.Warn("publish event failed",
			zap.String("event_type", eventType), zap.String("order_id", orderID), zap.Error(err))
	}
}
