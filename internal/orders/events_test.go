package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sentMessage struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafkago.Header
}

type fakeProducer struct {
	sent []sentMessage
	err  error
}

func (f *fakeProducer) Publish(topic string, key, value []byte, headers ...kafkago.Header) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{topic, key, value, headers})
	return nil
}

func TestEventPublisher_OrderPlaced(t *testing.T) {
	prod := &fakeProducer{}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pub := &EventPublisher{Producer: prod, Service: "order-api", Log: zaptest.NewLogger(t), now: func() time.Time { return at }}

	o := &Order{ID: "o1", CustomerID: "c1", Status: StatusPending, Total: dec("0")}
	o.addLine(&Product{ID: "a", Name: "Keyboard", Price: dec("10")}, 2)
	pub.OrderPlaced(context.Background(), o)

	require.Len(t, prod.sent, 1)
	msg := prod.sent[0]
	assert.Equal(t, TopicOrderPlaced, msg.topic)
	assert.Equal(t, []byte("o1"), msg.key)
	assert.Equal(t, kafkago.Header{Key: "x-event-type", Value: []byte(EventOrderPlaced)}, msg.headers[0])

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.value, &env))
	assert.Equal(t, EventOrderPlaced, env.EventType)
	assert.Equal(t, "order-api", env.Producer)
	assert.Equal(t, "o1", env.CorrelationID)
	assert.True(t, at.Equal(env.OccurredAt))
	assert.NotEmpty(t, env.EventID)

	var payload OrderPlacedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "20.00", payload.Total)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, ItemPrice{ProductID: "a", Qty: 2, UnitPrice: "10.00", Subtotal: "20.00"}, payload.Items[0])
}

func TestEventPublisher_CancelAndStatus(t *testing.T) {
	prod := &fakeProducer{}
	pub := &EventPublisher{Producer: prod, Service: "order-api"}

	o := &Order{ID: "o2", Status: StatusCancelled, Lines: []OrderLine{{ProductID: "a", Quantity: 3}}}
	pub.OrderCancelled(context.Background(), o)
	o.Status = StatusCompleted
	pub.OrderStatusChanged(context.Background(), o, StatusPending)

	require.Len(t, prod.sent, 2)
	assert.Equal(t, TopicOrderCancelled, prod.sent[0].topic)
	assert.Equal(t, TopicOrderStatusChanged, prod.sent[1].topic)

	var env Envelope
	require.NoError(t, json.Unmarshal(prod.sent[0].value, &env))
	var cancelled OrderCancelledPayload
	require.NoError(t, json.Unmarshal(env.Payload, &cancelled))
	assert.Equal(t, []ItemQty{{ProductID: "a", Qty: 3}}, cancelled.Restored)

	require.NoError(t, json.Unmarshal(prod.sent[1].value, &env))
	var changed OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &changed))
	assert.Equal(t, OrderStatusChangedPayload{OrderID: "o2", From: StatusPending, To: StatusCompleted}, changed)
}

func TestEventPublisher_FailureIsSwallowed(t *testing.T) {
	pub := &EventPublisher{Producer: &fakeProducer{err: errors.New("buffer full")}, Log: zaptest.NewLogger(t)}
	assert.NotPanics(t, func() {
		pub.OrderPlaced(context.Background(), &Order{ID: "o3", Total: dec("0")})
	})
}
