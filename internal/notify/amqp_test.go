package notify

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

func TestEncodeEventRoundTripsThroughDecode(t *testing.T) {
	order := testOrder(primitive.NewObjectID())
	event := StatusChanged(order)

	msg, err := encodeEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, event.ID, msg.MessageId)
	assert.Equal(t, string(KindStatusChanged), msg.Type)

	decoded, err := decodeEvent(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, event.Kind, decoded.Kind)
	assert.Equal(t, order.ID, decoded.Order.ID)
	assert.Equal(t, order.TotalPrice, decoded.Order.TotalPrice)
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := decodeEvent([]byte("not json"))
	assert.Error(t, err)

	_, err = decodeEvent([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}

type countingHandler struct{ events []Event }

func (h *countingHandler) Dispatch(ctx context.Context, event Event) Report {
	h.events = append(h.events, event)
	return Report{Attempted: 1}
}

type fakeAcknowledger struct {
	acked, nacked, requeued bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func TestHandleDeliveryAcksAfterDispatch(t *testing.T) {
	msg, err := encodeEvent(OrderPlaced(models.Order{ID: primitive.NewObjectID()}))
	require.NoError(t, err)

	ack := &fakeAcknowledger{}
	h := &countingHandler{}
	handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: msg.Body}, h)

	assert.Len(t, h.events, 1)
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}

func TestHandleDeliveryDropsUndecodable(t *testing.T) {
	ack := &fakeAcknowledger{}
	h := &countingHandler{}
	handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{")}, h)

	assert.Empty(t, h.events)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeued)
}
