// Package notify delivers best-effort notifications about committed orders.
// Order code only publishes events; recipients, channels and content are
// resolved here, and no delivery failure is ever reported back to the
// publisher.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storefront/internal/models"
)

// Kind names an event and doubles as its AMQP routing key.
type Kind string

const (
	KindOrderPlaced   Kind = "order.placed"
	KindStatusChanged Kind = "order.status"
)

// Event is a post-commit fact about an order.
type Event struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	Order      models.Order `json:"order"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// OrderPlaced announces a newly committed order to the owners and its customer.
func OrderPlaced(order models.Order) Event {
	return newEvent(KindOrderPlaced, order)
}

// StatusChanged asks for a status receipt to the order's customer.
func StatusChanged(order models.Order) Event {
	return newEvent(KindStatusChanged, order)
}

func newEvent(kind Kind, order models.Order) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Order:      order,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher hands an event to whatever transport delivers it. An error means
// the event was not accepted; it never reflects delivery to a recipient.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
