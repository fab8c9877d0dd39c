package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"storefront/internal/mail"
	"storefront/internal/models"
)

// Directory resolves notification recipients.
type Directory interface {
	Owners(ctx context.Context) ([]models.User, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
}

// Report counts delivery attempts for one event.
type Report struct {
	Attempted int
	Failed    int
}

// Dispatcher resolves recipients for an event and emails each of them
// independently. It is also the in-process Publisher: Publish detaches the
// dispatch from the caller and returns immediately.
type Dispatcher struct {
	mailer    mail.Mailer
	directory Directory
	content   *Content

	inflight sync.WaitGroup
}

func NewDispatcher(mailer mail.Mailer, directory Directory, content *Content) *Dispatcher {
	return &Dispatcher{mailer: mailer, directory: directory, content: content}
}

// Publish starts dispatching event in the background. The dispatch outlives
// ctx's cancellation but keeps its values.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.Dispatch(context.WithoutCancel(ctx), event)
	}()
	return nil
}

// Wait blocks until background dispatches finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch delivers event to every recipient it names. Failures are logged
// and counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) Report {
	var attempted, failed atomic.Int64
	send := func(kind string, build func() (mail.Message, error)) {
		attempted.Add(1)
		if err := d.deliver(ctx, build); err != nil {
			failed.Add(1)
			log.Printf("[NOTIFY] [ERROR] %s for order %s event %s: %v", kind, event.Order.ID.Hex(), event.ID, err)
		}
	}

	switch event.Kind {
	case KindOrderPlaced:
		var g errgroup.Group
		g.Go(func() error {
			d.notifyOwners(ctx, event, send)
			return nil
		})
		g.Go(func() error {
			customer, ok := d.customer(ctx, event.Order)
			if ok {
				send("customer receipt", func() (mail.Message, error) {
					return d.content.CustomerReceipt(event.Order, customer)
				})
			}
			return nil
		})
		_ = g.Wait()
	case KindStatusChanged:
		customer, ok := d.customer(ctx, event.Order)
		if ok {
			send("status receipt", func() (mail.Message, error) {
				return d.content.StatusReceipt(event.Order, customer)
			})
		}
	default:
		log.Printf("[NOTIFY] [WARN] unknown event kind %q (%s)", event.Kind, event.ID)
	}

	report := Report{Attempted: int(attempted.Load()), Failed: int(failed.Load())}
	log.Printf("[NOTIFY] [INFO] %s for order %s: %d attempted, %d failed", event.Kind, event.Order.ID.Hex(), report.Attempted, report.Failed)
	return report
}

// notifyOwners alerts every owner concurrently; one owner's failure does not
// affect the others.
func (d *Dispatcher) notifyOwners(ctx context.Context, event Event, send func(string, func() (mail.Message, error))) {
	owners, err := d.directory.Owners(ctx)
	if err != nil {
		log.Printf("[NOTIFY] [ERROR] owner lookup for order %s: %v", event.Order.ID.Hex(), err)
		return
	}

	var g errgroup.Group
	for _, owner := range owners {
		if owner.Email == "" {
			continue
		}
		g.Go(func() error {
			send("owner alert to "+owner.Email, func() (mail.Message, error) {
				return d.content.OwnerAlert(event.Order, owner)
			})
			return nil
		})
	}
	_ = g.Wait()
}

// customer returns the order's customer contact, using the joined identity
// when the event carries one.
func (d *Dispatcher) customer(ctx context.Context, order models.Order) (models.OrderCustomer, bool) {
	if order.Customer != nil && order.Customer.Email != "" {
		return *order.Customer, true
	}
	user, err := d.directory.FindByID(ctx, order.UserID)
	if err != nil {
		log.Printf("[NOTIFY] [ERROR] customer lookup for order %s: %v", order.ID.Hex(), err)
		return models.OrderCustomer{}, false
	}
	if user.Email == "" {
		log.Printf("[NOTIFY] [WARN] customer of order %s has no email", order.ID.Hex())
		return models.OrderCustomer{}, false
	}
	return *user.OrderCustomer(), true
}

func (d *Dispatcher) deliver(ctx context.Context, build func() (mail.Message, error)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	msg, err := build()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return d.mailer.Send(ctx, msg)
}
