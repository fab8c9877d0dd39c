// Package orders places orders and moves them through their lifecycle.
// Notifications are published after each committed write and never affect
// its outcome.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/notify"
	"storefront/internal/pricing"
)

var (
	ErrInvalidStatus     = apperr.Validation("invalid_status", "invalid status value")
	ErrOrderNotFound     = apperr.NotFound("order_not_found", "order not found")
	ErrIllegalTransition = apperr.Conflict("illegal_transition", "status change not allowed")
	ErrShippingRequired  = apperr.Validation("shipping_required", "shipping address is required")
)

// Repository persists orders.
type Repository interface {
	Insert(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id primitive.ObjectID) (models.Order, error)
	ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Order, error)
	List(ctx context.Context, page, limit int64) ([]models.Order, int64, error)
	CountByStatus(ctx context.Context, status models.OrderStatus) (int64, error)
	UpdateStatus(ctx context.Context, id primitive.ObjectID, expected, next models.OrderStatus, at time.Time) (models.Order, error)
}

// Customers resolves the accounts that own orders.
type Customers interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error)
}

type Option func(*Service)

// WithStrictTransitions makes Transition reject status changes that skip or
// reverse lifecycle steps, and makes the write conditional on the status it
// read.
func WithStrictTransitions(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	repo      Repository
	customers Customers
	publisher notify.Publisher
	strict    bool
	now       func() time.Time
}

func NewService(repo Repository, customers Customers, publisher notify.Publisher, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		customers: customers,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder prices items, stores the order as Pending and then announces it.
// The returned order is committed whatever happens to the announcement.
func (s *Service) PlaceOrder(ctx context.Context, customerID primitive.ObjectID, items []pricing.Item, shipping models.ShippingInfo) (models.Order, error) {
	priced, err := pricing.Normalize(items)
	if err != nil {
		return models.Order{}, err
	}
	if strings.TrimSpace(shipping.Address) == "" {
		return models.Order{}, ErrShippingRequired
	}

	now := s.now().UTC()
	order := models.Order{
		UserID:        customerID,
		Items:         priced.Items,
		Shipping:      shipping,
		TotalPrice:    priced.Total,
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, &order); err != nil {
		return models.Order{}, apperr.Internal(fmt.Errorf("insert order: %w", err))
	}
	log.Printf("[ORDER] [INFO] order %s placed by %s: %d items, total %.2f", order.ID.Hex(), customerID.Hex(), len(order.Items), order.TotalPrice)

	s.publish(ctx, notify.OrderPlaced(order))
	return order, nil
}

// Transition moves an order to status. When notifyCustomer is set and the
// customer can be reached, a status receipt is published after the write.
func (s *Service) Transition(ctx context.Context, id primitive.ObjectID, status models.OrderStatus, notifyCustomer bool) (models.Order, error) {
	if !status.Valid() {
		return models.Order{}, ErrInvalidStatus
	}

	var expected models.OrderStatus
	if s.strict {
		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return models.Order{}, s.lookupError(err)
		}
		if !current.Status.CanTransitionTo(status) {
			return models.Order{}, ErrIllegalTransition.WithMessage("cannot change status from %s to %s", current.Status, status)
		}
		expected = current.Status
	}

	order, err := s.repo.UpdateStatus(ctx, id, expected, status, s.now().UTC())
	if err != nil {
		if s.strict && errors.Is(err, database.ErrNotFound) {
			// The order existed a moment ago, so its status moved under us.
			return models.Order{}, ErrIllegalTransition.WithMessage("order status changed concurrently, reload and retry")
		}
		return models.Order{}, s.lookupError(err)
	}
	log.Printf("[ORDER] [INFO] order %s moved to %s", order.ID.Hex(), order.Status)

	s.attachCustomer(ctx, &order)

	if notifyCustomer {
		if order.Customer != nil && order.Customer.Email != "" {
			s.publish(ctx, notify.StatusChanged(order))
		} else {
			log.Printf("[ORDER] [WARN] order %s has no reachable customer, status receipt skipped", order.ID.Hex())
		}
	}
	return order, nil
}

// ListMine returns the customer's orders, newest first.
func (s *Service) ListMine(ctx context.Context, customerID primitive.ObjectID) ([]models.Order, error) {
	orders, err := s.repo.ListByUser(ctx, customerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return orders, nil
}

// ListAll returns one page of every order with customer identities joined,
// plus the total number of orders.
func (s *Service) ListAll(ctx context.Context, page, limit int64) ([]models.Order, int64, error) {
	orders, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}

	seen := make(map[primitive.ObjectID]bool, len(orders))
	ids := make([]primitive.ObjectID, 0, len(orders))
	for _, o := range orders {
		if !seen[o.UserID] {
			seen[o.UserID] = true
			ids = append(ids, o.UserID)
		}
	}

	users, err := s.customers.FindByIDs(ctx, ids)
	if err != nil {
		log.Printf("[ORDER] [WARN] customer join failed, returning orders without identities: %v", err)
		return orders, total, nil
	}
	for i := range orders {
		if user, ok := users[orders[i].UserID]; ok {
			orders[i].Customer = user.OrderCustomer()
		}
	}
	return orders, total, nil
}

// PendingCount is the number of orders awaiting confirmation.
func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	n, err := s.repo.CountByStatus(ctx, models.StatusPending)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// Get returns one order with its customer joined.
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return models.Order{}, s.lookupError(err)
	}
	s.attachCustomer(ctx, &order)
	return order, nil
}

func (s *Service) attachCustomer(ctx context.Context, order *models.Order) {
	user, err := s.customers.FindByID(ctx, order.UserID)
	if err != nil {
		log.Printf("[ORDER] [WARN] customer %s of order %s not resolved: %v", order.UserID.Hex(), order.ID.Hex(), err)
		return
	}
	order.Customer = user.OrderCustomer()
}

func (s *Service) publish(ctx context.Context, event notify.Event) {
	if s.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ORDER] [ERROR] publish %s for order %s panicked: %v", event.Kind, event.Order.ID.Hex(), r)
		}
	}()
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("[ORDER] [ERROR] publish %s for order %s: %v", event.Kind, event.Order.ID.Hex(), err)
	}
}

func (s *Service) lookupError(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrOrderNotFound
	}
	return apperr.Internal(err)
}
