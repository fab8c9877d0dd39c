package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/mail"
	"storefront/internal/models"
	"storefront/internal/notify"
	"storefront/internal/pricing"
)

type memoryRepo struct {
	mu        sync.Mutex
	orders    map[primitive.ObjectID]models.Order
	insertErr error
	writes    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[primitive.ObjectID]models.Order)}
}

func (r *memoryRepo) Insert(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	r.orders[order.ID] = *order
	r.writes++
	return nil
}

func (r *memoryRepo) FindByID(ctx context.Context, id primitive.ObjectID) (models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return models.Order{}, database.ErrNotFound
	}
	return o, nil
}

func (r *memoryRepo) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) List(ctx context.Context, page, limit int64) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out, int64(len(out)), nil
}

func (r *memoryRepo) CountByStatus(ctx context.Context, status models.OrderStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, o := range r.orders {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, id primitive.ObjectID, expected, next models.OrderStatus, at time.Time) (models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || (expected != "" && o.Status != expected) {
		return models.Order{}, database.ErrNotFound
	}
	o.Status = next
	o.UpdatedAt = at
	r.orders[id] = o
	r.writes++
	return o, nil
}

type memoryCustomers map[primitive.ObjectID]models.User

func (c memoryCustomers) FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	u, ok := c[id]
	if !ok {
		return models.User{}, database.ErrNotFound
	}
	return u, nil
}

func (c memoryCustomers) FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	out := make(map[primitive.ObjectID]models.User)
	for _, id := range ids {
		if u, ok := c[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
	panics bool
}

func (p *capturePublisher) Publish(ctx context.Context, e notify.Event) error {
	if p.panics {
		panic("broker gone")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *capturePublisher) kinds() []notify.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Kind
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	repo      *memoryRepo
	publisher *capturePublisher
	customer  models.User
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	customer := models.User{ID: primitive.NewObjectID(), Name: "Asha", Email: "asha@example.com", Role: models.RoleCustomer}
	repo := newMemoryRepo()
	pub := &capturePublisher{}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := NewService(repo, memoryCustomers{customer.ID: customer}, pub, opts...)
	return fixture{svc: svc, repo: repo, publisher: pub, customer: customer}
}

var farmShipping = models.ShippingInfo{Name: "Asha", Phone: "9999999999", Address: "12 Farm Road"}

func (f fixture) place(t *testing.T) models.Order {
	t.Helper()
	order, err := f.svc.PlaceOrder(context.Background(), f.customer.ID,
		[]pricing.Item{pricing.DirectItem("Feed", 100, 2, 10)}, farmShipping)
	require.NoError(t, err)
	return order
}

func TestPlaceOrderPersistsPendingOrderThenPublishes(t *testing.T) {
	f := newFixture(t)
	order := f.place(t)

	assert.False(t, order.ID.IsZero())
	assert.Equal(t, 180.0, order.TotalPrice)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, models.PaymentUnpaid, order.PaymentStatus)
	assert.Equal(t, fixedNow, order.CreatedAt)

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalPrice, stored.TotalPrice)

	require.Equal(t, []notify.Kind{notify.KindOrderPlaced}, f.publisher.kinds())
	assert.Equal(t, order.ID, f.publisher.events[0].Order.ID)

	mine, err := f.svc.ListMine(context.Background(), f.customer.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestPlaceOrderRejectsBeforePersisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, f.customer.ID, nil, farmShipping)
	assert.ErrorIs(t, err, pricing.ErrEmptyItems)

	_, err = f.svc.PlaceOrder(ctx, f.customer.ID, []pricing.Item{pricing.DirectItem("Bad", -5, 1, 0)}, farmShipping)
	assert.ErrorIs(t, err, pricing.ErrInvalidPricing)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.PlaceOrder(ctx, f.customer.ID, []pricing.Item{pricing.DirectItem("Feed", 1, 1, 0)}, models.ShippingInfo{Name: "Asha"})
	assert.ErrorIs(t, err, ErrShippingRequired)

	assert.Zero(t, f.repo.writes)
	assert.Empty(t, f.publisher.kinds())
}

func TestPlaceOrderSurvivesPublisherFailure(t *testing.T) {
	for name, pub := range map[string]*capturePublisher{
		"error": {err: errors.New("broker down")},
		"panic": {panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.publisher = pub

			order := f.place(t)
			assert.Equal(t, 180.0, order.TotalPrice)
			assert.Equal(t, 1, f.repo.writes)
		})
	}
}

func TestPlaceOrderStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.repo.insertErr = errors.New("connection reset")

	_, err := f.svc.PlaceOrder(context.Background(), f.customer.ID, []pricing.Item{pricing.DirectItem("Feed", 1, 1, 0)}, farmShipping)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, f.publisher.kinds())
}

// A failing recipient must not change the placed order handed back to the
// caller, and the other recipients must still be attempted.
func TestPlaceOrderWithFailingRecipientThroughDispatcher(t *testing.T) {
	customer := models.User{ID: primitive.NewObjectID(), Name: "Asha", Email: "asha@example.com"}
	owners := []models.User{{Email: "down@store.test"}, {Email: "owner@store.test"}}
	m := &flakyMailer{fail: map[string]bool{"down@store.test": true}}
	dispatcher := notify.NewDispatcher(m, directory{owners: owners, customer: customer}, notify.NewContent("Store", "₹", "UTC"))

	svc := NewService(newMemoryRepo(), memoryCustomers{customer.ID: customer}, dispatcher)
	order, err := svc.PlaceOrder(context.Background(), customer.ID, []pricing.Item{pricing.DirectItem("Feed", 100, 2, 10)}, farmShipping)
	require.NoError(t, err)
	assert.Equal(t, 180.0, order.TotalPrice)

	require.NoError(t, dispatcher.Wait(context.Background()))
	assert.ElementsMatch(t, []string{"down@store.test", "owner@store.test", "asha@example.com"}, m.attempted())
}

func TestTransitionRejectsUnknownStatusWithoutWriting(t *testing.T) {
	f := newFixture(t)
	order := f.place(t)
	writes := f.repo.writes

	_, err := f.svc.Transition(context.Background(), order.ID, "Bogus", false)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, writes, f.repo.writes)

	stored, _ := f.repo.FindByID(context.Background(), order.ID)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestTransitionInvalidStatusCheckedBeforeExistence(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(context.Background(), primitive.NewObjectID(), "Bogus", false)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.Transition(context.Background(), primitive.NewObjectID(), models.StatusShipped, false)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestTransitionLenientAllowsAnyValidStatus(t *testing.T) {
	f := newFixture(t)
	order := f.place(t)

	updated, err := f.svc.Transition(context.Background(), order.ID, models.StatusDelivered, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status)
	require.NotNil(t, updated.Customer)
	assert.Equal(t, "asha@example.com", updated.Customer.Email)
	assert.Equal(t, order.TotalPrice, updated.TotalPrice)

	updated, err = f.svc.Transition(context.Background(), order.ID, models.StatusPending, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)
}

func TestTransitionPublishesOnlyWhenAsked(t *testing.T) {
	f := newFixture(t)
	order := f.place(t)

	_, err := f.svc.Transition(context.Background(), order.ID, models.StatusConfirmed, false)
	require.NoError(t, err)
	assert.Equal(t, []notify.Kind{notify.KindOrderPlaced}, f.publisher.kinds())

	_, err = f.svc.Transition(context.Background(), order.ID, models.StatusProcessing, true)
	require.NoError(t, err)
	assert.Equal(t, []notify.Kind{notify.KindOrderPlaced, notify.KindStatusChanged}, f.publisher.kinds())
	assert.Equal(t, models.StatusProcessing, f.publisher.events[1].Order.Status)
}

func TestTransitionSkipsReceiptForUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	f.svc.customers = memoryCustomers{}
	order := f.place(t)

	updated, err := f.svc.Transition(context.Background(), order.ID, models.StatusConfirmed, true)
	require.NoError(t, err)
	assert.Nil(t, updated.Customer)
	assert.Equal(t, []notify.Kind{notify.KindOrderPlaced}, f.publisher.kinds())
}

func TestTransitionStrictEnforcesAdjacency(t *testing.T) {
	f := newFixture(t, WithStrictTransitions(true))
	order := f.place(t)
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, order.ID, models.StatusShipped, false)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	for _, next := range []models.OrderStatus{models.StatusConfirmed, models.StatusProcessing, models.StatusShipped, models.StatusDelivered} {
		_, err := f.svc.Transition(ctx, order.ID, next, false)
		require.NoError(t, err, next)
	}

	_, err = f.svc.Transition(ctx, order.ID, models.StatusCancelled, false)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransitionStrictDetectsConcurrentChange(t *testing.T) {
	f := newFixture(t, WithStrictTransitions(true))
	order := f.place(t)
	f.svc.repo = &racingRepo{memoryRepo: f.repo, sneak: models.StatusCancelled}

	_, err := f.svc.Transition(context.Background(), order.ID, models.StatusConfirmed, false)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	stored, _ := f.repo.FindByID(context.Background(), order.ID)
	assert.Equal(t, models.StatusCancelled, stored.Status)
}

func TestListAllJoinsCustomers(t *testing.T) {
	f := newFixture(t)
	f.place(t)
	f.place(t)

	orders, total, err := f.svc.ListAll(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, o := range orders {
		require.NotNil(t, o.Customer)
		assert.Equal(t, "Asha", o.Customer.Name)
	}

	n, err := f.svc.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// racingRepo lets another writer change the status between the read and the
// conditional write.
type racingRepo struct {
	*memoryRepo
	sneak models.OrderStatus
}

func (r *racingRepo) FindByID(ctx context.Context, id primitive.ObjectID) (models.Order, error) {
	o, err := r.memoryRepo.FindByID(ctx, id)
	if err != nil {
		return o, err
	}
	r.mu.Lock()
	stored := r.orders[id]
	stored.Status = r.sneak
	r.orders[id] = stored
	r.mu.Unlock()
	return o, nil
}

type directory struct {
	owners   []models.User
	customer models.User
}

func (d directory) Owners(ctx context.Context) ([]models.User, error) { return d.owners, nil }

func (d directory) FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	if id == d.customer.ID {
		return d.customer, nil
	}
	return models.User{}, database.ErrNotFound
}

type flakyMailer struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []string
}

func (m *flakyMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg.To)
	if m.fail[msg.To] {
		return errors.New("mailbox unavailable")
	}
	return nil
}

func (m *flakyMailer) attempted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}
