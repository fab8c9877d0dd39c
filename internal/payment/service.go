package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/notify"
)

var (
	ErrNotConfigured = apperr.Validation("payment_unavailable", "online payment is not available")
	ErrOrderNotFound = apperr.NotFound("order_not_found", "order not found")
	ErrAlreadyPaid   = apperr.Conflict("already_paid", "order is already paid")
	ErrOrderClosed   = apperr.Conflict("order_closed", "order can no longer be paid")
)

type Config struct {
	Key         string
	Salt        string
	GatewayURL  string
	CallbackURL string
	SuccessURL  string
	FailureURL  string
}

type Orders interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (models.Order, error)
	SetPaymentTxn(ctx context.Context, id primitive.ObjectID, txnID string, at time.Time) error
	MarkPayment(ctx context.Context, id primitive.ObjectID, txnID string, status models.PaymentStatus, ref string, at time.Time) error
}

type Customers interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
}

// Checkout is the form the client posts to the gateway.
type Checkout struct {
	Action string            `json:"action"`
	Fields map[string]string `json:"fields"`
}

type Service struct {
	orders    Orders
	customers Customers
	cfg       Config
	now       func() time.Time
}

func NewService(orders Orders, customers Customers, cfg Config) *Service {
	return &Service{orders: orders, customers: customers, cfg: cfg, now: time.Now}
}

func (s *Service) Enabled() bool {
	return s.cfg.Key != "" && s.cfg.Salt != ""
}

// NewTxnID returns a gateway transaction id unique per checkout attempt.
func NewTxnID() string {
	return "T" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// Initiate starts a checkout for an order owned by userID. Each call starts
// a new transaction; only the latest one can settle the order.
func (s *Service) Initiate(ctx context.Context, userID, orderID primitive.ObjectID) (Checkout, error) {
	if !s.Enabled() {
		return Checkout{}, ErrNotConfigured
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Checkout{}, ErrOrderNotFound
		}
		return Checkout{}, apperr.Internal(err)
	}
	if order.UserID != userID {
		return Checkout{}, ErrOrderNotFound
	}
	if order.PaymentStatus == models.PaymentPaid {
		return Checkout{}, ErrAlreadyPaid
	}
	if order.Status == models.StatusCancelled {
		return Checkout{}, ErrOrderClosed
	}

	firstName, email, phone := order.Shipping.Name, "", order.Shipping.Phone
	if user, err := s.customers.FindByID(ctx, order.UserID); err == nil {
		email = user.Email
		if firstName == "" {
			firstName = user.Name
		}
		if phone == "" {
			phone = user.Phone
		}
	} else {
		log.Printf("[PAYMENT] [WARN] customer lookup for order %s: %v", orderID.Hex(), err)
	}

	req := Request{
		Key:         s.cfg.Key,
		TxnID:       NewTxnID(),
		Amount:      FormatAmount(order.TotalPrice),
		ProductInfo: "Order " + notify.OrderNumber(order.ID),
		FirstName:   firstName,
		Email:       email,
		UDF:         [5]string{order.ID.Hex()},
	}

	if err := s.orders.SetPaymentTxn(ctx, order.ID, req.TxnID, s.now().UTC()); err != nil {
		return Checkout{}, apperr.Internal(fmt.Errorf("record txn: %w", err))
	}
	log.Printf("[PAYMENT] [INFO] txn %s started for order %s (%s)", req.TxnID, order.ID.Hex(), req.Amount)

	return Checkout{
		Action: s.cfg.GatewayURL,
		Fields: map[string]string{
			"key":         req.Key,
			"txnid":       req.TxnID,
			"amount":      req.Amount,
			"productinfo": req.ProductInfo,
			"firstname":   req.FirstName,
			"email":       req.Email,
			"phone":       phone,
			"udf1":        req.UDF[0],
			"surl":        s.cfg.CallbackURL,
			"furl":        s.cfg.CallbackURL,
			"hash":        RequestHash(req, s.cfg.Salt),
		},
	}, nil
}

// HandleCallback settles the order named by a gateway callback and returns
// where to send the shopper. It never fails: anything wrong with the
// callback leads to the failure page.
func (s *Service) HandleCallback(ctx context.Context, resp Response) string {
	orderHex := resp.UDF[0]
	fail := func(reason string) string {
		log.Printf("[PAYMENT] [ERROR] callback txn %s order %s: %s", resp.TxnID, orderHex, reason)
		return withOrder(s.cfg.FailureURL, orderHex)
	}

	if !s.Enabled() {
		return fail("payments not configured")
	}
	if resp.Key != s.cfg.Key {
		return fail("merchant key mismatch")
	}
	if !resp.Verify(s.cfg.Salt) {
		return fail("hash mismatch")
	}

	orderID, err := primitive.ObjectIDFromHex(orderHex)
	if err != nil {
		return fail("malformed order id")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return fail("order lookup: " + err.Error())
	}
	if order.PaymentTxnID != resp.TxnID {
		return fail("stale or unknown transaction")
	}

	status := models.PaymentFailed
	if strings.EqualFold(resp.Status, "success") {
		if resp.Amount != FormatAmount(order.TotalPrice) {
			return fail(fmt.Sprintf("amount %s does not match order total", resp.Amount))
		}
		status = models.PaymentPaid
	}

	if err := s.orders.MarkPayment(ctx, orderID, resp.TxnID, status, resp.GatewayRef, s.now().UTC()); err != nil {
		return fail("record outcome: " + err.Error())
	}
	if status != models.PaymentPaid {
		return fail("gateway status " + resp.Status)
	}

	log.Printf("[PAYMENT] [INFO] order %s paid (txn %s, ref %s)", orderHex, resp.TxnID, resp.GatewayRef)
	return withOrder(s.cfg.SuccessURL, orderHex)
}

// FormatAmount renders an amount the way it is signed.
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

func withOrder(target, orderHex string) string {
	u, err := url.Parse(target)
	if err != nil || orderHex == "" {
		return target
	}
	q := u.Query()
	q.Set("orderId", orderHex)
	u.RawQuery = q.Encode()
	return u.String()
}
