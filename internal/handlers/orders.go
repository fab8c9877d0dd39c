package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/pricing"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, customerID primitive.ObjectID, items []pricing.Item, shipping models.ShippingInfo) (models.Order, error)
	Transition(ctx context.Context, id primitive.ObjectID, status models.OrderStatus, notifyCustomer bool) (models.Order, error)
	ListMine(ctx context.Context, customerID primitive.ObjectID) ([]models.Order, error)
	ListAll(ctx context.Context, page, limit int64) ([]models.Order, int64, error)
	PendingCount(ctx context.Context) (int64, error)
}

// AddressBook loads and saves a user's saved addresses.
type AddressBook interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	UpdateAddresses(ctx context.Context, id primitive.ObjectID, addresses []models.Address, at time.Time) error
}

type shippingRequest struct {
	AddressID string `json:"addressId"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
	Note      string `json:"note"`
}

type createOrderRequest struct {
	Items    []pricing.Item  `json:"items"`
	Shipping shippingRequest `json:"shipping"`
}

type updateOrderStatusRequest struct {
	Status                string `json:"status" binding:"required"`
	SendEmailNotification bool   `json:"sendEmailNotification"`
}

func CreateOrder(orders OrderService, addresses AddressBook) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders"
		defer handlePanic(c, route)

		userID, ok := currentUserID(c, route)
		if !ok {
			return
		}

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, "items must be a non-empty array of objects")
			return
		}

		shipping, ok := resolveShipping(c, route, addresses, userID, req.Shipping)
		if !ok {
			return
		}

		order, err := orders.PlaceOrder(c.Request.Context(), userID, req.Items, shipping)
		if err != nil {
			respondAppError(c, route, err)
			return
		}

		c.JSON(http.StatusCreated, order)
	}
}

// resolveShipping copies a saved address into the order when addressId is
// given; fields sent alongside it take precedence.
func resolveShipping(c *gin.Context, route string, addresses AddressBook, userID primitive.ObjectID, req shippingRequest) (models.ShippingInfo, bool) {
	shipping := models.ShippingInfo{
		Name:    strings.TrimSpace(req.Name),
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
		City:    strings.TrimSpace(req.City),
		State:   strings.TrimSpace(req.State),
		Pincode: strings.TrimSpace(req.Pincode),
		Note:    strings.TrimSpace(req.Note),
	}
	addressID := strings.TrimSpace(req.AddressID)
	if addressID == "" {
		return shipping, true
	}

	user, err := addresses.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
		} else {
			log.Printf("[%s] [ERROR] address lookup: %v", route, err)
			respondWithError(c, http.StatusInternalServerError, route, "internal server error")
		}
		return models.ShippingInfo{}, false
	}

	for _, saved := range user.Addresses {
		if saved.ID != addressID {
			continue
		}
		fill := func(dst *string, v string) {
			if *dst == "" {
				*dst = v
			}
		}
		fill(&shipping.Name, user.Name)
		fill(&shipping.Phone, user.Phone)
		fill(&shipping.Address, saved.Detail)
		fill(&shipping.City, saved.City)
		fill(&shipping.State, saved.State)
		fill(&shipping.Pincode, saved.Pincode)
		fill(&shipping.Note, saved.Note)
		return shipping, true
	}

	respondWithError(c, http.StatusBadRequest, route, "address not found")
	return models.ShippingInfo{}, false
}

func GetMyOrders(orders OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders/my"
		defer handlePanic(c, route)

		userID, ok := currentUserID(c, route)
		if !ok {
			return
		}

		list, err := orders.ListMine(c.Request.Context(), userID)
		if err != nil {
			respondAppError(c, route, err)
			return
		}
		if list == nil {
			list = []models.Order{}
		}
		c.JSON(http.StatusOK, list)
	}
}

func GetOrders(orders OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders"
		defer handlePanic(c, route)

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		list, total, err := orders.ListAll(c.Request.Context(), page, limit)
		if err != nil {
			respondAppError(c, route, err)
			return
		}
		if list == nil {
			list = []models.Order{}
		}

		c.JSON(http.StatusOK, gin.H{
			"data": list,
			"pagination": gin.H{
				"page":       page,
				"limit":      limit,
				"total":      total,
				"totalPages": totalPages(total, limit),
			},
		})
	}
}

func GetPendingOrderCount(orders OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders/pending-count"
		defer handlePanic(c, route)

		count, err := orders.PendingCount(c.Request.Context())
		if err != nil {
			respondAppError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

func UpdateOrderStatus(orders OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /orders/:id"
		defer handlePanic(c, route)

		orderID, ok := objectIDParam(c, route, "id", "order")
		if !ok {
			return
		}

		var req updateOrderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, route, err)
			return
		}

		order, err := orders.Transition(c.Request.Context(), orderID, models.OrderStatus(strings.TrimSpace(req.Status)), req.SendEmailNotification)
		if err != nil {
			respondAppError(c, route, err)
			return
		}

		c.JSON(http.StatusOK, order)
	}
}
