package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/models"
)

type CartStore interface {
	Get(ctx context.Context, userID primitive.ObjectID) (models.Cart, error)
	AddItem(ctx context.Context, userID, productID primitive.ObjectID, quantity int, at time.Time) error
	SetQuantity(ctx context.Context, userID, productID primitive.ObjectID, quantity int, at time.Time) error
	RemoveItem(ctx context.Context, userID, productID primitive.ObjectID, at time.Time) error
	Clear(ctx context.Context, userID primitive.ObjectID, at time.Time) error
}

type Catalog interface {
	ListProducts(ctx context.Context, f database.ProductFilter) ([]models.Product, int64, error)
	FindProduct(ctx context.Context, id primitive.ObjectID) (models.Product, error)
	FindProducts(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Product, error)
	ActiveCategories(ctx context.Context) ([]models.Category, error)
}

type addCartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

type setCartQuantityRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// cartLine is a cart entry in the shape POST /orders accepts.
type cartLine struct {
	Product  models.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

func GetCart(carts CartStore, catalog Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /cart"
		defer handlePanic(c, route)

		userID, ok := currentUserID(c, route)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		cart, err := carts.Get(ctx, userID)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		ids := make([]primitive.ObjectID, 0, len(cart.Items))
		for _, item := range cart.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := catalog.FindProducts(ctx, ids)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		// Products removed from the catalog drop out of the view.
		lines := make([]cartLine, 0, len(cart.Items))
		for _, item := range cart.Items {
			if product, ok := products[item.ProductID]; ok {
				lines = append(lines, cartLine{Product: product, Quantity: item.Quantity})
			}
		}

		c.JSON(http.StatusOK, gin.H{"items": lines})
	}
}

func AddCartItem(carts CartStore, catalog Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /cart/items"
		defer handlePanic(c, route)

		userID, ok := currentUserID(c, route)
		if !ok {
			return
		}

		var req addCartItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, route, err)
			return
		}
		productID, err := primitive.ObjectIDFromHex(req.ProductID)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid product id")
			return
		}

		ctx := c.Request.Context()
		if _, err := catalog.FindProduct(ctx, productID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondWithError(c, http.StatusNotFound, route, "product not found")
				return
			}
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		if err := carts.AddItem(ctx, userID, productID, req.Quantity, time.Now().UTC()); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "item added"})
	}
}

func UpdateCartItem(carts CartStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /cart/items/:productId"
		defer handlePanic(c, route)

		userID, ok := currentUserID(c, route)
		if !ok {
			return
		}
		productID, ok := objectIDParam(c, route, "productId", "product")
		if !ok {
			return
		}

		var req setCartQuantityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, route, err)
			return
		}

		if err := carts.SetQuantity(c.Request.Context(), userID, productID, req.Quantity, time.Now().UTC()); err != nil {
			respondCartError(c, route, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "item updated"})
	}
}

func RemoveCartItem(carts CartStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /cart/items/:productId"
		defer handlePanic(c, route)

		userID, ok := currentUserID(c, route)
		if !ok {
			return
		}
		productID, ok := objectIDParam(c, route, "productId", "product")
		if !ok {
			return
		}

		if err := carts.RemoveItem(c.Request.Context(), userID, productID, time.Now().UTC()); err != nil {
			respondCartError(c, route, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "item removed"})
	}
}

func ClearCart(carts CartStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /cart"
		defer handlePanic(c, route)

		userID, ok := currentUserID(c, route)
		if !ok {
			return
		}

		if err := carts.Clear(c.Request.Context(), userID, time.Now().UTC()); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "cart cleared"})
	}
}

func respondCartError(c *gin.Context, route string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		respondWithError(c, http.StatusNotFound, route, "item not in cart")
		return
	}
	respondWithError(c, http.StatusInternalServerError, route, "db error")
}
