package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

type memoryCarts struct {
	items map[primitive.ObjectID][]models.CartItem
}

func (m *memoryCarts) Get(ctx context.Context, userID primitive.ObjectID) (models.Cart, error) {
	return models.Cart{UserID: userID, Items: m.items[userID]}, nil
}

func (m *memoryCarts) AddItem(ctx context.Context, userID, productID primitive.ObjectID, quantity int, at time.Time) error {
	for i, item := range m.items[userID] {
		if item.ProductID == productID {
			m.items[userID][i].Quantity += quantity
			return nil
		}
	}
	m.items[userID] = append(m.items[userID], models.CartItem{ProductID: productID, Quantity: quantity})
	return nil
}

func (m *memoryCarts) SetQuantity(ctx context.Context, userID, productID primitive.ObjectID, quantity int, at time.Time) error {
	for i, item := range m.items[userID] {
		if item.ProductID == productID {
			m.items[userID][i].Quantity = quantity
			return nil
		}
	}
	return database.ErrNotFound
}

func (m *memoryCarts) RemoveItem(ctx context.Context, userID, productID primitive.ObjectID, at time.Time) error {
	items := m.items[userID]
	for i, item := range items {
		if item.ProductID == productID {
			m.items[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return database.ErrNotFound
}

func (m *memoryCarts) Clear(ctx context.Context, userID primitive.ObjectID, at time.Time) error {
	delete(m.items, userID)
	return nil
}

type memoryCatalog struct {
	products map[primitive.ObjectID]models.Product
	fail     bool
}

func (m *memoryCatalog) ListProducts(ctx context.Context, f database.ProductFilter) ([]models.Product, int64, error) {
	if m.fail {
		return nil, 0, errors.New("catalog offline")
	}
	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, int64(len(out)), nil
}

func (m *memoryCatalog) FindProduct(ctx context.Context, id primitive.ObjectID) (models.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return models.Product{}, database.ErrNotFound
	}
	return p, nil
}

func (m *memoryCatalog) FindProducts(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Product, error) {
	out := make(map[primitive.ObjectID]models.Product)
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memoryCatalog) ActiveCategories(ctx context.Context) ([]models.Category, error) {
	return nil, nil
}

func newCartRouter(userID primitive.ObjectID, carts CartStore, catalog Catalog) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	r.GET("/cart", GetCart(carts, catalog))
	r.POST("/cart/items", AddCartItem(carts, catalog))
	r.PATCH("/cart/items/:productId", UpdateCartItem(carts))
	r.DELETE("/cart/items/:productId", RemoveCartItem(carts))
	r.DELETE("/cart", ClearCart(carts))
	r.GET("/products", GetProducts(catalog))
	r.GET("/categories", GetCategories(catalog))
	return r
}

func TestCartFlow(t *testing.T) {
	userID := primitive.NewObjectID()
	hay := models.Product{ID: primitive.NewObjectID(), Name: "Hay", Price: 250, Offer: 20, FinalPrice: 200}
	gone := primitive.NewObjectID()
	carts := &memoryCarts{items: map[primitive.ObjectID][]models.CartItem{
		userID: {{ProductID: gone, Quantity: 1}},
	}}
	catalog := &memoryCatalog{products: map[primitive.ObjectID]models.Product{hay.ID: hay}}
	r := newCartRouter(userID, carts, catalog)

	if w := doJSON(r, http.MethodPost, "/cart/items", `{"productId":"`+hay.ID.Hex()+`","quantity":2}`); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(r, http.MethodPost, "/cart/items", `{"productId":"`+hay.ID.Hex()+`","quantity":1}`); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/cart/items", `{"productId":"`+primitive.NewObjectID().Hex()+`","quantity":1}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/cart/items", `{"productId":"`+hay.ID.Hex()+`","quantity":0}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d", w.Code)
	}

	w := doJSON(r, http.MethodGet, "/cart", "")
	var view struct {
		Items []struct {
			Product  models.Product `json:"product"`
			Quantity int            `json:"quantity"`
		} `json:"items"`
	}
	decodeBody(t, w, &view)
	if len(view.Items) != 1 {
		t.Fatalf("expected the removed product to drop out, got %s", w.Body.String())
	}
	if view.Items[0].Quantity != 3 || view.Items[0].Product.ID != hay.ID {
		t.Fatalf("unexpected cart line %+v", view.Items[0])
	}

	if w := doJSON(r, http.MethodPatch, "/cart/items/"+hay.ID.Hex(), `{"quantity":5}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPatch, "/cart/items/"+primitive.NewObjectID().Hex(), `{"quantity":5}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for item not in cart, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodDelete, "/cart/items/"+hay.ID.Hex(), ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodDelete, "/cart/items/bad", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodDelete, "/cart", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(carts.items[userID]) != 0 {
		t.Fatalf("expected an empty cart")
	}
}

func TestProductListShapes(t *testing.T) {
	p := models.Product{ID: primitive.NewObjectID(), Name: "Feed", Price: 100}
	catalog := &memoryCatalog{products: map[primitive.ObjectID]models.Product{p.ID: p}}
	r := newCartRouter(primitive.NewObjectID(), &memoryCarts{items: map[primitive.ObjectID][]models.CartItem{}}, catalog)

	w := doJSON(r, http.MethodGet, "/products", "")
	var bare []models.Product
	decodeBody(t, w, &bare)
	if len(bare) != 1 {
		t.Fatalf("expected a bare array, got %s", w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/products?page=1&limit=5", "")
	var paged struct {
		Data       []models.Product `json:"data"`
		Pagination struct {
			TotalPages int64 `json:"totalPages"`
		} `json:"pagination"`
	}
	decodeBody(t, w, &paged)
	if len(paged.Data) != 1 || paged.Pagination.TotalPages != 1 {
		t.Fatalf("unexpected paged response %s", w.Body.String())
	}

	if w := doJSON(r, http.MethodGet, "/products?page=x&limit=5", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/categories", ""); w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Fatalf("expected empty category list, got %d %s", w.Code, w.Body.String())
	}

	catalog.fail = true
	if w := doJSON(r, http.MethodGet, "/products", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	down := false
	r.GET("/health", Health(map[string]Pinger{
		"mongo": func(ctx context.Context) error { return nil },
		"redis": func(ctx context.Context) error {
			if down {
				return errors.New("connection refused")
			}
			return nil
		},
	}))

	if w := doJSON(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	down = true
	w := doJSON(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, w, &body)
	if body.Checks["redis"] != "down" || body.Checks["mongo"] != "up" {
		t.Fatalf("unexpected checks %+v", body.Checks)
	}
}
