package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/database"
	"storefront/internal/models"
)

// GetProducts lists visible products. Pagination applies only when both
// page and limit are given; the bare array response is kept for clients
// that predate it.
func GetProducts(catalog Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /products"
		defer handlePanic(c, route)

		filter := database.ProductFilter{
			Category: strings.TrimSpace(c.Query("category")),
			Search:   strings.TrimSpace(c.Query("search")),
		}

		pageStr, limitStr := c.Query("page"), c.Query("limit")
		paginated := pageStr != "" && limitStr != ""
		if paginated {
			page, limit, err := parsePaginationParams(pageStr, limitStr)
			if err != nil {
				respondWithError(c, http.StatusBadRequest, route, err.Error())
				return
			}
			filter.Page, filter.Limit = page, limit
		}

		products, total, err := catalog.ListProducts(c.Request.Context(), filter)
		if err != nil {
			log.Printf("[%s] [ERROR] %v", route, err)
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}
		if products == nil {
			products = []models.Product{}
		}

		log.Printf("[%s] returning %d products", route, len(products))
		if !paginated {
			c.JSON(http.StatusOK, products)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data": products,
			"pagination": gin.H{
				"page":       filter.Page,
				"limit":      filter.Limit,
				"total":      total,
				"totalPages": totalPages(total, filter.Limit),
			},
		})
	}
}

func GetProduct(catalog Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /products/:id"
		defer handlePanic(c, route)

		id, ok := objectIDParam(c, route, "id", "product")
		if !ok {
			return
		}

		product, err := catalog.FindProduct(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondWithError(c, http.StatusNotFound, route, "product not found")
				return
			}
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		c.JSON(http.StatusOK, product)
	}
}

func GetCategories(catalog Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /categories"
		defer handlePanic(c, route)

		categories, err := catalog.ActiveCategories(c.Request.Context())
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}
		if categories == nil {
			categories = []models.Category{}
		}

		c.JSON(http.StatusOK, categories)
	}
}
