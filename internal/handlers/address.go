package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront/internal/database"
	"storefront/internal/models"
)

type addressRequest struct {
	Title     string `json:"title" binding:"required"`
	Detail    string `json:"detail" binding:"required"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
	Note      string `json:"note"`
	IsDefault bool   `json:"isDefault"`
}

func (r addressRequest) apply(a *models.Address) {
	a.Title = strings.TrimSpace(r.Title)
	a.Detail = strings.TrimSpace(r.Detail)
	a.City = strings.TrimSpace(r.City)
	a.State = strings.TrimSpace(r.State)
	a.Pincode = strings.TrimSpace(r.Pincode)
	a.Note = strings.TrimSpace(r.Note)
	a.IsDefault = r.IsDefault
}

// loadAddressOwner fetches the caller's account for an address change.
func loadAddressOwner(c *gin.Context, route string, book AddressBook) (models.User, bool) {
	userID, ok := currentUserID(c, route)
	if !ok {
		return models.User{}, false
	}
	user, err := book.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondWithError(c, http.StatusNotFound, route, "user not found")
		} else {
			log.Println("[ADDRESS] [ERROR] user lookup failed:", err)
			respondWithError(c, http.StatusInternalServerError, route, "db error")
		}
		return models.User{}, false
	}
	return user, true
}

func saveAddresses(c *gin.Context, route string, book AddressBook, user models.User, addresses []models.Address) bool {
	if err := book.UpdateAddresses(c.Request.Context(), user.ID, addresses, time.Now().UTC()); err != nil {
		log.Println("[ADDRESS] [ERROR] save addresses failed:", err)
		respondWithError(c, http.StatusInternalServerError, route, "db error")
		return false
	}
	return true
}

func clearDefault(addresses []models.Address) {
	for i := range addresses {
		addresses[i].IsDefault = false
	}
}

func GetUserAddresses(book AddressBook) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /user/addresses"
		defer handlePanic(c, route)

		user, ok := loadAddressOwner(c, route, book)
		if !ok {
			return
		}
		addresses := user.Addresses
		if addresses == nil {
			addresses = []models.Address{}
		}
		c.JSON(http.StatusOK, gin.H{"addresses": addresses})
	}
}

func CreateUserAddress(book AddressBook) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /user/addresses"
		defer handlePanic(c, route)

		var req addressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, route, err)
			return
		}

		user, ok := loadAddressOwner(c, route, book)
		if !ok {
			return
		}

		if req.IsDefault {
			clearDefault(user.Addresses)
		}
		address := models.Address{ID: uuid.NewString()}
		req.apply(&address)
		addresses := append(user.Addresses, address)

		if !saveAddresses(c, route, book, user, addresses) {
			return
		}

		log.Println("[ADDRESS] [INFO] address created:", address.ID)
		c.JSON(http.StatusCreated, gin.H{"address": address})
	}
}

func UpdateUserAddress(book AddressBook) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /user/addresses/:id"
		defer handlePanic(c, route)

		var req addressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, route, err)
			return
		}

		addressID := strings.TrimSpace(c.Param("id"))
		if addressID == "" {
			respondWithError(c, http.StatusBadRequest, route, "invalid address id")
			return
		}

		user, ok := loadAddressOwner(c, route, book)
		if !ok {
			return
		}

		index := -1
		for i, addr := range user.Addresses {
			if addr.ID == addressID {
				index = i
				break
			}
		}
		if index == -1 {
			respondWithError(c, http.StatusNotFound, route, "address not found")
			return
		}

		if req.IsDefault {
			clearDefault(user.Addresses)
		}
		req.apply(&user.Addresses[index])

		if !saveAddresses(c, route, book, user, user.Addresses) {
			return
		}

		log.Println("[ADDRESS] [INFO] address updated:", addressID)
		c.JSON(http.StatusOK, gin.H{"address": user.Addresses[index]})
	}
}

func DeleteUserAddress(book AddressBook) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /user/addresses/:id"
		defer handlePanic(c, route)

		addressID := strings.TrimSpace(c.Param("id"))
		if addressID == "" {
			respondWithError(c, http.StatusBadRequest, route, "invalid address id")
			return
		}

		user, ok := loadAddressOwner(c, route, book)
		if !ok {
			return
		}

		updated := make([]models.Address, 0, len(user.Addresses))
		found := false
		for _, addr := range user.Addresses {
			if addr.ID == addressID {
				found = true
				continue
			}
			updated = append(updated, addr)
		}
		if !found {
			respondWithError(c, http.StatusNotFound, route, "address not found")
			return
		}

		if !saveAddresses(c, route, book, user, updated) {
			return
		}

		log.Println("[ADDRESS] [INFO] address deleted:", addressID)
		c.JSON(http.StatusOK, gin.H{"message": "address deleted"})
	}
}
