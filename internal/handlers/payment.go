package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/payment"
)

type PaymentService interface {
	Initiate(ctx context.Context, userID, orderID primitive.ObjectID) (payment.Checkout, error)
	HandleCallback(ctx context.Context, resp payment.Response) string
}

type initiatePaymentRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

func InitiatePayment(payments PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /payments/initiate"
		defer handlePanic(c, route)

		userID, ok := currentUserID(c, route)
		if !ok {
			return
		}

		var req initiatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, route, err)
			return
		}
		orderID, err := primitive.ObjectIDFromHex(req.OrderID)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid order id")
			return
		}

		checkout, err := payments.Initiate(c.Request.Context(), userID, orderID)
		if err != nil {
			respondAppError(c, route, err)
			return
		}

		c.JSON(http.StatusOK, checkout)
	}
}

// PaymentCallback receives the gateway's form post. The gateway always gets
// a redirect, never an error body.
func PaymentCallback(payments PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /payments/callback"
		defer handlePanic(c, route)

		resp := payment.Response{
			Key:               c.PostForm("key"),
			TxnID:             c.PostForm("txnid"),
			Amount:            c.PostForm("amount"),
			ProductInfo:       c.PostForm("productinfo"),
			FirstName:         c.PostForm("firstname"),
			Email:             c.PostForm("email"),
			Status:            c.PostForm("status"),
			Hash:              c.PostForm("hash"),
			AdditionalCharges: c.PostForm("additionalCharges"),
			GatewayRef:        c.PostForm("mihpayid"),
			UDF: [5]string{
				c.PostForm("udf1"),
				c.PostForm("udf2"),
				c.PostForm("udf3"),
				c.PostForm("udf4"),
				c.PostForm("udf5"),
			},
		}

		c.Redirect(http.StatusSeeOther, payments.HandleCallback(c.Request.Context(), resp))
	}
}
