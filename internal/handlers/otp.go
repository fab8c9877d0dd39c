package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/otp"
)

type OTPService interface {
	Issue(ctx context.Context, key string, channel otp.Channel) (string, error)
	Verify(ctx context.Context, key, code string) (otp.Result, error)
}

type otpRequest struct {
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Method string `json:"method"`
	OTP    string `json:"otp"`
}

// contactKey picks the contact matching the requested method.
func (r otpRequest) contactKey() (otp.Channel, string, error) {
	method := r.Method
	if strings.TrimSpace(method) == "" && strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Phone) != "" {
		method = string(otp.ChannelSMS)
	}
	channel, err := otp.ParseChannel(method)
	if err != nil {
		return "", "", err
	}
	contact := r.Email
	if channel == otp.ChannelSMS {
		contact = r.Phone
	}
	key, err := otp.NormalizeKey(channel, contact)
	if err != nil {
		return "", "", err
	}
	return channel, key, nil
}

var verifyMessages = map[otp.Result]string{
	otp.NotFound: "no verification code was requested for this contact",
	otp.Expired:  "verification code expired",
	otp.Mismatch: "invalid verification code",
}

func SendOTP(codes OTPService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/send-otp"
		defer handlePanic(c, route)

		var req otpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid request body")
			return
		}

		channel, key, err := req.contactKey()
		if err != nil {
			respondAppError(c, route, err)
			return
		}

		if _, err := codes.Issue(c.Request.Context(), key, channel); err != nil {
			respondAppError(c, route, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "verification code sent"})
	}
}

func VerifyOTP(codes OTPService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/verify-otp"
		defer handlePanic(c, route)

		var req otpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid request body")
			return
		}
		if strings.TrimSpace(req.OTP) == "" {
			respondWithError(c, http.StatusBadRequest, route, "otp is required")
			return
		}

		_, key, err := req.contactKey()
		if err != nil {
			respondAppError(c, route, err)
			return
		}

		result, err := codes.Verify(c.Request.Context(), key, req.OTP)
		if err != nil {
			respondAppError(c, route, err)
			return
		}
		if result != otp.Verified {
			respondWithError(c, http.StatusBadRequest, route, verifyMessages[result])
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "verified", "verified": true})
	}
}
