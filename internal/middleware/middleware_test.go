package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/auth"
	"storefront/internal/models"
)

const secret = "test-secret"

func newRouter(guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/private", guard, func(c *gin.Context) {
		id, _ := c.Get(ContextUserID)
		c.JSON(http.StatusOK, gin.H{"userId": id.(primitive.ObjectID).Hex(), "role": c.GetString(ContextRole)})
	})
	return r
}

func bearer(t *testing.T, user models.User) string {
	t.Helper()
	token, err := auth.IssueAccessToken(secret, user, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func doGet(r http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUserAuthAcceptsValidToken(t *testing.T) {
	user := models.User{ID: primitive.NewObjectID(), Role: models.RoleCustomer}
	w := doGet(newRouter(UserAuth(secret)), bearer(t, user))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestUserAuthRejections(t *testing.T) {
	r := newRouter(UserAuth(secret))
	for name, header := range map[string]string{
		"missing":    "",
		"no scheme":  "token",
		"bad token":  "Bearer nope",
		"bad secret": "Bearer " + mustToken(t, "other-secret"),
	} {
		if w := doGet(r, header); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, w.Code)
		}
	}
}

func mustToken(t *testing.T, key string) string {
	t.Helper()
	token, err := auth.IssueAccessToken(key, models.User{ID: primitive.NewObjectID()}, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestOwnerAuthRequiresOwnerRole(t *testing.T) {
	r := newRouter(OwnerAuth(secret))

	customer := models.User{ID: primitive.NewObjectID(), Role: models.RoleCustomer}
	if w := doGet(r, bearer(t, customer)); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", w.Code)
	}

	owner := models.User{ID: primitive.NewObjectID(), Role: models.RoleOwner}
	if w := doGet(r, bearer(t, owner)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", w.Code)
	}
}

func TestRequestIDPropagatesCallerValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Body.String() != "abc-123" || w.Header().Get(HeaderRequestID) != "abc-123" {
		t.Fatalf("request id not propagated: body=%q header=%q", w.Body.String(), w.Header().Get(HeaderRequestID))
	}
}
