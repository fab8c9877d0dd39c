package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger checks a backing store.
type Pinger func(ctx context.Context) error

// Health reports whether every named dependency answers.
func Health(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /health"
		defer handlePanic(c, route)

		status := http.StatusOK
		results := make(gin.H, len(checks))
		for name, ping := range checks {
			if err := ping(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "down"
				continue
			}
			results[name] = "up"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": results})
	}
}
