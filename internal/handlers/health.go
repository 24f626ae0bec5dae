package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OnlineCounter reports live presence.
type OnlineCounter interface {
	Count() int
	OnlineUsers() []string
}

// Health answers GET /healthz.
func Health(storeDriver string, presence OnlineCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"store":        storeDriver,
			"online_users": presence.Count(),
		})
	}
}
