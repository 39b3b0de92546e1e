package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionCounter is the part of the hub health reporting needs.
type SessionCounter interface {
	SessionCount() int
	Rooms() map[string][]string
}

// Health reports liveness with the current relay load.
func Health(hub SessionCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": hub.SessionCount(),
			"rooms":    len(hub.Rooms()),
		})
	}
}
