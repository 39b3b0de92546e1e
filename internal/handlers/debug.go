package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom-relay/internal/telemetry"
)

// RoomInspector exposes the membership index to the debug routes.
type RoomInspector interface {
	SessionCounter
	Members(roomID string) []string
}

// RegisterDebugRoutes wires the membership dump and an audit round-trip
// check. Nothing is registered unless enabled.
func RegisterDebugRoutes(router *gin.Engine, hub RoomInspector, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	debug := router.Group("/debug")

	debug.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": hub.SessionCount(), "rooms": hub.Rooms()})
	})

	debug.GET("/rooms/:room_id", func(c *gin.Context) {
		members := hub.Members(c.Param("room_id"))
		if len(members) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room_id": c.Param("room_id"), "members": members})
	})

	debug.GET("/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		requestID := requestIDFromContext(c)
		emitter.Emit(c.Request.Context(), telemetry.AuditRecord{
			Level:     "INFO",
			Text:      "audit test",
			RequestID: requestID,
			UserID:    userIDFromContext(c),
			RoomID:    c.Query("room_id"),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestID})
	})
}
