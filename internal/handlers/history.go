package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"classroom-relay/internal/repositories"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryHandler serves the room message log kept behind the relay.
type HistoryHandler struct {
	repo repositories.RoomMessageRepository
}

// NewHistoryHandler builds a HistoryHandler.
func NewHistoryHandler(repo repositories.RoomMessageRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// GetRoomMessages returns the most recent archived payloads of a room, oldest first.
func (h *HistoryHandler) GetRoomMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed > maxHistoryLimit {
			parsed = maxHistoryLimit
		}
		limit = parsed
	}

	msgs, err := h.repo.ListRecent(c.Request.Context(), roomID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "messages": msgs})
}
