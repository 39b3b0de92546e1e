package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classroom-relay/internal/capability"
)

// RoomVerifier checks a room token against the room being accessed.
type RoomVerifier interface {
	VerifyRoom(token, roomID string) (*capability.Claims, error)
}

// RoomCapability requires a bearer room token for the :room_id in the path.
// A nil verifier lets every request through.
func RoomCapability(verifier RoomVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := verifier.VerifyRoom(parts[1], c.Param("room_id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "room token rejected"})
			return
		}

		c.Set("userID", claims.Subject)
		c.Next()
	}
}
