package ws

import (
	"time"

	"github.com/google/uuid"

	"classroom-relay/internal/observability"
)

// ConnInfo identifies a session in logs and lifecycle events.
type ConnInfo struct {
	observability.RequestMeta
	SessionID   string
	TraceID     string
	ConnectedAt time.Time
}

func newSessionID() string {
	return uuid.NewString()
}

func (i ConnInfo) headers() map[string]string {
	return observability.BuildHeaders(i.RequestID, i.TraceID)
}

// event builds the ws_events envelope for a session transition.
func (i ConnInfo) event(name, reason string) observability.EventEnvelope {
	return observability.NewSessionEvent(name, observability.SessionEvent{
		SessionID:  i.SessionID,
		IP:         i.IP,
		UserAgent:  i.UserAgent,
		DurationMS: time.Since(i.ConnectedAt).Milliseconds(),
		Reason:     reason,
	})
}
