package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"classroom-relay/internal/observability"
)

// RelayWebSocketHandler upgrades relay connections and runs their sessions.
type RelayWebSocketHandler struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	sendBuffer int
}

// NewRelayWebSocketHandler constructs a RelayWebSocketHandler. An empty
// origin list or a "*" entry accepts every origin.
func NewRelayWebSocketHandler(hub *Hub, allowedOrigins []string, sendBuffer int) *RelayWebSocketHandler {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &RelayWebSocketHandler{
		hub:        hub,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Handle upgrades the connection and registers a session with the hub.
func (h *RelayWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("classroom-relay/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		return
	}

	traceID := ""
	if span.SpanContext().HasTraceID() {
		traceID = span.SpanContext().TraceID().String()
	}
	info := ConnInfo{
		RequestMeta: observability.MetaFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	session := newSession(newSessionID(), conn, h.sendBuffer, info)
	span.SetAttributes(attribute.String("relay.session_id", session.ID))

	h.hub.Register(session)
	headers := session.Info.headers()
	_ = observability.PublishEvent(ctx, observability.WSEventsRoutingKey, session.Info.event("ws_connect", ""), headers)

	go session.writePump()
	go func() {
		err := session.readPump(h.hub)
		h.hub.Unregister(session)

		reason := ""
		if err != nil {
			reason = err.Error()
		}
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			_ = observability.PublishEvent(context.Background(), observability.WSEventsRoutingKey, session.Info.event("ws_error", reason), headers)
		}
		_ = observability.PublishEvent(context.Background(), observability.WSEventsRoutingKey, session.Info.event("ws_disconnect", reason), headers)
	}()
}
