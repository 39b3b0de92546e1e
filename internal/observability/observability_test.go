package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	calls int
	err   error
}

func (p *stubPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.calls++
	return p.err
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	require.NoError(t, PublishEvent(context.Background(), WSEventsRoutingKey, EventEnvelope{}, nil))
}

func TestPublishEventCountsErrors(t *testing.T) {
	pub := &stubPublisher{err: errors.New("closed")}
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	before := testutil.ToFloat64(amqpPublishErrorsTotal)
	err := PublishEvent(context.Background(), RoomEventsRoutingKey, NewRoomEvent("room_created", RoomEvent{RoomID: "room-1", ActiveRooms: 1}), nil)

	require.Error(t, err)
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, before+1, testutil.ToFloat64(amqpPublishErrorsTotal))
}

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}

func TestMetaFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.5:4123"
	req.Header.Set("User-Agent", "classchat/1")

	meta := MetaFromRequest(req)
	assert.Equal(t, "10.0.0.5", meta.IP)
	assert.Equal(t, "classchat/1", meta.UserAgent)
	assert.NotEmpty(t, meta.RequestID)

	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", MetaFromRequest(req).IP)

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Request-ID", "req-1")
	meta = MetaFromRequest(req)
	assert.Equal(t, "203.0.113.9", meta.IP)
	assert.Equal(t, "req-1", meta.RequestID)
}

func TestEnvelopeSummary(t *testing.T) {
	session := NewSessionEvent("ws_connect", SessionEvent{SessionID: "s1"})
	assert.Equal(t, "ws_events", session.EventType)
	assert.NotEmpty(t, session.OccurredAt)
	assert.Equal(t, "event=ws_connect session=s1", session.Summary())

	room := NewRoomEvent("room_deleted", RoomEvent{RoomID: "room-42"})
	assert.Equal(t, "room_events", room.EventType)
	assert.Equal(t, "event=room_deleted room=room-42", room.Summary())

	assert.Equal(t, "event=x", EventEnvelope{EventName: "x"}.Summary())
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200")))
}
