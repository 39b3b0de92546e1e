package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type recordingPublisher struct {
	routingKey string
	event      any
	headers    map[string]string
	err        error
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.routingKey = routingKey
	p.event = event
	p.headers = headers
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestAuditEmitterEmit(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewAuditEmitter(pub, "audit.relay", "classroom-relay", "test")
	emitter.now = func() time.Time { return time.Date(2024, 9, 5, 8, 0, 0, 0, time.UTC) }

	emitter.Emit(context.Background(), AuditRecord{
		Level:     "INFO",
		Text:      "student student-7 joined room teacher-teacher-student-7",
		RequestID: "req-1",
		UserID:    "student-7",
		RoomID:    "teacher-teacher-student-7",
		SessionID: "s1",
	})

	require.Equal(t, "audit.relay", pub.routingKey)
	envelope, ok := pub.event.(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "audit_log", envelope.EventType)
	assert.Equal(t, "2024-09-05T08:00:00Z", envelope.OccurredAt)
	assert.Equal(t, "classroom-relay", envelope.Service)
	assert.Equal(t, "test", envelope.Environment)
	assert.Equal(t, "teacher-teacher-student-7", envelope.RoomID)
	assert.Equal(t, "s1", envelope.SessionID)
	require.NotNil(t, envelope.UserID)
	assert.Equal(t, "student-7", *envelope.UserID)
	assert.Empty(t, envelope.TraceID)
	assert.Equal(t, map[string]string{"x-request-id": "req-1"}, pub.headers)
}

func TestAuditEmitterCarriesTraceID(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewAuditEmitter(pub, "audit.relay", "svc", "test")

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	emitter.Emit(ctx, AuditRecord{Level: "INFO", Text: "joined"})

	envelope := pub.event.(AuditEnvelope)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", envelope.TraceID)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", pub.headers["trace_id"])
	assert.Nil(t, envelope.UserID)
}

func TestAuditEmitterNilIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	emitter.Emit(context.Background(), AuditRecord{Text: "ignored"})

	NewAuditEmitter(nil, "audit.relay", "svc", "test").Emit(context.Background(), AuditRecord{Text: "ignored"})
}

func TestAuditEmitterSwallowsPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	emitter := NewAuditEmitter(pub, "audit.relay", "svc", "test")

	emitter.Emit(context.Background(), AuditRecord{Level: "WARN", Text: "text"})
	assert.Equal(t, "audit.relay", pub.routingKey)
}

func TestAuditEnvelopeSummary(t *testing.T) {
	env := AuditEnvelope{EventType: "audit_log", Service: "svc", RequestID: "r1", RoomID: "room-1"}
	assert.Equal(t, "event_type=audit_log service=svc request_id=r1 room=room-1", env.Summary())
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "svc", "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
