package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// AuditRecord is one line of the relay audit trail. Empty fields are omitted.
type AuditRecord struct {
	Level     string
	Text      string
	RequestID string
	UserID    string
	RoomID    string
	SessionID string
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	RoomID        string       `json:"room_id,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Summary describes the envelope in one log line.
func (e AuditEnvelope) Summary() string {
	return fmt.Sprintf("event_type=%s service=%s request_id=%s room=%s", e.EventType, e.Service, e.RequestID, e.RoomID)
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes rec. A nil emitter is valid and does nothing. The trace id
// of the span in ctx, if any, travels in the envelope and the headers.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		RoomID:        rec.RoomID,
		SessionID:     rec.SessionID,
		Payload: AuditPayload{
			Level: rec.Level,
			Text:  rec.Text,
		},
	}
	if rec.UserID != "" {
		userID := rec.UserID
		envelope.UserID = &userID
	}

	headers := map[string]string{}
	if rec.RequestID != "" {
		headers["x-request-id"] = rec.RequestID
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		envelope.TraceID = sc.TraceID().String()
		headers["trace_id"] = envelope.TraceID
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		log.Printf("audit publish failed room=%s: %v", rec.RoomID, err)
	}
}
