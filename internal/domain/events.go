package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewAuditEvent builds the outbox draft for an audit event. The partition key
// is the subject (usually the normalized email) so events for one principal stay ordered.
func NewAuditEvent(eventType EventType, subject string, attrs map[string]any, occurredAt time.Time) OutboxDraft {
	if attrs == nil {
		attrs = map[string]any{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		payload, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: eventType.Aggregate(),
		AggregateID:   subject,
		EventType:     eventType,
		PartitionKey:  subject,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    occurredAt,
	}
}
