package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all audit event types.
type EventType string

const (
	EventRoleInferred                EventType = "identity.role.inferred"
	EventRiskAssessed                EventType = "identity.risk.assessed"
	EventRiskAssessmentFailed        EventType = "identity.risk.assessment_failed"
	EventCredentialIssued            EventType = "identity.credential.issued"
	EventCredentialValidationFailed  EventType = "identity.credential.validation_failed"
	EventCredentialPasswordChangeDue EventType = "identity.credential.password_change_required"
	EventCredentialConsumed          EventType = "identity.credential.consumed"
	EventCredentialConsumeRaceLost   EventType = "identity.credential.consume_conflict"
	EventAccountActivated            EventType = "identity.account.activated"
	EventLoginSucceeded              EventType = "identity.login.succeeded"
	EventLoginFailed                 EventType = "identity.login.failed"
	EventLoginBlocked                EventType = "identity.login.blocked"
	EventSessionCreated              EventType = "identity.session.created"
	EventCollaboratorFailure         EventType = "identity.collaborator.failure"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateAccount    AggregateType = "account"
	AggregateCredential AggregateType = "credential"
	AggregateSession    AggregateType = "session"
	AggregateLogin      AggregateType = "login"
)

// Aggregate returns the aggregate an event type belongs to.
func (t EventType) Aggregate() AggregateType {
	switch t {
	case EventCredentialIssued, EventCredentialValidationFailed, EventCredentialPasswordChangeDue,
		EventCredentialConsumed, EventCredentialConsumeRaceLost:
		return AggregateCredential
	case EventSessionCreated:
		return AggregateSession
	case EventRoleInferred, EventAccountActivated:
		return AggregateAccount
	default:
		return AggregateLogin
	}
}

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}
