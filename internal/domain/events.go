package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType tags a domain event raised by the aggregate.
type EventType string

const (
	EventSubmitted    EventType = "request_submitted"
	EventStepApproved EventType = "request_step_approved"
	EventApproved     EventType = "request_approved"
	EventRejected     EventType = "request_rejected"
	EventCancelled    EventType = "request_cancelled"
	EventReturned     EventType = "request_returned"
	EventResubmitted  EventType = "request_resubmitted"
)

// Event is a domain event raised by a purchase request mutation. Events are
// collected on the aggregate and drained by the unit-of-work boundary, which
// writes them to the outbox in the same transaction as the aggregate save.
type Event struct {
	Type       EventType
	RequestID  uuid.UUID
	TenantID   uuid.UUID
	OccurredAt time.Time
	Payload    json.RawMessage
}

// SubmittedPayload is the JSON body of a request_submitted event.
type SubmittedPayload struct {
	RequestID   uuid.UUID `json:"request_id"`
	RequesterID uuid.UUID `json:"requester_id"`
	Title       string    `json:"title"`
	TotalAmount string    `json:"total_amount"`
	TotalSteps  int       `json:"total_steps"`
}

// StepActionPayload is the JSON body of step-level events
// (request_step_approved, request_returned).
type StepActionPayload struct {
	RequestID  uuid.UUID `json:"request_id"`
	StepNumber int       `json:"step_number"`
	ActorID    uuid.UUID `json:"actor_id"`
	Comment    string    `json:"comment,omitempty"`
}

// TerminalPayload is the JSON body of terminal events
// (request_approved, request_rejected, request_cancelled).
type TerminalPayload struct {
	RequestID uuid.UUID `json:"request_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Reason    string    `json:"reason,omitempty"`
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Event payload structs contain only marshalable fields; a failure
		// here is a programming error.
		panic(err)
	}
	return data
}
