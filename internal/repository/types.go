package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ── Outbox ───────────────────────────────────────────────────────────────────

// OutboxMessage is one durable domain event awaiting dispatch. Rows are
// created only inside the same transaction as the aggregate change that
// raised the event, and mutated only by the dispatcher.
type OutboxMessage struct {
	ID          uuid.UUID
	RequestID   uuid.UUID
	TenantID    uuid.UUID
	EventType   string
	Payload     json.RawMessage
	OccurredAt  time.Time
	ProcessedAt *time.Time
	LastError   *string
	RetryCount  int
}

// ── Idempotency ──────────────────────────────────────────────────────────────

// IdempotencyRecord stores the first recorded outcome of a logical command.
// Immutable after creation; removed only by the retention sweep.
type IdempotencyRecord struct {
	TenantID    uuid.UUID
	RequestKey  string
	CommandType string
	Result      json.RawMessage
	CreatedAt   time.Time
}

// ── Audit ────────────────────────────────────────────────────────────────────

// AuditEntry is one immutable record in the approval audit trail.
type AuditEntry struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	RequestID    uuid.UUID
	Action       string
	PerformedBy  uuid.UUID
	PerformedAt  time.Time
	StatusBefore string
	StatusAfter  string
	Metadata     map[string]any
}

// ── Pending approvals projection ─────────────────────────────────────────────

// PendingApproval is one row of the "awaiting my action" query: the current
// pending step of an in-progress request assigned to the actor. Later steps
// of the same request are deliberately excluded.
type PendingApproval struct {
	RequestID     uuid.UUID
	Title         string
	RequesterName string
	TotalAmount   string
	StepNumber    int
	Role          string
	SubmittedAt   time.Time
}
