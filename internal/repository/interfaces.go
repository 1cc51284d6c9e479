// Package repository provides data access contracts and their PostgreSQL
// implementations.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/procurio/be-purchase-requests/internal/domain"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// RequestRepository persists the purchase request aggregate. Every method is
// tenant-scoped through the passed context and fails closed when the context
// carries no tenant id.
type RequestRepository interface {
	Create(ctx context.Context, tctx tenant.Context, pr *domain.PurchaseRequest) error
	Get(ctx context.Context, tctx tenant.Context, id uuid.UUID) (*domain.PurchaseRequest, error)
	// Save persists the aggregate with an optimistic-concurrency check
	// against pr.BaseVersion. Returns a CONFLICT error when the stored
	// version no longer matches.
	Save(ctx context.Context, tctx tenant.Context, pr *domain.PurchaseRequest) error
	List(ctx context.Context, tctx tenant.Context) ([]*domain.PurchaseRequest, error)
	// PendingForApprover returns the current pending step of every
	// in-progress request assigned to the acting user.
	PendingForApprover(ctx context.Context, tctx tenant.Context) ([]*PendingApproval, error)
	// DeleteDraft removes a draft owned by the actor. Drafts are the only
	// requests that are ever physically deleted.
	DeleteDraft(ctx context.Context, tctx tenant.Context, id uuid.UUID) error
}

// OutboxRepository is the writer and reader side of the transactional outbox.
// Append runs inside the same atomic unit as the aggregate save; the rest is
// owned by the dispatcher.
type OutboxRepository interface {
	Append(ctx context.Context, events ...domain.Event) error
	// Dequeue reads unprocessed messages across all tenants and therefore
	// requires the cross-tenant system context.
	Dequeue(ctx context.Context, tctx tenant.Context, limit int) ([]*OutboxMessage, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errText string) error
}

// IdempotencyStore deduplicates logical commands by caller-supplied key,
// scoped per tenant.
type IdempotencyStore interface {
	// Get returns (nil, nil) when no record exists for the key.
	Get(ctx context.Context, tctx tenant.Context, key string) (*IdempotencyRecord, error)
	// Record stores the outcome for the key. Returns created=false when a
	// concurrent duplicate won the insert; the caller should re-read and
	// return the stored outcome.
	Record(ctx context.Context, tctx tenant.Context, rec *IdempotencyRecord) (created bool, err error)
	// DeleteExpired removes records created before the cutoff, across all
	// tenants. Requires the cross-tenant system context; runs as a background
	// sweep, never on the command hot path.
	DeleteExpired(ctx context.Context, tctx tenant.Context, cutoff time.Time) (int64, error)
}

// AuditRepository appends and reads the immutable approval audit trail.
type AuditRepository interface {
	Append(ctx context.Context, tctx tenant.Context, entry *AuditEntry) error
	History(ctx context.Context, tctx tenant.Context, requestID uuid.UUID) ([]*AuditEntry, error)
}

// Repositories is the set of repositories sharing one transaction inside an
// atomic unit of work.
type Repositories interface {
	Requests() RequestRepository
	Outbox() OutboxRepository
	Idempotency() IdempotencyStore
	Audit() AuditRepository
}

// Store is the storage entry point. Atomic runs fn with every repository
// bound to a single transaction: the aggregate save and its outbox rows
// commit or roll back as one unit.
type Store interface {
	Repositories
	Atomic(ctx context.Context, fn func(repos Repositories) error) error
}
