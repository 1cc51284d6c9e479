package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/procurio/be-purchase-requests/internal/database"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so a
// repository works identically inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	db *database.DB
	repoSet
}

// repoSet binds the repositories to one Querier.
type repoSet struct {
	requests    *PostgresRequestRepository
	outbox      *PostgresOutboxRepository
	idempotency *PostgresIdempotencyStore
	audit       *PostgresAuditRepository
}

func newRepoSet(q Querier) repoSet {
	return repoSet{
		requests:    &PostgresRequestRepository{q: q},
		outbox:      &PostgresOutboxRepository{q: q},
		idempotency: &PostgresIdempotencyStore{q: q},
		audit:       &PostgresAuditRepository{q: q},
	}
}

func (r repoSet) Requests() RequestRepository   { return r.requests }
func (r repoSet) Outbox() OutboxRepository      { return r.outbox }
func (r repoSet) Idempotency() IdempotencyStore { return r.idempotency }
func (r repoSet) Audit() AuditRepository        { return r.audit }

// NewPostgresStore creates the storage entry point.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, repoSet: newRepoSet(db.Pool())}
}

// Atomic runs fn with all repositories bound to a single transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(repos Repositories) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(newRepoSet(tx))
	})
}
