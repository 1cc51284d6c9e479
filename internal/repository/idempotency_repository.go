package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// PostgresIdempotencyStore implements IdempotencyStore over a table keyed
// uniquely by (tenant_id, request_key). Concurrent duplicates are resolved by
// the unique constraint, not in-process locks, so the guard stays correct
// across multiple service instances.
type PostgresIdempotencyStore struct {
	q Querier
}

// Get returns the recorded outcome for the key, or (nil, nil) on a miss.
func (s *PostgresIdempotencyStore) Get(ctx context.Context, tctx tenant.Context, key string) (*IdempotencyRecord, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, request_key, command_type, result, created_at
		FROM idempotency_records
		WHERE tenant_id = $1 AND request_key = $2
	`
	rec := &IdempotencyRecord{}
	err = s.q.QueryRow(ctx, query, tenantID, key).Scan(
		&rec.TenantID, &rec.RequestKey, &rec.CommandType, &rec.Result, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to read idempotency record")
	}
	return rec, nil
}

// Record stores the outcome once per key. ON CONFLICT DO NOTHING makes the
// losing side of a concurrent duplicate observable via created=false.
func (s *PostgresIdempotencyStore) Record(ctx context.Context, tctx tenant.Context, rec *IdempotencyRecord) (bool, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO idempotency_records (tenant_id, request_key, command_type, result, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, request_key) DO NOTHING
	`
	tag, err := s.q.Exec(ctx, query, tenantID, rec.RequestKey, rec.CommandType, []byte(rec.Result), rec.CreatedAt)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record idempotency outcome")
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes records created before the cutoff. The delete spans
// tenants, so only the system context may run it.
func (s *PostgresIdempotencyStore) DeleteExpired(ctx context.Context, tctx tenant.Context, cutoff time.Time) (int64, error) {
	if err := tctx.RequireCrossTenant(); err != nil {
		return 0, err
	}
	query := `DELETE FROM idempotency_records WHERE created_at < $1`
	tag, err := s.q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete expired idempotency records")
	}
	return tag.RowsAffected(), nil
}
