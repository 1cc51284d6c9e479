package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/domain"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// PostgresOutboxRepository implements OutboxRepository. Append is only ever
// called through Store.Atomic so outbox rows share the aggregate's
// transaction; the dequeue/mark side belongs to the dispatcher.
type PostgresOutboxRepository struct {
	q Querier
}

// Append inserts one outbox row per domain event.
func (r *PostgresOutboxRepository) Append(ctx context.Context, events ...domain.Event) error {
	query := `
		INSERT INTO outbox_messages
		    (id, request_id, tenant_id, event_type, payload, occurred_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
	`
	for _, event := range events {
		_, err := r.q.Exec(ctx, query,
			uuid.New(), event.RequestID, event.TenantID,
			string(event.Type), []byte(event.Payload), event.OccurredAt,
		)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append outbox message")
		}
	}
	return nil
}

// Dequeue selects up to limit unprocessed messages, oldest first. The query
// spans tenants, so only the system context may run it. Messages are never
// deleted; processed_at is the sole completion marker.
func (r *PostgresOutboxRepository) Dequeue(ctx context.Context, tctx tenant.Context, limit int) ([]*OutboxMessage, error) {
	if err := tctx.RequireCrossTenant(); err != nil {
		return nil, err
	}
	query := `
		SELECT id, request_id, tenant_id, event_type, payload,
		       occurred_at, processed_at, last_error, retry_count
		FROM outbox_messages
		WHERE processed_at IS NULL
		ORDER BY occurred_at ASC
		LIMIT $1
	`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to dequeue outbox messages")
	}
	defer rows.Close()

	var out []*OutboxMessage
	for rows.Next() {
		msg := &OutboxMessage{}
		if err := rows.Scan(
			&msg.ID, &msg.RequestID, &msg.TenantID, &msg.EventType, &msg.Payload,
			&msg.OccurredAt, &msg.ProcessedAt, &msg.LastError, &msg.RetryCount,
		); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan outbox message")
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkSucceeded stamps processed_at.
func (r *PostgresOutboxRepository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbox_messages SET processed_at = NOW(), last_error = NULL WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to mark outbox message succeeded")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("outbox_message", id.String())
	}
	return nil
}

// MarkFailed records the error and bumps the retry count, leaving the message
// unprocessed for a later pass.
func (r *PostgresOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	query := `
		UPDATE outbox_messages
		SET last_error = $2, retry_count = retry_count + 1
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query, id, errText)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to mark outbox message failed")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("outbox_message", id.String())
	}
	return nil
}
