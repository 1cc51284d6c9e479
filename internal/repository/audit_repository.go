package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// PostgresAuditRepository implements AuditRepository. Entries are append-only.
type PostgresAuditRepository struct {
	q Querier
}

// Append inserts one audit entry.
func (r *PostgresAuditRepository) Append(ctx context.Context, tctx tenant.Context, entry *AuditEntry) error {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode audit metadata")
	}

	query := `
		INSERT INTO approval_audit_log
		    (id, tenant_id, request_id, action, performed_by, performed_at,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.q.Exec(ctx, query,
		uuid.New(), tenantID, entry.RequestID, entry.Action, entry.PerformedBy, entry.PerformedAt,
		entry.StatusBefore, entry.StatusAfter, metadata,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// History returns the audit trail for a request, oldest first.
func (r *PostgresAuditRepository) History(ctx context.Context, tctx tenant.Context, requestID uuid.UUID) ([]*AuditEntry, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, request_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM approval_audit_log
		WHERE tenant_id = $1 AND request_id = $2
		ORDER BY performed_at ASC
	`
	rows, err := r.q.Query(ctx, query, tenantID, requestID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to query audit history")
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadata []byte
		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.RequestID, &entry.Action, &entry.PerformedBy, &entry.PerformedAt,
			&entry.StatusBefore, &entry.StatusAfter, &metadata,
		); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode audit metadata")
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
