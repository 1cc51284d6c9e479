package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/domain"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// PostgresRequestRepository implements RequestRepository. The aggregate is
// stored as one row; items and steps travel as JSONB so the save and its
// version check are a single statement.
type PostgresRequestRepository struct {
	q Querier
}

// itemRow / stepRow are the JSONB shapes for items and steps.
type itemRow struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

type stepRow struct {
	Number       int        `json:"number"`
	ApproverID   uuid.UUID  `json:"approver_id"`
	ApproverName string     `json:"approver_name"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	Comment      string     `json:"comment,omitempty"`
	ActedAt      *time.Time `json:"acted_at,omitempty"`
}

const requestColumns = `
	id, tenant_id, requester_id, requester_name, title, description,
	status, current_step, items, steps, version,
	created_at, submitted_at, approved_at, rejected_at, cancelled_at, updated_at
`

// Create inserts a new draft.
func (r *PostgresRequestRepository) Create(ctx context.Context, tctx tenant.Context, pr *domain.PurchaseRequest) error {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return err
	}
	items, steps, err := marshalLines(pr)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO purchase_requests
		    (id, tenant_id, requester_id, requester_name, title, description,
		     status, current_step, items, steps, version,
		     created_at, submitted_at, approved_at, rejected_at, cancelled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17)
	`
	_, err = r.q.Exec(ctx, query,
		pr.ID, tenantID, pr.RequesterID, pr.RequesterName, pr.Title, pr.Description,
		string(pr.Status), pr.CurrentStep, items, steps, pr.Version,
		pr.CreatedAt, pr.SubmittedAt, pr.ApprovedAt, pr.RejectedAt, pr.CancelledAt, pr.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create purchase request")
	}
	return nil
}

// Get loads an aggregate by id within the caller's tenant.
func (r *PostgresRequestRepository) Get(ctx context.Context, tctx tenant.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + requestColumns + ` FROM purchase_requests WHERE id = $1 AND tenant_id = $2`
	pr, err := scanRequest(r.q.QueryRow(ctx, query, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("purchase_request", id.String())
	}
	return pr, err
}

// Save persists the full aggregate state guarded by the optimistic version
// check. A zero-row update means another writer got there first.
func (r *PostgresRequestRepository) Save(ctx context.Context, tctx tenant.Context, pr *domain.PurchaseRequest) error {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return err
	}
	items, steps, err := marshalLines(pr)
	if err != nil {
		return err
	}

	query := `
		UPDATE purchase_requests
		SET status       = $4,
		    current_step = $5,
		    items        = $6,
		    steps        = $7,
		    version      = $8,
		    submitted_at = $9,
		    approved_at  = $10,
		    rejected_at  = $11,
		    cancelled_at = $12,
		    updated_at   = $13
		WHERE id = $1 AND tenant_id = $2 AND version = $3
	`
	tag, err := r.q.Exec(ctx, query,
		pr.ID, tenantID, pr.BaseVersion(),
		string(pr.Status), pr.CurrentStep, items, steps, pr.Version,
		pr.SubmittedAt, pr.ApprovedAt, pr.RejectedAt, pr.CancelledAt, pr.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to save purchase request")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("purchase request was modified concurrently, reload and retry")
	}
	return nil
}

// List returns all requests in the caller's tenant, newest first.
func (r *PostgresRequestRepository) List(ctx context.Context, tctx tenant.Context) ([]*domain.PurchaseRequest, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + requestColumns + ` FROM purchase_requests WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.q.Query(ctx, query, tenantID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list purchase requests")
	}
	defer rows.Close()

	var out []*domain.PurchaseRequest
	for rows.Next() {
		pr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// PendingForApprover returns the current pending step of every in-progress
// request assigned to the actor. Matching on current_step keeps later steps
// of the same request out of the result.
func (r *PostgresRequestRepository) PendingForApprover(ctx context.Context, tctx tenant.Context) ([]*PendingApproval, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, title, requester_name,
		       steps -> (current_step - 1) ->> 'role',
		       current_step, submitted_at, items
		FROM purchase_requests
		WHERE tenant_id = $1
		  AND status = 'pending_approval'
		  AND steps -> (current_step - 1) ->> 'approver_id' = $2
		ORDER BY submitted_at ASC
	`
	rows, err := r.q.Query(ctx, query, tenantID, tctx.ActorID.String())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to query pending approvals")
	}
	defer rows.Close()

	var out []*PendingApproval
	for rows.Next() {
		var (
			p         PendingApproval
			itemsJSON []byte
		)
		if err := rows.Scan(&p.RequestID, &p.Title, &p.RequesterName, &p.Role, &p.StepNumber, &p.SubmittedAt, &itemsJSON); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan pending approval")
		}
		var items []itemRow
		if err := json.Unmarshal(itemsJSON, &items); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode items")
		}
		total := decimal.Zero
		for _, it := range items {
			total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		p.TotalAmount = total.String()
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteDraft removes a draft owned by the actor.
func (r *PostgresRequestRepository) DeleteDraft(ctx context.Context, tctx tenant.Context, id uuid.UUID) error {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return err
	}

	query := `
		DELETE FROM purchase_requests
		WHERE id = $1 AND tenant_id = $2 AND requester_id = $3 AND status = 'draft'
	`
	tag, err := r.q.Exec(ctx, query, id, tenantID, tctx.ActorID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete draft")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("draft purchase_request", id.String())
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.PurchaseRequest, error) {
	var (
		pr        domain.PurchaseRequest
		status    string
		itemsJSON []byte
		stepsJSON []byte
	)
	err := row.Scan(
		&pr.ID, &pr.TenantID, &pr.RequesterID, &pr.RequesterName, &pr.Title, &pr.Description,
		&status, &pr.CurrentStep, &itemsJSON, &stepsJSON, &pr.Version,
		&pr.CreatedAt, &pr.SubmittedAt, &pr.ApprovedAt, &pr.RejectedAt, &pr.CancelledAt, &pr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan purchase request")
	}
	pr.Status = domain.Status(status)

	var items []itemRow
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode items")
	}
	for _, it := range items {
		pr.Items = append(pr.Items, domain.Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		})
	}

	var steps []stepRow
	if err := json.Unmarshal(stepsJSON, &steps); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode steps")
	}
	for _, s := range steps {
		pr.Steps = append(pr.Steps, domain.ApprovalStep{
			Number:       s.Number,
			ApproverID:   s.ApproverID,
			ApproverName: s.ApproverName,
			Role:         s.Role,
			Status:       domain.StepStatus(s.Status),
			Comment:      s.Comment,
			ActedAt:      s.ActedAt,
		})
	}
	return &pr, nil
}

func marshalLines(pr *domain.PurchaseRequest) (items, steps []byte, err error) {
	itemRows := make([]itemRow, len(pr.Items))
	for i, it := range pr.Items {
		itemRows[i] = itemRow{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		}
	}
	stepRows := make([]stepRow, len(pr.Steps))
	for i, s := range pr.Steps {
		stepRows[i] = stepRow{
			Number:       s.Number,
			ApproverID:   s.ApproverID,
			ApproverName: s.ApproverName,
			Role:         s.Role,
			Status:       string(s.Status),
			Comment:      s.Comment,
			ActedAt:      s.ActedAt,
		}
	}

	if items, err = json.Marshal(itemRows); err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode items")
	}
	if steps, err = json.Marshal(stepRows); err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode steps")
	}
	return items, steps, nil
}
