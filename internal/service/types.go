// Package service orchestrates the command pipeline: tenant gate,
// idempotency guard, boundary check, aggregate mutation, and the atomic
// save-plus-outbox write.
package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/procurio/be-purchase-requests/internal/domain"
)

// CommandResult is the outcome of a state-changing command. Business
// rejections come back as Success=false with a code, not as Go errors;
// infrastructure failures and concurrency conflicts surface as errors.
type CommandResult struct {
	Success      bool            `json:"success"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// ── Commands ─────────────────────────────────────────────────────────────────

// CreateDraftCommand creates a new draft, optionally with initial items.
type CreateDraftCommand struct {
	RequesterName string
	Title         string
	Description   string
	Items         []ItemInput
}

// ItemInput is one line item supplied by the caller.
type ItemInput struct {
	ProductID   uuid.UUID
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// AddItemCommand appends an item to a draft.
type AddItemCommand struct {
	RequestID uuid.UUID
	Item      ItemInput
}

// RemoveItemCommand removes an item from a draft.
type RemoveItemCommand struct {
	RequestID uuid.UUID
	ProductID uuid.UUID
}

// SubmitCommand submits a draft for approval.
type SubmitCommand struct {
	RequestID uuid.UUID
}

// ApproveCommand approves the current step. ExpectedVersion, when non-zero,
// asserts the version the caller observed; a mismatch is a conflict.
type ApproveCommand struct {
	RequestID       uuid.UUID
	Comment         string
	ExpectedVersion int64
}

// RejectCommand rejects the request at the current step.
type RejectCommand struct {
	RequestID       uuid.UUID
	Reason          string
	ExpectedVersion int64
}

// CancelCommand withdraws an in-flight request.
type CancelCommand struct {
	RequestID       uuid.UUID
	ExpectedVersion int64
}

// ReturnCommand sends the request back for revision (ConfigWithReturn only).
type ReturnCommand struct {
	RequestID       uuid.UUID
	Reason          string
	ExpectedVersion int64
}

// ResubmitCommand puts a returned request back through approval.
type ResubmitCommand struct {
	RequestID uuid.UUID
}

// ── Responses ────────────────────────────────────────────────────────────────

// RequestResponse is the serialized view of an aggregate returned by
// commands and queries.
type RequestResponse struct {
	ID            uuid.UUID      `json:"id"`
	RequesterID   uuid.UUID      `json:"requester_id"`
	RequesterName string         `json:"requester_name"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Status        string         `json:"status"`
	CurrentStep   int            `json:"current_step,omitempty"`
	TotalAmount   string         `json:"total_amount"`
	Items         []ItemResponse `json:"items"`
	Steps         []StepResponse `json:"steps"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	SubmittedAt   *time.Time     `json:"submitted_at,omitempty"`
	ApprovedAt    *time.Time     `json:"approved_at,omitempty"`
	RejectedAt    *time.Time     `json:"rejected_at,omitempty"`
	CancelledAt   *time.Time     `json:"cancelled_at,omitempty"`
}

// ItemResponse is one serialized line item.
type ItemResponse struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitPrice   string    `json:"unit_price"`
	Quantity    int       `json:"quantity"`
	Amount      string    `json:"amount"`
}

// StepResponse is one serialized approval step.
type StepResponse struct {
	Number       int        `json:"number"`
	ApproverID   uuid.UUID  `json:"approver_id"`
	ApproverName string     `json:"approver_name"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	Comment      string     `json:"comment,omitempty"`
	ActedAt      *time.Time `json:"acted_at,omitempty"`
}

func newRequestResponse(pr *domain.PurchaseRequest) *RequestResponse {
	items := make([]ItemResponse, len(pr.Items))
	for i, it := range pr.Items {
		items[i] = ItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice.String(),
			Quantity:    it.Quantity,
			Amount:      it.Amount().String(),
		}
	}
	steps := make([]StepResponse, len(pr.Steps))
	for i, s := range pr.Steps {
		steps[i] = StepResponse{
			Number:       s.Number,
			ApproverID:   s.ApproverID,
			ApproverName: s.ApproverName,
			Role:         s.Role,
			Status:       string(s.Status),
			Comment:      s.Comment,
			ActedAt:      s.ActedAt,
		}
	}
	return &RequestResponse{
		ID:            pr.ID,
		RequesterID:   pr.RequesterID,
		RequesterName: pr.RequesterName,
		Title:         pr.Title,
		Description:   pr.Description,
		Status:        string(pr.Status),
		CurrentStep:   pr.CurrentStep,
		TotalAmount:   pr.TotalAmount().String(),
		Items:         items,
		Steps:         steps,
		Version:       pr.Version,
		CreatedAt:     pr.CreatedAt,
		SubmittedAt:   pr.SubmittedAt,
		ApprovedAt:    pr.ApprovedAt,
		RejectedAt:    pr.RejectedAt,
		CancelledAt:   pr.CancelledAt,
	}
}
