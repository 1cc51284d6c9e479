// Package domain holds the purchase request aggregate, its state machine,
// the approval flow resolver and the approval boundary engine. Nothing in
// this package touches persistence or transport.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
)

// Status is the lifecycle state of a purchase request.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
	StatusReturned        Status = "returned"
)

// IsTerminal reports whether the status is final. Terminal requests are
// immutable; they are never physically deleted.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// StepStatus is the state of a single approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// Configuration selects the transition table the aggregate enforces.
type Configuration int

const (
	// ConfigStandard is the base workflow: rejection is terminal.
	ConfigStandard Configuration = iota
	// ConfigWithReturn adds a returned state: the current approver can send
	// the request back for revision and the original requester can resubmit.
	ConfigWithReturn
)

// transitions is the explicit transition table per configuration. Every
// mutation validates against it before touching state; an illegal transition
// is a domain error, never silently ignored.
var transitions = map[Configuration]map[Status][]Status{
	ConfigStandard: {
		StatusDraft:           {StatusPendingApproval},
		StatusPendingApproval: {StatusApproved, StatusRejected, StatusCancelled},
	},
	ConfigWithReturn: {
		StatusDraft:           {StatusPendingApproval},
		StatusPendingApproval: {StatusApproved, StatusRejected, StatusCancelled, StatusReturned},
		StatusReturned:        {StatusPendingApproval, StatusCancelled},
	},
}

// Item is a line item on a purchase request. Items are immutable once the
// request leaves draft.
type Item struct {
	ProductID   uuid.UUID
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Amount is the computed line amount.
func (i Item) Amount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ApprovalStep is one step of the approval chain. Steps are owned by the
// request: created once at submission, then only transitioned.
type ApprovalStep struct {
	Number       int
	ApproverID   uuid.UUID
	ApproverName string
	Role         string
	Status       StepStatus
	Comment      string
	ActedAt      *time.Time
}

// PurchaseRequest is the aggregate root. It is mutated only through its own
// operations; no caller ever sets status or step state directly.
type PurchaseRequest struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	RequesterID   uuid.UUID
	RequesterName string
	Title         string
	Description   string
	Items         []Item
	Steps         []ApprovalStep
	Status        Status
	// CurrentStep is the 1-based number of the lowest pending step while the
	// request is in progress, 0 otherwise.
	CurrentStep int
	Version     int64
	CreatedAt   time.Time
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	RejectedAt  *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time

	config      Configuration
	ceiling     decimal.Decimal
	baseVersion int64
	events      []Event
}

// NewPurchaseRequest creates a request in draft for the given requester.
func NewPurchaseRequest(
	tenantID, requesterID uuid.UUID,
	requesterName, title, description string,
	config Configuration,
	ceiling decimal.Decimal,
) (*PurchaseRequest, error) {
	if title == "" {
		return nil, apperrors.InvalidInput("title", "title is required")
	}
	now := time.Now().UTC()
	return &PurchaseRequest{
		ID:            uuid.New(),
		TenantID:      tenantID,
		RequesterID:   requesterID,
		RequesterName: requesterName,
		Title:         title,
		Description:   description,
		Status:        StatusDraft,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		config:        config,
		ceiling:       ceiling,
	}, nil
}

// Rehydrate restores an aggregate loaded from storage. baseVersion is the
// version the caller observed; Save must fail if it no longer matches.
func Rehydrate(pr *PurchaseRequest, config Configuration, ceiling decimal.Decimal) *PurchaseRequest {
	pr.config = config
	pr.ceiling = ceiling
	pr.baseVersion = pr.Version
	return pr
}

// BaseVersion is the version observed when the aggregate was loaded, used for
// the optimistic-concurrency check on save. Zero means the aggregate is new.
func (pr *PurchaseRequest) BaseVersion() int64 { return pr.baseVersion }

// PopEvents drains the events raised since the last drain. The unit-of-work
// boundary writes them to the outbox within the same transaction as the
// aggregate save.
func (pr *PurchaseRequest) PopEvents() []Event {
	events := pr.events
	pr.events = nil
	return events
}

// TotalAmount is the sum of all line amounts.
func (pr *PurchaseRequest) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range pr.Items {
		total = total.Add(item.Amount())
	}
	return total
}

// Snapshot projects the aggregate into the value the boundary engine
// evaluates. Read models build the same snapshot from denormalized rows.
func (pr *PurchaseRequest) Snapshot() RequestSnapshot {
	steps := make([]StepSnapshot, len(pr.Steps))
	for i, s := range pr.Steps {
		steps[i] = StepSnapshot{Number: s.Number, ApproverID: s.ApproverID, Status: s.Status}
	}
	return RequestSnapshot{
		ID:          pr.ID,
		RequesterID: pr.RequesterID,
		Status:      pr.Status,
		CurrentStep: pr.CurrentStep,
		Steps:       steps,
	}
}

// ── Draft operations ─────────────────────────────────────────────────────────

// AddItem appends a line item. Allowed only in draft; rolls back when the new
// total would exceed the configured ceiling.
func (pr *PurchaseRequest) AddItem(productID uuid.UUID, productName string, unitPrice decimal.Decimal, quantity int) error {
	if pr.Status != StatusDraft {
		return apperrors.DomainRule(fmt.Sprintf("items can only be modified in draft, current status: %s", pr.Status))
	}
	if quantity <= 0 {
		return apperrors.InvalidInput("quantity", "quantity must be positive")
	}
	if unitPrice.IsNegative() {
		return apperrors.InvalidInput("unit_price", "unit price must not be negative")
	}

	item := Item{ProductID: productID, ProductName: productName, UnitPrice: unitPrice, Quantity: quantity}
	if pr.TotalAmount().Add(item.Amount()).GreaterThan(pr.ceiling) {
		return apperrors.DomainRule(fmt.Sprintf("total amount would exceed the ceiling of %s", pr.ceiling))
	}

	pr.Items = append(pr.Items, item)
	pr.touch()
	return nil
}

// RemoveItem removes the line item for the given product. Allowed only in
// draft.
func (pr *PurchaseRequest) RemoveItem(productID uuid.UUID) error {
	if pr.Status != StatusDraft {
		return apperrors.DomainRule(fmt.Sprintf("items can only be modified in draft, current status: %s", pr.Status))
	}
	for i, item := range pr.Items {
		if item.ProductID == productID {
			pr.Items = append(pr.Items[:i], pr.Items[i+1:]...)
			pr.touch()
			return nil
		}
	}
	return apperrors.NotFound("item", productID.String())
}

// ── Submission ───────────────────────────────────────────────────────────────

// Submit materializes the approval chain from resolved steps and moves the
// request to the first pending-approval state.
func (pr *PurchaseRequest) Submit(steps []ApprovalStep) error {
	if err := pr.ensureTransition(StatusPendingApproval); err != nil {
		return err
	}
	if pr.Status != StatusDraft {
		return apperrors.DomainRule(fmt.Sprintf("only draft requests can be submitted, current status: %s", pr.Status))
	}
	if len(pr.Items) == 0 {
		return apperrors.DomainRule("request has no items")
	}
	if err := validateSteps(steps); err != nil {
		return err
	}

	pr.Steps = make([]ApprovalStep, len(steps))
	copy(pr.Steps, steps)
	for i := range pr.Steps {
		pr.Steps[i].Status = StepPending
		pr.Steps[i].ActedAt = nil
	}

	now := time.Now().UTC()
	pr.Status = StatusPendingApproval
	pr.CurrentStep = 1
	pr.SubmittedAt = &now
	pr.touch()

	pr.raise(EventSubmitted, mustMarshal(SubmittedPayload{
		RequestID:   pr.ID,
		RequesterID: pr.RequesterID,
		Title:       pr.Title,
		TotalAmount: pr.TotalAmount().String(),
		TotalSteps:  len(pr.Steps),
	}))
	return nil
}

func validateSteps(steps []ApprovalStep) error {
	if len(steps) == 0 {
		return apperrors.DomainRule("approval flow resolved to zero steps")
	}
	for i, s := range steps {
		if s.Number != i+1 {
			return apperrors.DomainRule(fmt.Sprintf("approval steps must be contiguous from 1, got %d at position %d", s.Number, i))
		}
		if s.ApproverID == uuid.Nil {
			return apperrors.DomainRule(fmt.Sprintf("step %d has no approver assigned", s.Number))
		}
	}
	return nil
}

// ── Approval chain ───────────────────────────────────────────────────────────

// Approve marks the current step approved by actorID. Advances to the next
// step, or transitions the request to approved when the chain is complete.
// Callers consult the boundary engine first; this re-validates defensively.
func (pr *PurchaseRequest) Approve(actorID uuid.UUID, comment string) error {
	step, err := pr.currentPendingStep(actorID)
	if err != nil {
		return err
	}
	finalStep := pr.CurrentStep == len(pr.Steps)
	if finalStep {
		if err := pr.ensureTransition(StatusApproved); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	step.Status = StepApproved
	step.Comment = comment
	step.ActedAt = &now

	if !finalStep {
		pr.CurrentStep++
		pr.touch()
		pr.raise(EventStepApproved, mustMarshal(StepActionPayload{
			RequestID:  pr.ID,
			StepNumber: step.Number,
			ActorID:    actorID,
			Comment:    comment,
		}))
		return nil
	}

	pr.Status = StatusApproved
	pr.CurrentStep = 0
	pr.ApprovedAt = &now
	pr.touch()
	pr.raise(EventApproved, mustMarshal(TerminalPayload{RequestID: pr.ID, ActorID: actorID}))
	return nil
}

// Reject rejects the request at the current step. The reason is mandatory and
// rejection is terminal in the standard configuration.
func (pr *PurchaseRequest) Reject(actorID uuid.UUID, reason string) error {
	if reason == "" {
		return apperrors.InvalidInput("reason", "rejection reason is required")
	}
	step, err := pr.currentPendingStep(actorID)
	if err != nil {
		return err
	}
	if err := pr.ensureTransition(StatusRejected); err != nil {
		return err
	}

	now := time.Now().UTC()
	step.Status = StepRejected
	step.Comment = reason
	step.ActedAt = &now

	pr.Status = StatusRejected
	pr.CurrentStep = 0
	pr.RejectedAt = &now
	pr.touch()
	pr.raise(EventRejected, mustMarshal(TerminalPayload{RequestID: pr.ID, ActorID: actorID, Reason: reason}))
	return nil
}

// Cancel lets the original requester withdraw an in-flight request. Drafts
// cannot be cancelled (delete them instead) and terminal requests are final.
func (pr *PurchaseRequest) Cancel(actorID uuid.UUID) error {
	if actorID != pr.RequesterID {
		return apperrors.DomainRule("only the original requester can cancel the request")
	}
	if pr.Status == StatusDraft {
		return apperrors.DomainRule("draft requests cannot be cancelled, delete the draft instead")
	}
	if err := pr.ensureTransition(StatusCancelled); err != nil {
		return err
	}

	now := time.Now().UTC()
	pr.Status = StatusCancelled
	pr.CurrentStep = 0
	pr.CancelledAt = &now
	pr.touch()
	pr.raise(EventCancelled, mustMarshal(TerminalPayload{RequestID: pr.ID, ActorID: actorID}))
	return nil
}

// ── Return-for-revision variant ──────────────────────────────────────────────

// ReturnForRevision sends the request back to the requester for changes.
// Available only in the ConfigWithReturn transition table; requires the
// current approver and a reason.
func (pr *PurchaseRequest) ReturnForRevision(actorID uuid.UUID, reason string) error {
	if reason == "" {
		return apperrors.InvalidInput("reason", "return reason is required")
	}
	step, err := pr.currentPendingStep(actorID)
	if err != nil {
		return err
	}
	if err := pr.ensureTransition(StatusReturned); err != nil {
		return err
	}

	now := time.Now().UTC()
	step.Comment = reason
	step.ActedAt = &now

	pr.Status = StatusReturned
	pr.CurrentStep = 0
	pr.touch()
	pr.raise(EventReturned, mustMarshal(StepActionPayload{
		RequestID:  pr.ID,
		StepNumber: step.Number,
		ActorID:    actorID,
		Comment:    reason,
	}))
	return nil
}

// Resubmit puts a returned request back through the approval chain. Only the
// original requester may resubmit; the chain is rebuilt from freshly resolved
// steps.
func (pr *PurchaseRequest) Resubmit(actorID uuid.UUID, steps []ApprovalStep) error {
	if actorID != pr.RequesterID {
		return apperrors.DomainRule("only the original requester can resubmit the request")
	}
	if pr.Status != StatusReturned {
		return apperrors.DomainRule(fmt.Sprintf("only returned requests can be resubmitted, current status: %s", pr.Status))
	}
	if err := pr.ensureTransition(StatusPendingApproval); err != nil {
		return err
	}
	if err := validateSteps(steps); err != nil {
		return err
	}

	pr.Steps = make([]ApprovalStep, len(steps))
	copy(pr.Steps, steps)
	for i := range pr.Steps {
		pr.Steps[i].Status = StepPending
		pr.Steps[i].ActedAt = nil
	}

	pr.Status = StatusPendingApproval
	pr.CurrentStep = 1
	pr.touch()
	pr.raise(EventResubmitted, mustMarshal(SubmittedPayload{
		RequestID:   pr.ID,
		RequesterID: pr.RequesterID,
		Title:       pr.Title,
		TotalAmount: pr.TotalAmount().String(),
		TotalSteps:  len(pr.Steps),
	}))
	return nil
}

// ── Internal helpers ─────────────────────────────────────────────────────────

// currentPendingStep returns the current step after re-validating that the
// request is in progress and actorID is its assigned approver.
func (pr *PurchaseRequest) currentPendingStep(actorID uuid.UUID) (*ApprovalStep, error) {
	if pr.Status != StatusPendingApproval {
		return nil, apperrors.DomainRule(fmt.Sprintf("request is not awaiting approval, current status: %s", pr.Status))
	}
	if pr.CurrentStep < 1 || pr.CurrentStep > len(pr.Steps) {
		return nil, apperrors.DomainRule("request has no current approval step")
	}
	step := &pr.Steps[pr.CurrentStep-1]
	if step.Status != StepPending {
		return nil, apperrors.DomainRule(fmt.Sprintf("step %d is not pending (status: %s)", step.Number, step.Status))
	}
	if step.ApproverID != actorID {
		return nil, apperrors.DomainRule(fmt.Sprintf("actor is not the assigned approver for step %d", step.Number))
	}
	return step, nil
}

func (pr *PurchaseRequest) ensureTransition(to Status) error {
	for _, allowed := range transitions[pr.config][pr.Status] {
		if allowed == to {
			return nil
		}
	}
	return apperrors.DomainRule(fmt.Sprintf("illegal transition from %s to %s", pr.Status, to))
}

func (pr *PurchaseRequest) touch() {
	pr.Version++
	pr.UpdatedAt = time.Now().UTC()
}

func (pr *PurchaseRequest) raise(eventType EventType, payload []byte) {
	pr.events = append(pr.events, Event{
		Type:       eventType,
		RequestID:  pr.ID,
		TenantID:   pr.TenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
}
