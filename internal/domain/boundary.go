package domain

import "github.com/google/uuid"

// ActionType tags an action the boundary engine can allow.
type ActionType string

const (
	ActionApprove ActionType = "approve"
	ActionReject  ActionType = "reject"
	ActionReturn  ActionType = "return"
	ActionCancel  ActionType = "cancel"
)

// Denial reason codes. Stable, machine-readable.
const (
	ReasonTerminalState       = "TERMINAL_STATE"
	ReasonNoPendingStep       = "NO_PENDING_STEP"
	ReasonNotAssignedApprover = "NOT_ASSIGNED_APPROVER"
)

// StepSnapshot is the step data the boundary engine evaluates.
type StepSnapshot struct {
	Number     int
	ApproverID uuid.UUID
	Status     StepStatus
}

// RequestSnapshot is the request data the boundary engine evaluates. Both the
// live aggregate (via PurchaseRequest.Snapshot) and denormalized read models
// produce this value, so the identical algorithm runs against either.
type RequestSnapshot struct {
	ID          uuid.UUID
	RequesterID uuid.UUID
	Status      Status
	CurrentStep int
	Steps       []StepSnapshot
}

// AllowedAction is one action the actor may take, with rendering hints for
// the UI layer.
type AllowedAction struct {
	Type  ActionType `json:"type"`
	Label string     `json:"label"`
	Style string     `json:"style"`
}

// DenialReason explains why no action is allowed.
type DenialReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BoundaryDecision is the structured answer to "what may this actor do to
// this request right now". Ephemeral: computed on demand, never persisted.
type BoundaryDecision struct {
	Allowed bool            `json:"allowed"`
	Actions []AllowedAction `json:"actions"`
	Reasons []DenialReason  `json:"reasons,omitempty"`
}

// ApprovalContext is the decision plus progress metadata for rendering.
type ApprovalContext struct {
	CompletedSteps  int              `json:"completed_steps"`
	RemainingSteps  int              `json:"remaining_steps"`
	IsTerminalState bool             `json:"is_terminal_state"`
	Decision        BoundaryDecision `json:"decision"`
}

// BoundaryEngine computes approval eligibility. It is a pure function of the
// snapshot and actor id: no clock, no request context, no storage.
type BoundaryEngine struct {
	config Configuration
}

// NewBoundaryEngine creates an engine for the given workflow configuration.
func NewBoundaryEngine(config Configuration) *BoundaryEngine {
	return &BoundaryEngine{config: config}
}

// CheckEligibility decides whether the actor may act on the current approval
// step. This is the authoritative place the "only the assigned approver"
// rule lives; the aggregate re-validates it defensively.
func (e *BoundaryEngine) CheckEligibility(snap RequestSnapshot, actorID uuid.UUID) BoundaryDecision {
	if snap.Status.IsTerminal() {
		return denied(ReasonTerminalState, "request is in a terminal state")
	}

	step, ok := currentPending(snap)
	if !ok {
		return denied(ReasonNoPendingStep, "request has no pending approval step")
	}
	if step.ApproverID != actorID {
		return denied(ReasonNotAssignedApprover, "actor is not the assigned approver for the current step")
	}

	actions := []AllowedAction{
		{Type: ActionApprove, Label: "Approve", Style: "primary"},
		{Type: ActionReject, Label: "Reject", Style: "danger"},
	}
	if e.config == ConfigWithReturn {
		actions = append(actions, AllowedAction{Type: ActionReturn, Label: "Return for revision", Style: "secondary"})
	}
	return BoundaryDecision{Allowed: true, Actions: actions}
}

// GetContext layers progress metadata over CheckEligibility and adds the
// cancel rule: cancel is allowed exactly when the request is non-terminal,
// non-draft and the actor is the original requester, independent of approval
// eligibility.
func (e *BoundaryEngine) GetContext(snap RequestSnapshot, actorID uuid.UUID) ApprovalContext {
	completed := 0
	for _, s := range snap.Steps {
		if s.Status != StepPending {
			completed++
		}
	}

	decision := e.CheckEligibility(snap, actorID)

	if !snap.Status.IsTerminal() && snap.Status != StatusDraft && actorID == snap.RequesterID {
		decision.Allowed = true
		decision.Reasons = nil
		decision.Actions = append(decision.Actions, AllowedAction{Type: ActionCancel, Label: "Cancel", Style: "danger"})
	}

	return ApprovalContext{
		CompletedSteps:  completed,
		RemainingSteps:  len(snap.Steps) - completed,
		IsTerminalState: snap.Status.IsTerminal(),
		Decision:        decision,
	}
}

func currentPending(snap RequestSnapshot) (StepSnapshot, bool) {
	if snap.Status != StatusPendingApproval {
		return StepSnapshot{}, false
	}
	if snap.CurrentStep < 1 || snap.CurrentStep > len(snap.Steps) {
		return StepSnapshot{}, false
	}
	step := snap.Steps[snap.CurrentStep-1]
	if step.Status != StepPending {
		return StepSnapshot{}, false
	}
	return step, true
}

func denied(code, message string) BoundaryDecision {
	return BoundaryDecision{
		Allowed: false,
		Reasons: []DenialReason{{Code: code, Message: message}},
	}
}
