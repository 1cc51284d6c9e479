package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/client"
	"github.com/procurio/be-purchase-requests/internal/domain"
	"github.com/procurio/be-purchase-requests/internal/repository"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// errDuplicateKey aborts a transaction when a concurrent command with the
// same idempotency key recorded its outcome first.
var errDuplicateKey = errors.New("idempotency key recorded concurrently")

// RequestService owns the purchase request command pipeline and queries.
type RequestService struct {
	store    repository.Store
	identity client.IdentityClient
	flow     *domain.FlowResolver
	engine   *domain.BoundaryEngine
	workflow domain.Configuration
	ceiling  decimal.Decimal
	log      zerolog.Logger
}

// NewRequestService wires the service.
func NewRequestService(
	store repository.Store,
	identity client.IdentityClient,
	flow *domain.FlowResolver,
	workflow domain.Configuration,
	ceiling decimal.Decimal,
	log zerolog.Logger,
) *RequestService {
	return &RequestService{
		store:    store,
		identity: identity,
		flow:     flow,
		engine:   domain.NewBoundaryEngine(workflow),
		workflow: workflow,
		ceiling:  ceiling,
		log:      log,
	}
}

// ── Commands ─────────────────────────────────────────────────────────────────

// CreateDraft creates a new draft request for the acting user.
func (s *RequestService) CreateDraft(ctx context.Context, tctx tenant.Context, key string, cmd CreateDraftCommand) (*CommandResult, error) {
	return s.execute(ctx, tctx, key, "create_draft", func(repos repository.Repositories) (*mutationOutcome, error) {
		tenantID, err := tctx.RequireTenant()
		if err != nil {
			return nil, err
		}
		pr, err := domain.NewPurchaseRequest(tenantID, tctx.ActorID, cmd.RequesterName, cmd.Title, cmd.Description, s.workflow, s.ceiling)
		if err != nil {
			return nil, err
		}
		for _, item := range cmd.Items {
			if err := pr.AddItem(item.ProductID, item.ProductName, item.UnitPrice, item.Quantity); err != nil {
				return nil, err
			}
		}
		if err := repos.Requests().Create(ctx, tctx, pr); err != nil {
			return nil, err
		}
		return &mutationOutcome{pr: pr, auditAction: "created", statusBefore: domain.StatusDraft}, nil
	})
}

// AddItem appends a line item to a draft.
func (s *RequestService) AddItem(ctx context.Context, tctx tenant.Context, key string, cmd AddItemCommand) (*CommandResult, error) {
	return s.mutate(ctx, tctx, key, "add_item", cmd.RequestID, 0, "item_added", func(pr *domain.PurchaseRequest) error {
		return pr.AddItem(cmd.Item.ProductID, cmd.Item.ProductName, cmd.Item.UnitPrice, cmd.Item.Quantity)
	})
}

// RemoveItem removes a line item from a draft.
func (s *RequestService) RemoveItem(ctx context.Context, tctx tenant.Context, key string, cmd RemoveItemCommand) (*CommandResult, error) {
	return s.mutate(ctx, tctx, key, "remove_item", cmd.RequestID, 0, "item_removed", func(pr *domain.PurchaseRequest) error {
		return pr.RemoveItem(cmd.ProductID)
	})
}

// Submit resolves the approval flow for the draft's total, assigns approvers
// and moves the request into the approval chain.
func (s *RequestService) Submit(ctx context.Context, tctx tenant.Context, key string, cmd SubmitCommand) (*CommandResult, error) {
	return s.mutate(ctx, tctx, key, "submit", cmd.RequestID, 0, "submitted", func(pr *domain.PurchaseRequest) error {
		if tctx.ActorID != pr.RequesterID {
			return apperrors.DomainRule("only the requester can submit the request")
		}
		steps, err := s.resolveApprovers(ctx, tctx, pr)
		if err != nil {
			return err
		}
		return pr.Submit(steps)
	})
}

// Approve acts on the current approval step. The boundary engine is consulted
// before the aggregate so ineligible actors get a structured denial instead
// of a raw domain error.
func (s *RequestService) Approve(ctx context.Context, tctx tenant.Context, key string, cmd ApproveCommand) (*CommandResult, error) {
	return s.mutate(ctx, tctx, key, "approve", cmd.RequestID, cmd.ExpectedVersion, "approved", func(pr *domain.PurchaseRequest) error {
		if err := s.checkEligibility(pr, tctx.ActorID); err != nil {
			return err
		}
		return pr.Approve(tctx.ActorID, cmd.Comment)
	})
}

// Reject rejects the request at the current step.
func (s *RequestService) Reject(ctx context.Context, tctx tenant.Context, key string, cmd RejectCommand) (*CommandResult, error) {
	return s.mutate(ctx, tctx, key, "reject", cmd.RequestID, cmd.ExpectedVersion, "rejected", func(pr *domain.PurchaseRequest) error {
		if err := s.checkEligibility(pr, tctx.ActorID); err != nil {
			return err
		}
		return pr.Reject(tctx.ActorID, cmd.Reason)
	})
}

// Cancel withdraws an in-flight request. The boundary cancel rule (requester
// only, non-draft, non-terminal) is evaluated via GetContext, independent of
// approval eligibility.
func (s *RequestService) Cancel(ctx context.Context, tctx tenant.Context, key string, cmd CancelCommand) (*CommandResult, error) {
	return s.mutate(ctx, tctx, key, "cancel", cmd.RequestID, cmd.ExpectedVersion, "cancelled", func(pr *domain.PurchaseRequest) error {
		approvalCtx := s.engine.GetContext(pr.Snapshot(), tctx.ActorID)
		if !allowsAction(approvalCtx.Decision, domain.ActionCancel) {
			return denialError(approvalCtx.Decision)
		}
		return pr.Cancel(tctx.ActorID)
	})
}

// ReturnForRevision sends the request back to its requester.
func (s *RequestService) ReturnForRevision(ctx context.Context, tctx tenant.Context, key string, cmd ReturnCommand) (*CommandResult, error) {
	return s.mutate(ctx, tctx, key, "return", cmd.RequestID, cmd.ExpectedVersion, "returned", func(pr *domain.PurchaseRequest) error {
		if err := s.checkEligibility(pr, tctx.ActorID); err != nil {
			return err
		}
		return pr.ReturnForRevision(tctx.ActorID, cmd.Reason)
	})
}

// Resubmit puts a returned request back through the approval chain with a
// freshly resolved flow.
func (s *RequestService) Resubmit(ctx context.Context, tctx tenant.Context, key string, cmd ResubmitCommand) (*CommandResult, error) {
	return s.mutate(ctx, tctx, key, "resubmit", cmd.RequestID, 0, "resubmitted", func(pr *domain.PurchaseRequest) error {
		steps, err := s.resolveApprovers(ctx, tctx, pr)
		if err != nil {
			return err
		}
		return pr.Resubmit(tctx.ActorID, steps)
	})
}

// DeleteDraft removes a draft owned by the actor. Drafts are the only
// requests ever physically deleted; the delete runs through the same guarded
// pipeline as every other command so a retried delete replays its recorded
// success instead of a NOT_FOUND.
func (s *RequestService) DeleteDraft(ctx context.Context, tctx tenant.Context, key string, id uuid.UUID) (*CommandResult, error) {
	return s.execute(ctx, tctx, key, "delete_draft", func(repos repository.Repositories) (*mutationOutcome, error) {
		pr, err := s.load(ctx, tctx, repos, id)
		if err != nil {
			return nil, err
		}
		if err := repos.Requests().DeleteDraft(ctx, tctx, id); err != nil {
			return nil, err
		}
		return &mutationOutcome{pr: pr, auditAction: "draft_deleted", statusBefore: pr.Status}, nil
	})
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Get returns a single request within the caller's tenant.
func (s *RequestService) Get(ctx context.Context, tctx tenant.Context, id uuid.UUID) (*RequestResponse, error) {
	pr, err := s.load(ctx, tctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return newRequestResponse(pr), nil
}

// List returns all requests within the caller's tenant.
func (s *RequestService) List(ctx context.Context, tctx tenant.Context) ([]*RequestResponse, error) {
	prs, err := s.store.Requests().List(ctx, tctx)
	if err != nil {
		return nil, err
	}
	out := make([]*RequestResponse, len(prs))
	for i, pr := range prs {
		out[i] = newRequestResponse(pr)
	}
	return out, nil
}

// PendingApprovals returns the steps currently awaiting the acting user.
func (s *RequestService) PendingApprovals(ctx context.Context, tctx tenant.Context) ([]*repository.PendingApproval, error) {
	return s.store.Requests().PendingForApprover(ctx, tctx)
}

// History returns the audit trail for a request.
func (s *RequestService) History(ctx context.Context, tctx tenant.Context, requestID uuid.UUID) ([]*repository.AuditEntry, error) {
	return s.store.Audit().History(ctx, tctx, requestID)
}

// ApprovalContext evaluates the boundary engine for the acting user against
// the live aggregate.
func (s *RequestService) ApprovalContext(ctx context.Context, tctx tenant.Context, requestID uuid.UUID) (*domain.ApprovalContext, error) {
	pr, err := s.load(ctx, tctx, s.store, requestID)
	if err != nil {
		return nil, err
	}
	approvalCtx := s.engine.GetContext(pr.Snapshot(), tctx.ActorID)
	return &approvalCtx, nil
}

// EvaluateSnapshot runs the identical boundary algorithm against an
// externally supplied read projection.
func (s *RequestService) EvaluateSnapshot(snap domain.RequestSnapshot, actorID uuid.UUID) domain.ApprovalContext {
	return s.engine.GetContext(snap, actorID)
}

// ── Pipeline internals ───────────────────────────────────────────────────────

// mutate runs the standard load-check-mutate-save pipeline for an existing
// aggregate inside the idempotency guard.
func (s *RequestService) mutate(
	ctx context.Context,
	tctx tenant.Context,
	key, commandType string,
	requestID uuid.UUID,
	expectedVersion int64,
	auditAction string,
	op func(pr *domain.PurchaseRequest) error,
) (*CommandResult, error) {
	return s.execute(ctx, tctx, key, commandType, func(repos repository.Repositories) (*mutationOutcome, error) {
		pr, err := s.load(ctx, tctx, repos, requestID)
		if err != nil {
			return nil, err
		}
		if expectedVersion != 0 && pr.Version != expectedVersion {
			return nil, apperrors.Conflict(fmt.Sprintf(
				"expected version %d but current version is %d", expectedVersion, pr.Version))
		}
		statusBefore := pr.Status
		if err := op(pr); err != nil {
			return nil, err
		}
		if err := repos.Requests().Save(ctx, tctx, pr); err != nil {
			return nil, err
		}
		return &mutationOutcome{pr: pr, auditAction: auditAction, statusBefore: statusBefore}, nil
	})
}

// mutationOutcome carries the mutated aggregate and audit context out of the
// transactional closure.
type mutationOutcome struct {
	pr           *domain.PurchaseRequest
	auditAction  string
	statusBefore domain.Status
}

// execute is the command pipeline shared by every state-changing operation:
// tenant gate, idempotency guard, atomic mutation + outbox append + guard
// record, then best-effort audit.
func (s *RequestService) execute(
	ctx context.Context,
	tctx tenant.Context,
	key, commandType string,
	op func(repos repository.Repositories) (*mutationOutcome, error),
) (*CommandResult, error) {
	if _, err := tctx.RequireTenant(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, apperrors.InvalidInput("idempotency_key", "idempotency key is required")
	}

	// The guard runs before authorization and validation: a retried command
	// short-circuits before any side effect, including duplicate outbox rows.
	if rec, err := s.store.Idempotency().Get(ctx, tctx, key); err != nil {
		return nil, err
	} else if rec != nil {
		return replay(rec)
	}

	var (
		result  *CommandResult
		outcome *mutationOutcome
	)
	err := s.store.Atomic(ctx, func(repos repository.Repositories) error {
		out, err := op(repos)
		if err != nil {
			return err
		}
		outcome = out

		if events := out.pr.PopEvents(); len(events) > 0 {
			if err := repos.Outbox().Append(ctx, events...); err != nil {
				return err
			}
		}

		result = successResult(newRequestResponse(out.pr))
		return s.record(ctx, tctx, repos, key, commandType, result)
	})
	if err != nil {
		return s.handleCommandError(ctx, tctx, key, commandType, err)
	}

	s.appendAudit(ctx, tctx, outcome.pr, outcome.auditAction, outcome.statusBefore)
	return result, nil
}

// handleCommandError converts business rejections into recorded failure
// results. Conflicts and infrastructure failures propagate unrecorded so a
// retry re-executes.
func (s *RequestService) handleCommandError(ctx context.Context, tctx tenant.Context, key, commandType string, err error) (*CommandResult, error) {
	if errors.Is(err, errDuplicateKey) {
		rec, getErr := s.store.Idempotency().Get(ctx, tctx, key)
		if getErr != nil || rec == nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to replay concurrent duplicate")
		}
		return replay(rec)
	}

	code := apperrors.Code(err)
	if code == apperrors.ErrCodeValidation || code == apperrors.ErrCodeDomainRule {
		result := &CommandResult{Success: false, ErrorCode: code, ErrorMessage: err.Error()}
		if recErr := s.recordFailure(ctx, tctx, key, commandType, result); recErr != nil {
			s.log.Warn().Err(recErr).Str("key", key).Msg("failed to record rejected command outcome")
		}
		s.log.Info().
			Str("command", commandType).
			Str("code", code).
			Str("reason", result.ErrorMessage).
			Msg("command rejected")
		return result, nil
	}
	return nil, err
}

// record stores the outcome inside the current transaction so the state
// change and its idempotency record commit together.
func (s *RequestService) record(ctx context.Context, tctx tenant.Context, repos repository.Repositories, key, commandType string, result *CommandResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode command result")
	}
	created, err := repos.Idempotency().Record(ctx, tctx, &repository.IdempotencyRecord{
		RequestKey:  key,
		CommandType: commandType,
		Result:      data,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !created {
		return errDuplicateKey
	}
	return nil
}

// recordFailure stores a validated rejection outside the rolled-back
// transaction so retries replay the same rejection.
func (s *RequestService) recordFailure(ctx context.Context, tctx tenant.Context, key, commandType string, result *CommandResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.store.Idempotency().Record(ctx, tctx, &repository.IdempotencyRecord{
		RequestKey:  key,
		CommandType: commandType,
		Result:      data,
		CreatedAt:   time.Now().UTC(),
	})
	return err
}

func (s *RequestService) load(ctx context.Context, tctx tenant.Context, repos repository.Repositories, id uuid.UUID) (*domain.PurchaseRequest, error) {
	pr, err := repos.Requests().Get(ctx, tctx, id)
	if err != nil {
		return nil, err
	}
	return domain.Rehydrate(pr, s.workflow, s.ceiling), nil
}

// resolveApprovers maps the resolved flow onto concrete approvers via the
// identity service, preferring a user other than the requester for each step.
func (s *RequestService) resolveApprovers(ctx context.Context, tctx tenant.Context, pr *domain.PurchaseRequest) ([]domain.ApprovalStep, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}

	defs := s.flow.Resolve(pr.TotalAmount())
	steps := make([]domain.ApprovalStep, 0, len(defs))
	for _, def := range defs {
		users, err := s.identity.GetUsersWithRole(ctx, tenantID, def.Role)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve approvers")
		}
		approver, ok := pickApprover(users, pr.RequesterID)
		if !ok {
			return nil, apperrors.DomainRule(fmt.Sprintf("no approver available for role %s", def.Role))
		}
		steps = append(steps, domain.ApprovalStep{
			Number:       def.Number,
			ApproverID:   approver.ID,
			ApproverName: approver.Name,
			Role:         def.Role,
			Status:       domain.StepPending,
		})
	}
	return steps, nil
}

func pickApprover(users []client.DirectoryUser, requesterID uuid.UUID) (client.DirectoryUser, bool) {
	for _, u := range users {
		if u.ID != requesterID {
			return u, true
		}
	}
	if len(users) > 0 {
		return users[0], true
	}
	return client.DirectoryUser{}, false
}

func (s *RequestService) checkEligibility(pr *domain.PurchaseRequest, actorID uuid.UUID) error {
	decision := s.engine.CheckEligibility(pr.Snapshot(), actorID)
	if !decision.Allowed {
		return denialError(decision)
	}
	return nil
}

// appendAudit writes the audit entry best-effort after commit; audit failures
// are logged and never fail the command.
func (s *RequestService) appendAudit(ctx context.Context, tctx tenant.Context, pr *domain.PurchaseRequest, action string, statusBefore domain.Status) {
	if pr == nil || action == "" {
		return
	}
	err := s.store.Audit().Append(ctx, tctx, &repository.AuditEntry{
		RequestID:    pr.ID,
		Action:       action,
		PerformedBy:  tctx.ActorID,
		PerformedAt:  time.Now().UTC(),
		StatusBefore: string(statusBefore),
		StatusAfter:  string(pr.Status),
		Metadata: map[string]any{
			"version":      pr.Version,
			"current_step": pr.CurrentStep,
		},
	})
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", pr.ID.String()).Msg("failed to append audit entry")
	}
}

func successResult(value any) *CommandResult {
	data, err := json.Marshal(value)
	if err != nil {
		// RequestResponse contains only marshalable fields.
		panic(err)
	}
	return &CommandResult{Success: true, Value: data}
}

func replay(rec *repository.IdempotencyRecord) (*CommandResult, error) {
	var result CommandResult
	if err := json.Unmarshal(rec.Result, &result); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode recorded command result")
	}
	return &result, nil
}

func allowsAction(decision domain.BoundaryDecision, action domain.ActionType) bool {
	for _, a := range decision.Actions {
		if a.Type == action {
			return true
		}
	}
	return false
}

func denialError(decision domain.BoundaryDecision) error {
	if len(decision.Reasons) > 0 {
		r := decision.Reasons[0]
		return apperrors.DomainRule(fmt.Sprintf("%s: %s", r.Code, r.Message))
	}
	return apperrors.DomainRule("action is not allowed for this actor")
}
