package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/client"
	"github.com/procurio/be-purchase-requests/internal/domain"
	"github.com/procurio/be-purchase-requests/internal/repository"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// memStore is an in-memory repository.Store with the same transactional
// semantics as the Postgres one: Atomic stages every write and publishes the
// staged state only when the closure succeeds. Fault-injection fields let
// tests fail individual writes mid-transaction.
type memStore struct {
	mu    sync.Mutex
	state *memState

	failSave   error
	failOutbox error
	// beforeRecord runs once, just before the next idempotency record insert,
	// letting tests race a concurrent duplicate into the store.
	beforeRecord func(repos repository.Repositories)
}

type memState struct {
	requests map[uuid.UUID]*domain.PurchaseRequest
	outbox   []*repository.OutboxMessage
	idem     map[idemKey]*repository.IdempotencyRecord
	audit    []*repository.AuditEntry
}

type idemKey struct {
	tenantID uuid.UUID
	key      string
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		requests: make(map[uuid.UUID]*domain.PurchaseRequest),
		idem:     make(map[idemKey]*repository.IdempotencyRecord),
	}}
}

func (st *memState) clone() *memState {
	next := &memState{
		requests: make(map[uuid.UUID]*domain.PurchaseRequest, len(st.requests)),
		outbox:   append([]*repository.OutboxMessage(nil), st.outbox...),
		idem:     make(map[idemKey]*repository.IdempotencyRecord, len(st.idem)),
		audit:    append([]*repository.AuditEntry(nil), st.audit...),
	}
	for id, pr := range st.requests {
		next.requests[id] = clonePR(pr)
	}
	for k, rec := range st.idem {
		next.idem[k] = rec
	}
	return next
}

// clonePR isolates stored aggregates from caller mutation. Raised events are
// drained from the copy: they belong to the unit of work, not the store.
func clonePR(pr *domain.PurchaseRequest) *domain.PurchaseRequest {
	c := *pr
	c.Items = append([]domain.Item(nil), pr.Items...)
	c.Steps = append([]domain.ApprovalStep(nil), pr.Steps...)
	c.PopEvents()
	return &c
}

// memRepos binds every repository to one state snapshot, mirroring how the
// Postgres repoSet binds to one Querier.
type memRepos struct {
	store *memStore
	state *memState
}

func (r memRepos) Requests() repository.RequestRepository   { return memRequests(r) }
func (r memRepos) Outbox() repository.OutboxRepository      { return memOutbox(r) }
func (r memRepos) Idempotency() repository.IdempotencyStore { return memIdem(r) }
func (r memRepos) Audit() repository.AuditRepository        { return memAudit(r) }

func (s *memStore) Requests() repository.RequestRepository   { return memRequests{s, s.state} }
func (s *memStore) Outbox() repository.OutboxRepository      { return memOutbox{s, s.state} }
func (s *memStore) Idempotency() repository.IdempotencyStore { return memIdem{s, s.state} }
func (s *memStore) Audit() repository.AuditRepository        { return memAudit{s, s.state} }

func (s *memStore) Atomic(ctx context.Context, fn func(repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.state.clone()
	if err := fn(memRepos{store: s, state: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *memStore) outboxRows() []*repository.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*repository.OutboxMessage(nil), s.state.outbox...)
}

func (s *memStore) auditRows() []*repository.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*repository.AuditEntry(nil), s.state.audit...)
}

func (s *memStore) storedRequest(id uuid.UUID) *domain.PurchaseRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.state.requests[id]
	if !ok {
		return nil
	}
	return clonePR(pr)
}

// ── RequestRepository ────────────────────────────────────────────────────────

type memRequests struct {
	store *memStore
	state *memState
}

func (r memRequests) Create(ctx context.Context, tctx tenant.Context, pr *domain.PurchaseRequest) error {
	if r.store.failSave != nil {
		return r.store.failSave
	}
	if _, err := tctx.RequireTenant(); err != nil {
		return err
	}
	r.state.requests[pr.ID] = clonePR(pr)
	return nil
}

func (r memRequests) Get(ctx context.Context, tctx tenant.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}
	pr, ok := r.state.requests[id]
	if !ok || pr.TenantID != tenantID {
		return nil, apperrors.NotFound("purchase request", id.String())
	}
	return clonePR(pr), nil
}

func (r memRequests) Save(ctx context.Context, tctx tenant.Context, pr *domain.PurchaseRequest) error {
	if r.store.failSave != nil {
		return r.store.failSave
	}
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return err
	}
	stored, ok := r.state.requests[pr.ID]
	if !ok || stored.TenantID != tenantID || stored.Version != pr.BaseVersion() {
		return apperrors.Conflict("purchase request was modified concurrently")
	}
	r.state.requests[pr.ID] = clonePR(pr)
	return nil
}

func (r memRequests) List(ctx context.Context, tctx tenant.Context) ([]*domain.PurchaseRequest, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}
	var out []*domain.PurchaseRequest
	for _, pr := range r.state.requests {
		if pr.TenantID == tenantID {
			out = append(out, clonePR(pr))
		}
	}
	return out, nil
}

func (r memRequests) PendingForApprover(ctx context.Context, tctx tenant.Context) ([]*repository.PendingApproval, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}
	var out []*repository.PendingApproval
	for _, pr := range r.state.requests {
		if pr.TenantID != tenantID || pr.Status != domain.StatusPendingApproval {
			continue
		}
		if pr.CurrentStep < 1 || pr.CurrentStep > len(pr.Steps) {
			continue
		}
		step := pr.Steps[pr.CurrentStep-1]
		if step.ApproverID != tctx.ActorID {
			continue
		}
		out = append(out, &repository.PendingApproval{
			RequestID:     pr.ID,
			Title:         pr.Title,
			RequesterName: pr.RequesterName,
			TotalAmount:   pr.TotalAmount().String(),
			StepNumber:    step.Number,
			Role:          step.Role,
			SubmittedAt:   *pr.SubmittedAt,
		})
	}
	return out, nil
}

func (r memRequests) DeleteDraft(ctx context.Context, tctx tenant.Context, id uuid.UUID) error {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return err
	}
	pr, ok := r.state.requests[id]
	if !ok || pr.TenantID != tenantID || pr.RequesterID != tctx.ActorID || pr.Status != domain.StatusDraft {
		return apperrors.NotFound("draft", id.String())
	}
	delete(r.state.requests, id)
	return nil
}

// ── OutboxRepository ─────────────────────────────────────────────────────────

type memOutbox struct {
	store *memStore
	state *memState
}

func (r memOutbox) Append(ctx context.Context, events ...domain.Event) error {
	if r.store.failOutbox != nil {
		return r.store.failOutbox
	}
	for _, e := range events {
		r.state.outbox = append(r.state.outbox, &repository.OutboxMessage{
			ID:         uuid.New(),
			RequestID:  e.RequestID,
			TenantID:   e.TenantID,
			EventType:  string(e.Type),
			Payload:    e.Payload,
			OccurredAt: e.OccurredAt,
		})
	}
	return nil
}

func (r memOutbox) Dequeue(ctx context.Context, tctx tenant.Context, limit int) ([]*repository.OutboxMessage, error) {
	if err := tctx.RequireCrossTenant(); err != nil {
		return nil, err
	}
	var out []*repository.OutboxMessage
	for _, msg := range r.state.outbox {
		if msg.ProcessedAt != nil {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memOutbox) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	for _, msg := range r.state.outbox {
		if msg.ID == id {
			now := time.Now().UTC()
			msg.ProcessedAt = &now
			return nil
		}
	}
	return apperrors.NotFound("outbox message", id.String())
}

func (r memOutbox) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	for _, msg := range r.state.outbox {
		if msg.ID == id {
			msg.RetryCount++
			msg.LastError = &errText
			return nil
		}
	}
	return apperrors.NotFound("outbox message", id.String())
}

// ── IdempotencyStore ─────────────────────────────────────────────────────────

type memIdem struct {
	store *memStore
	state *memState
}

func (r memIdem) Get(ctx context.Context, tctx tenant.Context, key string) (*repository.IdempotencyRecord, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}
	return r.state.idem[idemKey{tenantID: tenantID, key: key}], nil
}

func (r memIdem) Record(ctx context.Context, tctx tenant.Context, rec *repository.IdempotencyRecord) (bool, error) {
	if hook := r.store.beforeRecord; hook != nil {
		r.store.beforeRecord = nil
		hook(memRepos{store: r.store, state: r.state})
	}
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return false, err
	}
	k := idemKey{tenantID: tenantID, key: rec.RequestKey}
	if _, exists := r.state.idem[k]; exists {
		return false, nil
	}
	stored := *rec
	stored.TenantID = tenantID
	r.state.idem[k] = &stored
	return true, nil
}

func (r memIdem) DeleteExpired(ctx context.Context, tctx tenant.Context, cutoff time.Time) (int64, error) {
	if err := tctx.RequireCrossTenant(); err != nil {
		return 0, err
	}
	var removed int64
	for k, rec := range r.state.idem {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.state.idem, k)
			removed++
		}
	}
	return removed, nil
}

// ── AuditRepository ──────────────────────────────────────────────────────────

type memAudit struct {
	store *memStore
	state *memState
}

func (r memAudit) Append(ctx context.Context, tctx tenant.Context, entry *repository.AuditEntry) error {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return err
	}
	stored := *entry
	stored.ID = uuid.New()
	stored.TenantID = tenantID
	r.state.audit = append(r.state.audit, &stored)
	return nil
}

func (r memAudit) History(ctx context.Context, tctx tenant.Context, requestID uuid.UUID) ([]*repository.AuditEntry, error) {
	tenantID, err := tctx.RequireTenant()
	if err != nil {
		return nil, err
	}
	var out []*repository.AuditEntry
	for _, e := range r.state.audit {
		if e.TenantID == tenantID && e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── Identity stub ────────────────────────────────────────────────────────────

type stubIdentity struct {
	usersByRole map[string][]client.DirectoryUser
	err         error
}

func (s *stubIdentity) GetUsersWithRole(ctx context.Context, tenantID uuid.UUID, role string) ([]client.DirectoryUser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.usersByRole[role], nil
}
