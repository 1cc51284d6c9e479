// Package handler exposes the thin HTTP surface over the command pipeline.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/service"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// Identity and idempotency headers supplied by the gateway.
const (
	headerTenantID       = "X-Tenant-ID"
	headerActorID        = "X-Actor-ID"
	headerActorRoles     = "X-Actor-Roles"
	headerIdempotencyKey = "Idempotency-Key"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	service *service.RequestService
	log     zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc *service.RequestService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{service: svc, log: log}
}

// Register wires all routes onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/requests", h.CreateDraft)
	mux.HandleFunc("GET /api/v1/requests", h.ListRequests)
	mux.HandleFunc("GET /api/v1/requests/{id}", h.GetRequest)
	mux.HandleFunc("DELETE /api/v1/requests/{id}", h.DeleteDraft)
	mux.HandleFunc("POST /api/v1/requests/{id}/items", h.AddItem)
	mux.HandleFunc("DELETE /api/v1/requests/{id}/items/{productId}", h.RemoveItem)
	mux.HandleFunc("POST /api/v1/requests/{id}/submit", h.Submit)
	mux.HandleFunc("POST /api/v1/requests/{id}/approve", h.Approve)
	mux.HandleFunc("POST /api/v1/requests/{id}/reject", h.Reject)
	mux.HandleFunc("POST /api/v1/requests/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/v1/requests/{id}/return", h.ReturnForRevision)
	mux.HandleFunc("POST /api/v1/requests/{id}/resubmit", h.Resubmit)
	mux.HandleFunc("GET /api/v1/requests/{id}/context", h.ApprovalContext)
	mux.HandleFunc("GET /api/v1/requests/{id}/history", h.History)
	mux.HandleFunc("GET /api/v1/approvals/pending", h.PendingApprovals)
}

// ── Draft endpoints ──────────────────────────────────────────────────────────

type createDraftBody struct {
	RequesterName string     `json:"requester_name"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Items         []itemBody `json:"items"`
}

type itemBody struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitPrice   string    `json:"unit_price"`
	Quantity    int       `json:"quantity"`
}

// CreateDraft handles draft creation.
func (h *HTTPHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)

	var body createDraftBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	items, err := parseItems(body.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.service.CreateDraft(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.CreateDraftCommand{
		RequesterName: body.RequesterName,
		Title:         body.Title,
		Description:   body.Description,
		Items:         items,
	})
	h.writeCommandResult(w, result, err, http.StatusCreated)
}

// AddItem appends a line item to a draft.
func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var body itemBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	items, err := parseItems([]itemBody{body})
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.service.AddItem(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.AddItemCommand{
		RequestID: id,
		Item:      items[0],
	})
	h.writeCommandResult(w, result, err, http.StatusOK)
}

// RemoveItem removes a line item from a draft.
func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productId")
	if !ok {
		return
	}

	result, err := h.service.RemoveItem(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.RemoveItemCommand{
		RequestID: id,
		ProductID: productID,
	})
	h.writeCommandResult(w, result, err, http.StatusOK)
}

// DeleteDraft removes a draft.
func (h *HTTPHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.DeleteDraft(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !result.Success {
		h.writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Workflow endpoints ───────────────────────────────────────────────────────

type actionBody struct {
	Comment         string `json:"comment"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

// Submit submits a draft for approval.
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.Submit(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.SubmitCommand{RequestID: id})
	h.writeCommandResult(w, result, err, http.StatusOK)
}

// Approve acts on the current approval step.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body actionBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	result, err := h.service.Approve(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.ApproveCommand{
		RequestID:       id,
		Comment:         body.Comment,
		ExpectedVersion: body.ExpectedVersion,
	})
	h.writeCommandResult(w, result, err, http.StatusOK)
}

// Reject rejects the request at the current step.
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.service.Reject(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.RejectCommand{
		RequestID:       id,
		Reason:          body.Reason,
		ExpectedVersion: body.ExpectedVersion,
	})
	h.writeCommandResult(w, result, err, http.StatusOK)
}

// Cancel withdraws an in-flight request.
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body actionBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	result, err := h.service.Cancel(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.CancelCommand{
		RequestID:       id,
		ExpectedVersion: body.ExpectedVersion,
	})
	h.writeCommandResult(w, result, err, http.StatusOK)
}

// ReturnForRevision sends the request back to the requester.
func (h *HTTPHandler) ReturnForRevision(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.service.ReturnForRevision(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.ReturnCommand{
		RequestID:       id,
		Reason:          body.Reason,
		ExpectedVersion: body.ExpectedVersion,
	})
	h.writeCommandResult(w, result, err, http.StatusOK)
}

// Resubmit puts a returned request back through approval.
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.Resubmit(r.Context(), tctx, r.Header.Get(headerIdempotencyKey), service.ResubmitCommand{RequestID: id})
	h.writeCommandResult(w, result, err, http.StatusOK)
}

// ── Query endpoints ──────────────────────────────────────────────────────────

// GetRequest returns one request.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	resp, err := h.service.Get(r.Context(), tctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListRequests returns the tenant's requests.
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	resp, err := h.service.List(r.Context(), tctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"requests": resp, "total": len(resp)})
}

// ApprovalContext returns the boundary decision for the acting user.
func (h *HTTPHandler) ApprovalContext(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	resp, err := h.service.ApprovalContext(r.Context(), tctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// History returns the audit trail for a request.
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), tctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// PendingApprovals returns steps awaiting the acting user.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	tctx := tenantFromRequest(r)
	pending, err := h.service.PendingApprovals(r.Context(), tctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// tenantFromRequest builds the tenant context from gateway headers. A missing
// or malformed tenant id yields a context with no tenant, which every
// downstream query treats as "match nothing".
func tenantFromRequest(r *http.Request) tenant.Context {
	tctx := tenant.Context{}
	if actorID, err := uuid.Parse(r.Header.Get(headerActorID)); err == nil {
		tctx.ActorID = actorID
	}
	if tenantID, err := uuid.Parse(r.Header.Get(headerTenantID)); err == nil {
		tctx.TenantID = &tenantID
	}
	if roles := r.Header.Get(headerActorRoles); roles != "" {
		tctx.Roles = strings.Split(roles, ",")
	}
	return tctx
}

func parseItems(bodies []itemBody) ([]service.ItemInput, error) {
	items := make([]service.ItemInput, len(bodies))
	for i, b := range bodies {
		price, err := decimal.NewFromString(b.UnitPrice)
		if err != nil {
			return nil, apperrors.InvalidInput("unit_price", "unit price must be a decimal string")
		}
		items[i] = service.ItemInput{
			ProductID:   b.ProductID,
			ProductName: b.ProductName,
			UnitPrice:   price,
			Quantity:    b.Quantity,
		}
	}
	return items, nil
}

// decodeOptionalBody parses a JSON body that endpoints accept but do not
// require. An absent body is fine; a present but malformed one is a 400.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		http.Error(w, "Invalid "+name+" parameter", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *HTTPHandler) writeCommandResult(w http.ResponseWriter, result *service.CommandResult, err error, successStatus int) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := successStatus
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, result)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()
	switch apperrors.Code(err) {
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrCodeDomainRule:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	default:
		// Internal detail goes to the log, not to the caller.
		h.log.Error().Err(err).Msg("request failed")
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error_code": apperrors.Code(err), "error_message": message})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}
