// Package tenant carries the per-request identity used to scope every read
// and write. The context is always passed explicitly; nothing in the core
// reads tenant or actor identity from ambient state.
package tenant

import (
	"github.com/google/uuid"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
)

// Context is the caller identity supplied by the authentication layer.
// TenantID is nil for unauthenticated or misconfigured callers; every
// tenant-scoped query must fail closed in that case.
type Context struct {
	ActorID uuid.UUID
	// TenantID is nil when the caller carries no tenant. Repositories treat
	// nil as "match nothing", never "match everything".
	TenantID *uuid.UUID
	Roles    []string

	// crossTenant marks the privileged escape hatch used by background
	// processes. It can only be set via SystemContext.
	crossTenant bool
}

// New builds a tenant context for a regular authenticated caller.
func New(tenantID, actorID uuid.UUID, roles ...string) Context {
	return Context{ActorID: actorID, TenantID: &tenantID, Roles: roles}
}

// SystemContext builds the privileged cross-tenant context used by the outbox
// dispatcher and retention sweep. Callers must log its use at startup; it is
// never the default path for request handling.
func SystemContext() Context {
	return Context{crossTenant: true}
}

// CrossTenant reports whether tenant filtering is explicitly bypassed.
func (c Context) CrossTenant() bool { return c.crossTenant }

// RequireTenant returns the tenant id, or an UNAUTHORIZED error when the
// context carries none. This is the fail-closed gate: a missing tenant id
// yields zero rows, not all rows.
func (c Context) RequireTenant() (uuid.UUID, error) {
	if c.TenantID == nil {
		return uuid.Nil, apperrors.New(apperrors.ErrCodeUnauthorized, "request context carries no tenant id")
	}
	return *c.TenantID, nil
}

// RequireCrossTenant returns an UNAUTHORIZED error unless the context is the
// privileged system context. Repository methods that read across tenants
// (outbox dequeue, idempotency sweep) gate on this, so a request-scoped
// context can never reach them.
func (c Context) RequireCrossTenant() error {
	if !c.crossTenant {
		return apperrors.New(apperrors.ErrCodeUnauthorized, "operation requires the cross-tenant system context")
	}
	return nil
}

// HasRole reports whether the actor holds the given role.
func (c Context) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
