package tenant_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

func TestRequireTenant(t *testing.T) {
	tenantID := uuid.New()
	actorID := uuid.New()

	got, err := tenant.New(tenantID, actorID).RequireTenant()
	require.NoError(t, err)
	assert.Equal(t, tenantID, got)

	// Zero-value and system contexts carry no tenant and must fail closed.
	_, err = (tenant.Context{ActorID: actorID}).RequireTenant()
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))

	_, err = tenant.SystemContext().RequireTenant()
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))
}

func TestCrossTenant_OnlyViaSystemContext(t *testing.T) {
	assert.True(t, tenant.SystemContext().CrossTenant())
	assert.False(t, tenant.New(uuid.New(), uuid.New()).CrossTenant())
	assert.False(t, (tenant.Context{}).CrossTenant())
}

func TestRequireCrossTenant(t *testing.T) {
	assert.NoError(t, tenant.SystemContext().RequireCrossTenant())

	err := tenant.New(uuid.New(), uuid.New()).RequireCrossTenant()
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))

	err = (tenant.Context{}).RequireCrossTenant()
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))
}

func TestHasRole(t *testing.T) {
	tctx := tenant.New(uuid.New(), uuid.New(), "MANAGER", "EMPLOYEE")
	assert.True(t, tctx.HasRole("MANAGER"))
	assert.False(t, tctx.HasRole("EXECUTIVE"))
}
