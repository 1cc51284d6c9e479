package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/be-purchase-requests/internal/domain"
)

func testResolver() *domain.FlowResolver {
	return domain.NewFlowResolver(
		decimal.NewFromInt(100_000),
		decimal.NewFromInt(1_000_000),
	)
}

func TestFlowResolver_ThresholdTable(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		wantSteps int
		wantRoles []string
	}{
		{"zero", 0, 1, []string{domain.RoleManager}},
		{"below tier1", 80_000, 1, []string{domain.RoleManager}},
		{"just below tier1", 99_999, 1, []string{domain.RoleManager}},
		{"at tier1", 100_000, 2, []string{domain.RoleManager, domain.RoleDepartmentHead}},
		{"between tiers", 300_000, 2, []string{domain.RoleManager, domain.RoleDepartmentHead}},
		{"just below tier2", 999_999, 2, []string{domain.RoleManager, domain.RoleDepartmentHead}},
		{"at tier2", 1_000_000, 3, []string{domain.RoleManager, domain.RoleDepartmentHead, domain.RoleExecutive}},
		{"above tier2", 5_000_000, 3, []string{domain.RoleManager, domain.RoleDepartmentHead, domain.RoleExecutive}},
	}

	resolver := testResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := resolver.Resolve(decimal.NewFromInt(tt.total))
			require.Len(t, steps, tt.wantSteps)
			for i, step := range steps {
				assert.Equal(t, i+1, step.Number)
				assert.Equal(t, tt.wantRoles[i], step.Role)
			}
		})
	}
}

func TestFlowResolver_Deterministic(t *testing.T) {
	resolver := testResolver()
	total := decimal.NewFromInt(450_000)

	first := resolver.Resolve(total)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, resolver.Resolve(total))
	}
}
