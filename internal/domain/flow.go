package domain

import "github.com/shopspring/decimal"

// Approval roles assigned to flow steps, in escalation order.
const (
	RoleManager        = "MANAGER"
	RoleDepartmentHead = "DEPARTMENT_HEAD"
	RoleExecutive      = "EXECUTIVE"
)

// StepDefinition is one entry in a resolved approval flow.
type StepDefinition struct {
	Number int
	Role   string
}

// FlowResolver maps a request total onto an ordered list of approval steps.
// Resolution is a pure function of the total and the two thresholds, so it is
// testable without persistence and identical across repeated calls.
type FlowResolver struct {
	tier1 decimal.Decimal // totals below this need one approval
	tier2 decimal.Decimal // totals at or above this need three
}

// NewFlowResolver creates a resolver with the given thresholds. tier1 must be
// less than tier2; the constructor does not validate this because both come
// from configuration validated at startup.
func NewFlowResolver(tier1, tier2 decimal.Decimal) *FlowResolver {
	return &FlowResolver{tier1: tier1, tier2: tier2}
}

// Resolve returns the ordered approval steps for a request total:
// one step below tier1, two steps from tier1 up to tier2, three at tier2 and
// above.
func (r *FlowResolver) Resolve(total decimal.Decimal) []StepDefinition {
	steps := []StepDefinition{{Number: 1, Role: RoleManager}}
	if total.GreaterThanOrEqual(r.tier1) {
		steps = append(steps, StepDefinition{Number: 2, Role: RoleDepartmentHead})
	}
	if total.GreaterThanOrEqual(r.tier2) {
		steps = append(steps, StepDefinition{Number: 3, Role: RoleExecutive})
	}
	return steps
}
