package plan

import "strings"

// Model identifiers offered to conversations.
const (
	// ModelSwift is the low-cost default model.
	ModelSwift = "gpt-4o-mini"
	// ModelStandard is the standard conversation model.
	ModelStandard = "gpt-4o"
	// ModelReasoning is the high-cost reasoning model.
	ModelReasoning = "o3-mini"
)

// baseRates is the consumption table shared by paid tiers.
var baseRates = map[string]int64{
	ModelSwift:     1,
	ModelStandard:  5,
	ModelReasoning: 10,
}

// Registry resolves plan identifiers to immutable plan records.
// It is populated once and read-only for the process lifetime.
type Registry struct {
	plans map[string]Plan
}

// NewRegistry builds the built-in plan table.
func NewRegistry() *Registry {
	plans := []Plan{
		{
			ID:            Free,
			Name:          "Free",
			MonthlyPoints: 30,
			ModelRates:    map[string]int64{ModelSwift: 1},
			CanPurchase:   false,
		},
		{
			ID:            Starter,
			Name:          "Starter",
			MonthlyPoints: 200,
			ModelRates:    cloneRates(baseRates),
			CanPurchase:   true,
		},
		{
			ID:            Pro,
			Name:          "Pro",
			MonthlyPoints: 1000,
			ModelRates:    cloneRates(baseRates),
			CanPurchase:   true,
		},
		{
			ID:            Max,
			Name:          "Max",
			MonthlyPoints: 3000,
			ModelRates:    cloneRates(baseRates),
			CanPurchase:   true,
		},
		{
			ID:            Business,
			Name:          "Business",
			MonthlyPoints: 5000,
			ModelRates:    cloneRates(baseRates),
			Organization:  true,
			CanPurchase:   true,
		},
		{
			ID:            Enterprise,
			Name:          "Enterprise",
			MonthlyPoints: 20000,
			ModelRates:    cloneRates(baseRates),
			Organization:  true,
			CanPurchase:   true,
		},
	}

	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}
	return &Registry{plans: byID}
}

// Lookup returns the plan for an identifier; unknown or empty identifiers
// resolve to the free plan.
func (r *Registry) Lookup(id string) Plan {
	if r == nil {
		return Plan{}
	}
	if p, ok := r.plans[strings.ToLower(strings.TrimSpace(id))]; ok {
		return p
	}
	return r.plans[Free]
}

// All returns every registered plan.
func (r *Registry) All() []Plan {
	if r == nil {
		return nil
	}
	out := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	return out
}

// cloneRates copies a rate table so plans never share mutable state.
func cloneRates(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
