package plan

import "strings"

// Plan identifiers.
const (
	// Free is the default individual tier.
	Free = "free"
	// Starter is the entry paid individual tier.
	Starter = "starter"
	// Pro is the standard paid individual tier.
	Pro = "pro"
	// Max is the top individual tier.
	Max = "max"
	// Business is the entry organization tier.
	Business = "business"
	// Enterprise is the top organization tier.
	Enterprise = "enterprise"
)

// Plan is an immutable plan configuration record.
type Plan struct {
	ID            string           // Plan identifier.
	Name          string           // Display name.
	MonthlyPoints int64            // Monthly point grant.
	ModelRates    map[string]int64 // Points consumed per turn, by model.
	Organization  bool             // Whether the plan is organization-scoped.
	CanPurchase   bool             // Whether extra credits can be purchased on this plan.
}

// Rate returns the per-turn point cost for a model, or 0 when the model is
// not offered on this plan.
func (p Plan) Rate(model string) int64 {
	return p.ModelRates[strings.TrimSpace(model)]
}

// Models returns the model names offered on this plan.
func (p Plan) Models() []string {
	out := make([]string, 0, len(p.ModelRates))
	for name := range p.ModelRates {
		out = append(out, name)
	}
	return out
}

// CheapestRate returns the lowest per-turn cost across the plan's models,
// or 0 when the plan offers no models.
func (p Plan) CheapestRate() int64 {
	var cheapest int64
	for _, rate := range p.ModelRates {
		if rate <= 0 {
			continue
		}
		if cheapest == 0 || rate < cheapest {
			cheapest = rate
		}
	}
	return cheapest
}
