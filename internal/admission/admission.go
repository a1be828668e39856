package admission

import (
	"sort"

	"github.com/learnloop-ai/LearnLoopServer/internal/metrics"
	"github.com/learnloop-ai/LearnLoopServer/internal/plan"
)

// Remediation actions surfaced when an account runs out of credits.
const (
	// ActionPurchase suggests buying extra credits.
	ActionPurchase = "purchase"
	// ActionContactAdmin suggests asking an organization admin for a larger allocation.
	ActionContactAdmin = "contact-admin"
	// ActionUpgrade suggests moving to a higher plan.
	ActionUpgrade = "upgrade"
)

// DefaultLowBalanceFactor triggers the low-balance warning when fewer than
// this many turns of the cheapest model remain.
const DefaultLowBalanceFactor = 3

// Input is the explicit admission context. AllocatedPointsRemaining is set
// only for allocation-governed members; absence, not a sentinel, signals the
// plan+purchased path.
type Input struct {
	Plan                     plan.Plan // Effective plan.
	IsOrganization           bool      // Whether the pool is organization-owned.
	PlanPointsRemaining      int64     // Unused monthly grant.
	PurchasedPointsRemaining int64     // Unused purchased points.
	AllocatedPointsRemaining *int64    // Allocation remainder, when allocation-governed.
	CanPurchaseCredits       bool      // Whether the account may buy credits.
	LowBalanceFactor         int64     // Warning threshold in cheapest-model turns; 0 uses the default.
}

// ModelOption describes one model available for the next turn.
type ModelOption struct {
	Name           string `json:"name"`            // Model identifier.
	PointsPerTurn  int64  `json:"points_per_turn"` // Consumption rate.
	RemainingTurns int64  `json:"remaining_turns"` // Whole turns affordable at this rate.
}

// Decision is the admission outcome. It is always a normal value; denial is
// not an error.
type Decision struct {
	Allowed              bool          `json:"allowed"`
	TotalPointsRemaining int64         `json:"total_points_remaining"`
	AvailableModels      []ModelOption `json:"available_models"`
	LowBalanceWarning    bool          `json:"low_balance_warning"`
	OutOfCreditsActions  []string      `json:"out_of_credits_actions,omitempty"`
}

// CheckCanStartConversation decides whether a new conversation turn is
// allowed and which models remain affordable. Allocation-governed members
// draw only from their allocation; plan and purchased pools are not
// additionally available to them.
func CheckCanStartConversation(in Input) Decision {
	total := in.PlanPointsRemaining + in.PurchasedPointsRemaining
	if in.AllocatedPointsRemaining != nil {
		total = *in.AllocatedPointsRemaining
	}

	decision := Decision{
		Allowed:              total > 0,
		TotalPointsRemaining: total,
	}

	for name, rate := range in.Plan.ModelRates {
		if rate <= 0 || rate > total {
			continue
		}
		decision.AvailableModels = append(decision.AvailableModels, ModelOption{
			Name:           name,
			PointsPerTurn:  rate,
			RemainingTurns: total / rate,
		})
	}
	sort.Slice(decision.AvailableModels, func(i, j int) bool {
		a, b := decision.AvailableModels[i], decision.AvailableModels[j]
		if a.PointsPerTurn != b.PointsPerTurn {
			return a.PointsPerTurn < b.PointsPerTurn
		}
		return a.Name < b.Name
	})

	factor := in.LowBalanceFactor
	if factor <= 0 {
		factor = DefaultLowBalanceFactor
	}
	if cheapest := in.Plan.CheapestRate(); cheapest > 0 && total < cheapest*factor {
		decision.LowBalanceWarning = true
	}

	if !decision.Allowed || decision.LowBalanceWarning {
		decision.OutOfCreditsActions = remediationActions(in)
	}

	result := "allowed"
	if !decision.Allowed {
		result = "denied"
	}
	metrics.Get().AdmissionTotal.WithLabelValues(result).Inc()

	return decision
}

// remediationActions lists the ways an account can regain capacity.
func remediationActions(in Input) []string {
	if in.CanPurchaseCredits {
		return []string{ActionPurchase}
	}
	if in.AllocatedPointsRemaining != nil {
		return []string{ActionContactAdmin}
	}
	return []string{ActionUpgrade}
}
