package admission

import (
	"testing"

	"github.com/learnloop-ai/LearnLoopServer/internal/plan"
)

func testPlan() plan.Plan {
	return plan.Plan{
		ID:            plan.Pro,
		MonthlyPoints: 1000,
		ModelRates: map[string]int64{
			"cheap":    1,
			"standard": 5,
			"premium":  10,
		},
		CanPurchase: true,
	}
}

func TestAllocationGovernedIgnoresOtherPools(t *testing.T) {
	allocated := int64(20)
	decision := CheckCanStartConversation(Input{
		Plan:                     testPlan(),
		IsOrganization:           true,
		PlanPointsRemaining:      500,
		PurchasedPointsRemaining: 300,
		AllocatedPointsRemaining: &allocated,
	})

	if decision.TotalPointsRemaining != 20 {
		t.Fatalf("expected total 20 from allocation only, got %d", decision.TotalPointsRemaining)
	}
	if !decision.Allowed {
		t.Fatalf("expected allowed with allocation remaining")
	}
}

func TestExhaustedAllocationDeniesWithNoModels(t *testing.T) {
	allocated := int64(0)
	decision := CheckCanStartConversation(Input{
		Plan:                     testPlan(),
		IsOrganization:           true,
		PlanPointsRemaining:      500,
		PurchasedPointsRemaining: 300,
		AllocatedPointsRemaining: &allocated,
	})

	if decision.Allowed {
		t.Fatalf("expected denial for exhausted allocation")
	}
	if len(decision.AvailableModels) != 0 {
		t.Fatalf("expected no available models, got %v", decision.AvailableModels)
	}
	if len(decision.OutOfCreditsActions) == 0 {
		t.Fatalf("expected remediation actions on denial")
	}
}

func TestModelFilteringByRate(t *testing.T) {
	decision := CheckCanStartConversation(Input{
		Plan:                testPlan(),
		PlanPointsRemaining: 7,
	})

	if !decision.Allowed {
		t.Fatalf("expected allowed with 7 points")
	}
	names := map[string]bool{}
	for _, m := range decision.AvailableModels {
		names[m.Name] = true
	}
	if !names["cheap"] || !names["standard"] {
		t.Fatalf("expected cheap and standard available, got %v", decision.AvailableModels)
	}
	if names["premium"] {
		t.Fatalf("premium costs more than remaining points and must be excluded")
	}
}

func TestModelsSortedCheapestFirstWithTurnCounts(t *testing.T) {
	decision := CheckCanStartConversation(Input{
		Plan:                testPlan(),
		PlanPointsRemaining: 100,
	})

	if len(decision.AvailableModels) != 3 {
		t.Fatalf("expected 3 models, got %d", len(decision.AvailableModels))
	}
	if decision.AvailableModels[0].Name != "cheap" {
		t.Fatalf("expected cheapest model first, got %s", decision.AvailableModels[0].Name)
	}
	if decision.AvailableModels[0].RemainingTurns != 100 {
		t.Fatalf("expected 100 cheap turns, got %d", decision.AvailableModels[0].RemainingTurns)
	}
	if decision.AvailableModels[2].RemainingTurns != 10 {
		t.Fatalf("expected 10 premium turns, got %d", decision.AvailableModels[2].RemainingTurns)
	}
}

func TestLowBalanceWarning(t *testing.T) {
	// Threshold is cheapest rate (1) times the default factor (3).
	warned := CheckCanStartConversation(Input{
		Plan:                testPlan(),
		PlanPointsRemaining: 2,
	})
	if !warned.LowBalanceWarning {
		t.Fatalf("expected low balance warning at 2 points")
	}
	if !warned.Allowed {
		t.Fatalf("low balance must still be allowed")
	}

	comfortable := CheckCanStartConversation(Input{
		Plan:                testPlan(),
		PlanPointsRemaining: 50,
	})
	if comfortable.LowBalanceWarning {
		t.Fatalf("did not expect warning at 50 points")
	}
}

func TestRemediationActionOrder(t *testing.T) {
	// Purchase wins when available.
	p := CheckCanStartConversation(Input{Plan: testPlan(), CanPurchaseCredits: true})
	if len(p.OutOfCreditsActions) != 1 || p.OutOfCreditsActions[0] != ActionPurchase {
		t.Fatalf("expected purchase action, got %v", p.OutOfCreditsActions)
	}

	// Allocation-governed members without purchase rights contact their admin.
	zero := int64(0)
	m := CheckCanStartConversation(Input{Plan: testPlan(), AllocatedPointsRemaining: &zero})
	if len(m.OutOfCreditsActions) != 1 || m.OutOfCreditsActions[0] != ActionContactAdmin {
		t.Fatalf("expected contact-admin action, got %v", m.OutOfCreditsActions)
	}

	// Everyone else upgrades.
	noPurchase := testPlan()
	noPurchase.CanPurchase = false
	u := CheckCanStartConversation(Input{Plan: noPurchase})
	if len(u.OutOfCreditsActions) != 1 || u.OutOfCreditsActions[0] != ActionUpgrade {
		t.Fatalf("expected upgrade action, got %v", u.OutOfCreditsActions)
	}
}

func TestDecisionNeverErrorsOnEmptyPlan(t *testing.T) {
	decision := CheckCanStartConversation(Input{})
	if decision.Allowed {
		t.Fatalf("expected denial with no points")
	}
	if decision.TotalPointsRemaining != 0 {
		t.Fatalf("expected zero total, got %d", decision.TotalPointsRemaining)
	}
}
