package orchestrator

import "testing"

// TestFlavourByRuleCoversEveryTriggeringCondition guards against a rule
// being added to the Triggerer without a matching scheduler flavour,
// which would otherwise surface only as a runtime error the first time
// the Orchestrator tried to map that rule's validation onto a task.
func TestFlavourByRuleCoversEveryTriggeringCondition(t *testing.T) {
	knownRules := []string{
		"Backscatter_10m_TC", "FSC_TC", "WICS2_TC", "SWS_TC", "WICS1_TC",
		"WDS_TC", "CC_TC", "WICS1S2_TC", "GFSC_TC",
	}
	for _, rule := range knownRules {
		if _, ok := flavourByRule[rule]; !ok {
			t.Errorf("no flavour registered for rule %s", rule)
		}
	}
	if len(flavourByRule) != len(knownRules) {
		t.Errorf("flavourByRule has %d entries, expected exactly %d", len(flavourByRule), len(knownRules))
	}
}
