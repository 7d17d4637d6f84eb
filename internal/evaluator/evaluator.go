package evaluator

import "carewatch-backend/internal/rules"

// Evaluate runs every condition of the rule against the window.
// The rule triggers only when all of its conditions trigger.
func Evaluate(rule rules.Rule, w Window) Result {
	conds := rule.Conditions()
	evidence := make([]Evidence, 0, len(conds))
	for _, cond := range conds {
		evidence = append(evidence, EvaluateCondition(cond, w.Observations[cond.MetricKey], w))
	}
	return Result{
		RuleID:    rule.ID,
		Status:    combine(evidence),
		Evidence:  evidence,
		Evaluated: w.Now,
	}
}
