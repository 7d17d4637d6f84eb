package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const maxConsecutiveDays = 31

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint"`
}

// ValidationError is returned for rules that must not be evaluated.
type ValidationError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Problem)
	}
	if len(parts) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

// Compile validates a definition against the registry and returns the evaluable rule.
func Compile(def Definition, reg *Registry) (Rule, *ValidationError) {
	var details []ErrorDetail
	if strings.TrimSpace(def.ID) == "" {
		details = append(details, ErrorDetail{Field: "id", Problem: "missing", Hint: "Provide a stable rule id"})
	}

	primary, condDetails := compileCondition(def.ConditionDefinition, reg, "")
	details = append(details, condDetails...)

	additional := make([]Condition, 0, len(def.AdditionalConditions))
	for i, extra := range def.AdditionalConditions {
		cond, extraDetails := compileCondition(extra, reg, fmt.Sprintf("additionalConditions[%d].", i))
		details = append(details, extraDetails...)
		additional = append(additional, cond)
	}

	severity, err := ParseSeverity(def.Severity)
	if err != nil {
		details = append(details, ErrorDetail{Field: "severity", Problem: "invalid", Hint: "Use LOW, MEDIUM, HIGH or CRITICAL"})
	}

	var cooldown time.Duration
	if def.Cooldown != "" {
		cooldown, err = ParseDuration(def.Cooldown)
		if err != nil || cooldown < 0 {
			details = append(details, ErrorDetail{Field: "cooldown", Problem: "invalid", Hint: "Example: 1h, 30m, 1d"})
		}
	}

	template := def.DedupeKeyTemplate
	if template == "" {
		template = DefaultDedupeKeyTemplate
	}
	if detail := validateDedupeTemplate(template); detail != nil {
		details = append(details, *detail)
	}

	for i, role := range def.Actions.Notify {
		if !identRegex.MatchString(role) {
			details = append(details, ErrorDetail{Field: fmt.Sprintf("actions.notify[%d]", i), Problem: "invalid", Hint: "Use role identifiers such as care_team"})
		}
	}

	if len(details) > 0 {
		return Rule{}, &ValidationError{Code: "RULE_SCHEMA_INVALID", Message: "rule failed validation", Details: details}
	}

	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}
	name := def.Name
	if name == "" {
		name = def.ID
	}
	return Rule{
		ID:                def.ID,
		Name:              name,
		Primary:           primary,
		Additional:        additional,
		Severity:          severity,
		Cooldown:          cooldown,
		DedupeKeyTemplate: template,
		Actions:           def.Actions,
		Enabled:           enabled,
		Definition:        def,
	}, nil
}

func compileCondition(def ConditionDefinition, reg *Registry, prefix string) (Condition, []ErrorDetail) {
	var details []ErrorDetail
	add := func(field, problem, hint string) {
		details = append(details, ErrorDetail{Field: prefix + field, Problem: problem, Hint: hint})
	}

	spec, ok := reg.Lookup(def.Condition)
	if !ok {
		add("condition", "unknown", "See GET /conditions for the catalog")
		return Condition{}, details
	}

	op, ok := ParseOperator(def.Operator)
	if !ok {
		add("operator", "unknown", "Example: greater_than_or_equal")
	} else if !slices.Contains(spec.AllowedOperators(), op) {
		add("operator", fmt.Sprintf("not valid for %s condition", spec.ValueType()), fmt.Sprintf("Allowed: %v", spec.AllowedOperators()))
	}

	if op.IsTrend() {
		if def.ConsecutiveDays <= 0 {
			add("consecutiveDays", "required", "Trend operators need consecutiveDays > 0")
		} else if def.ConsecutiveDays > maxConsecutiveDays {
			add("consecutiveDays", "too large", fmt.Sprintf("At most %d", maxConsecutiveDays))
		}
		if def.Occurrences > 0 {
			add("occurrences", "not allowed", "Trend rules count days, not occurrences")
		}
	} else if def.ConsecutiveDays != 0 {
		add("consecutiveDays", "not allowed", "Only valid with trend_increasing or trend_decreasing")
	}

	if def.Occurrences < 0 {
		add("occurrences", "invalid", "Must be >= 1 when set")
	}

	var window time.Duration
	if def.TimeWindow != "" {
		parsed, err := ParseDuration(def.TimeWindow)
		if err != nil || parsed <= 0 {
			add("timeWindow", "invalid", "Example: 24h, 72h, 7d")
		}
		window = parsed
	}
	if def.Occurrences > 1 && window == 0 {
		add("timeWindow", "required", "occurrences needs a timeWindow to count within")
	}

	if def.MetricKey != "" && !identRegex.MatchString(def.MetricKey) {
		add("metricKey", "invalid", "Use alphanumeric identifiers")
	}

	for _, d := range spec.Validate(def) {
		d.Field = prefix + d.Field
		details = append(details, d)
	}

	metric := def.MetricKey
	if metric == "" {
		metric = spec.DefaultMetric()
	}
	var threshold float64
	if def.Threshold != nil {
		threshold = *def.Threshold
	}
	unit, _ := ParseUnit(def.Unit)
	return Condition{
		Name:            spec.Name(),
		MetricKey:       metric,
		Spec:            spec,
		Operator:        op,
		Threshold:       threshold,
		Value:           def.Value,
		ConsecutiveDays: def.ConsecutiveDays,
		TimeWindow:      window,
		Occurrences:     def.Occurrences,
		Unit:            unit,
	}, details
}
