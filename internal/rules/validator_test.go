package rules

import (
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func painRule() Definition {
	return Definition{
		ID: "pain-high",
		ConditionDefinition: ConditionDefinition{
			Condition: "pain_scale_0_10",
			Operator:  "greater_than_or_equal",
			Threshold: ptr(8),
		},
		Severity: "HIGH",
		Cooldown: "1h",
		Actions:  Actions{Notify: []string{"care_team"}, Reminder: true},
	}
}

func hasField(err *ValidationError, field string) bool {
	if err == nil {
		return false
	}
	for _, d := range err.Details {
		if d.Field == field {
			return true
		}
	}
	return false
}

func TestCompileValidRule(t *testing.T) {
	rule, err := Compile(painRule(), DefaultRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Cooldown != time.Hour {
		t.Fatalf("expected 1h cooldown got %v", rule.Cooldown)
	}
	if rule.Primary.MetricKey != "pain_scale_0_10" || rule.Severity != SeverityHigh {
		t.Fatalf("unexpected compiled rule %+v", rule)
	}
	if !rule.Enabled {
		t.Fatalf("rules default to enabled")
	}
	if rule.DedupeKeyTemplate != DefaultDedupeKeyTemplate {
		t.Fatalf("expected default dedupe template got %q", rule.DedupeKeyTemplate)
	}
}

func TestCompileRejectsOperatorForValueType(t *testing.T) {
	def := Definition{
		ID:                  "adherence",
		ConditionDefinition: ConditionDefinition{Condition: "medication_adherence", Operator: "greater_than", Value: "missed_dose"},
		Severity:            "MEDIUM",
	}
	_, err := Compile(def, DefaultRegistry())
	if !hasField(err, "operator") {
		t.Fatalf("expected operator error, got %v", err)
	}
}

func TestCompileRejectsCategoricalValueOutsideOptions(t *testing.T) {
	def := Definition{
		ID:                  "adherence",
		ConditionDefinition: ConditionDefinition{Condition: "medication_adherence", Operator: "equals", Value: "forgot"},
		Severity:            "MEDIUM",
	}
	_, err := Compile(def, DefaultRegistry())
	if !hasField(err, "value") {
		t.Fatalf("expected value error, got %v", err)
	}
}

func TestCompileAcceptsEqualsAlias(t *testing.T) {
	def := Definition{
		ID: "adherence",
		ConditionDefinition: ConditionDefinition{
			Condition: "medication_adherence", Operator: "equals", Value: "missed_dose",
			Occurrences: 3, TimeWindow: "72h",
		},
		Severity: "MEDIUM",
	}
	rule, err := Compile(def, DefaultRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Primary.Operator != OpEqual || rule.Primary.TimeWindow != 72*time.Hour {
		t.Fatalf("unexpected condition %+v", rule.Primary)
	}
}

func TestCompileTrendRequiresConsecutiveDays(t *testing.T) {
	def := Definition{
		ID:                  "weight-trend",
		ConditionDefinition: ConditionDefinition{Condition: "weight_kg", Operator: "trend_increasing"},
		Severity:            "MEDIUM",
	}
	_, err := Compile(def, DefaultRegistry())
	if !hasField(err, "consecutiveDays") {
		t.Fatalf("expected consecutiveDays error, got %v", err)
	}

	def.ConsecutiveDays = 3
	rule, verr := Compile(def, DefaultRegistry())
	if verr != nil {
		t.Fatalf("unexpected error: %v", verr)
	}
	if rule.Primary.Lookback() != 72*time.Hour {
		t.Fatalf("expected 3 day lookback got %v", rule.Primary.Lookback())
	}
}

func TestCompileThresholdOutOfRange(t *testing.T) {
	def := painRule()
	def.Threshold = ptr(11)
	_, err := Compile(def, DefaultRegistry())
	if !hasField(err, "threshold") {
		t.Fatalf("expected threshold error, got %v", err)
	}
}

func TestCompileDurationCondition(t *testing.T) {
	def := Definition{
		ID: "no-glucose",
		ConditionDefinition: ConditionDefinition{
			Condition: "no_reading", MetricKey: "blood_glucose",
			Operator: "greater_than_or_equal", Threshold: ptr(2), Unit: "days",
		},
		Severity: "LOW",
	}
	rule, err := Compile(def, DefaultRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.MetricKey() != "blood_glucose" || rule.Primary.Unit != UnitDays {
		t.Fatalf("unexpected condition %+v", rule.Primary)
	}

	def.Unit = "fortnights"
	if _, err := Compile(def, DefaultRegistry()); !hasField(err, "unit") {
		t.Fatalf("expected unit error, got %v", err)
	}
}

func TestCompileAdditionalConditionsPrefixed(t *testing.T) {
	def := painRule()
	def.AdditionalConditions = []ConditionDefinition{{Condition: "mood", Operator: "equals", Value: "sad"}}
	_, err := Compile(def, DefaultRegistry())
	if !hasField(err, "additionalConditions[0].value") {
		t.Fatalf("expected prefixed value error, got %v", err)
	}
}

func TestCompileRejectsBadSeverityCooldownAndTemplate(t *testing.T) {
	def := painRule()
	def.Severity = "URGENT"
	def.Cooldown = "soon"
	def.DedupeKeyTemplate = "{ruleId}:{patient}"
	_, err := Compile(def, DefaultRegistry())
	for _, field := range []string{"severity", "cooldown", "dedupeKeyTemplate"} {
		if !hasField(err, field) {
			t.Fatalf("expected %s error, got %v", field, err)
		}
	}
}

func TestCompileRejectsOverflowingDurations(t *testing.T) {
	def := painRule()
	def.Cooldown = "99999999999d"
	def.TimeWindow = "20000w"
	def.Occurrences = 2
	_, err := Compile(def, DefaultRegistry())
	for _, field := range []string{"cooldown", "timeWindow"} {
		if !hasField(err, field) {
			t.Fatalf("expected %s error, got %v", field, err)
		}
	}

	silent := Definition{
		ID: "silent",
		ConditionDefinition: ConditionDefinition{
			Condition: "no_reading",
			MetricKey: "blood_glucose",
			Operator:  "greater_than_or_equal",
			Threshold: ptr(1e12),
			Unit:      "days",
		},
		Severity: "MEDIUM",
	}
	_, err = Compile(silent, DefaultRegistry())
	if !hasField(err, "threshold") {
		t.Fatalf("expected threshold error, got %v", err)
	}
}

func TestSetExcludesInvalidAndDisabledRules(t *testing.T) {
	disabled := painRule()
	disabled.ID = "pain-disabled"
	off := false
	disabled.Enabled = &off

	broken := painRule()
	broken.ID = "pain-broken"
	broken.Operator = "trend_sideways"

	set := NewSet(DefaultRegistry(), []Definition{painRule(), disabled, broken, painRule()})
	if len(set.Active()) != 1 || set.Active()[0].ID != "pain-high" {
		t.Fatalf("unexpected active rules %+v", set.Active())
	}
	if _, ok := set.Get("pain-disabled"); !ok {
		t.Fatalf("disabled rules remain addressable")
	}
	if _, ok := set.Invalid()["pain-broken"]; !ok {
		t.Fatalf("expected pain-broken to be invalid")
	}
	if set.Invalid()["pain-high"] == nil || set.Invalid()["pain-high"].Code != "RULE_DUPLICATE" {
		t.Fatalf("expected duplicate id to be reported")
	}
}
