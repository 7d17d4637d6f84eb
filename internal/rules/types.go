package rules

import "time"

type Operator string

const (
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpEqual              Operator = "equal"
	OpNotEqual           Operator = "not_equal"
	OpTrendIncreasing    Operator = "trend_increasing"
	OpTrendDecreasing    Operator = "trend_decreasing"
)

// ParseOperator normalizes the authored operator. "equals" is accepted as an alias of "equal".
func ParseOperator(raw string) (Operator, bool) {
	switch op := Operator(raw); op {
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpEqual, OpNotEqual, OpTrendIncreasing, OpTrendDecreasing:
		return op, true
	case "equals":
		return OpEqual, true
	default:
		return "", false
	}
}

func (o Operator) IsTrend() bool {
	return o == OpTrendIncreasing || o == OpTrendDecreasing
}

type ValueType string

const (
	ValueNumeric     ValueType = "numeric"
	ValuePercentage  ValueType = "percentage"
	ValueCategorical ValueType = "categorical"
	ValueDuration    ValueType = "duration"
)

type Actions struct {
	Notify      []string `json:"notify" yaml:"notify"`
	Escalate    *bool    `json:"escalate,omitempty" yaml:"escalate,omitempty"`
	Reminder    bool     `json:"reminder" yaml:"reminder"`
	AutoResolve bool     `json:"autoResolve" yaml:"autoResolve"`
}

// Escalates reports whether SLA breaches escalate. Unset means yes.
func (a Actions) Escalates() bool {
	return a.Escalate == nil || *a.Escalate
}

// ConditionDefinition is one authored condition shape.
type ConditionDefinition struct {
	Condition       string   `json:"condition" yaml:"condition"`
	MetricKey       string   `json:"metricKey,omitempty" yaml:"metricKey,omitempty"`
	Operator        string   `json:"operator" yaml:"operator"`
	Threshold       *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Value           string   `json:"value,omitempty" yaml:"value,omitempty"`
	ConsecutiveDays int      `json:"consecutiveDays,omitempty" yaml:"consecutiveDays,omitempty"`
	TimeWindow      string   `json:"timeWindow,omitempty" yaml:"timeWindow,omitempty"`
	Occurrences     int      `json:"occurrences,omitempty" yaml:"occurrences,omitempty"`
	Unit            string   `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Definition is the rule record as authored and stored.
type Definition struct {
	ID                  string `json:"id" yaml:"id"`
	Name                string `json:"name,omitempty" yaml:"name,omitempty"`
	ConditionDefinition `yaml:",inline"`

	Severity             string                `json:"severity" yaml:"severity"`
	Cooldown             string                `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	DedupeKeyTemplate    string                `json:"dedupeKeyTemplate,omitempty" yaml:"dedupeKeyTemplate,omitempty"`
	Actions              Actions               `json:"actions" yaml:"actions"`
	AdditionalConditions []ConditionDefinition `json:"additionalConditions,omitempty" yaml:"additionalConditions,omitempty"`
	Enabled              *bool                 `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Condition is a validated condition bound to its registry spec.
type Condition struct {
	Name            string
	MetricKey       string
	Spec            ConditionSpec
	Operator        Operator
	Threshold       float64
	Value           string
	ConsecutiveDays int
	TimeWindow      time.Duration
	Occurrences     int
	Unit            DurationUnit
}

func (c Condition) ValueType() ValueType {
	return c.Spec.ValueType()
}

// Lookback is how far back observations are needed to evaluate the condition.
// Zero means only the latest value matters.
func (c Condition) Lookback() time.Duration {
	if c.Operator.IsTrend() {
		days := time.Duration(c.ConsecutiveDays) * 24 * time.Hour
		if c.TimeWindow > days {
			return c.TimeWindow
		}
		return days
	}
	return c.TimeWindow
}

// Rule is a compiled, evaluable alert rule.
type Rule struct {
	ID                string
	Name              string
	Primary           Condition
	Additional        []Condition
	Severity          Severity
	Cooldown          time.Duration
	DedupeKeyTemplate string
	Actions           Actions
	Enabled           bool
	Definition        Definition
}

func (r Rule) MetricKey() string {
	return r.Primary.MetricKey
}

// Conditions returns the primary condition followed by the additional ones.
func (r Rule) Conditions() []Condition {
	out := make([]Condition, 0, 1+len(r.Additional))
	out = append(out, r.Primary)
	return append(out, r.Additional...)
}
