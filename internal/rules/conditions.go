package rules

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// ConditionSpec describes one catalog condition: the value type it observes,
// the operators it accepts and the family specific checks on a definition.
type ConditionSpec interface {
	Name() string
	ValueType() ValueType
	AllowedOperators() []Operator
	// DefaultMetric is the metric observed when the definition does not name one.
	DefaultMetric() string
	Validate(def ConditionDefinition) []ErrorDetail
}

var comparisonOps = []Operator{OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpEqual, OpNotEqual}

// NumericCondition is a plain numeric metric with an optional valid range.
type NumericCondition struct {
	Key   string
	Unit  string
	Min   *float64
	Max   *float64
	Trend bool
}

func (c NumericCondition) Name() string          { return c.Key }
func (c NumericCondition) ValueType() ValueType  { return ValueNumeric }
func (c NumericCondition) DefaultMetric() string { return c.Key }

func (c NumericCondition) AllowedOperators() []Operator {
	if c.Trend {
		return append(slices.Clone(comparisonOps), OpTrendIncreasing, OpTrendDecreasing)
	}
	return comparisonOps
}

func (c NumericCondition) Validate(def ConditionDefinition) []ErrorDetail {
	return validateThreshold(def, c.Min, c.Max, c.Unit)
}

// PercentageCondition compares fractions. Thresholds may be authored as 0-1 or 0-100.
type PercentageCondition struct {
	Key string
}

func (c PercentageCondition) Name() string          { return c.Key }
func (c PercentageCondition) ValueType() ValueType  { return ValuePercentage }
func (c PercentageCondition) DefaultMetric() string { return c.Key }

func (c PercentageCondition) AllowedOperators() []Operator {
	return append(slices.Clone(comparisonOps), OpTrendIncreasing, OpTrendDecreasing)
}

func (c PercentageCondition) Validate(def ConditionDefinition) []ErrorDetail {
	lo, hi := 0.0, 100.0
	return validateThreshold(def, &lo, &hi, "percent")
}

// CategoricalCondition accepts only values from a closed option set.
type CategoricalCondition struct {
	Key     string
	Options []string
}

func (c CategoricalCondition) Name() string          { return c.Key }
func (c CategoricalCondition) ValueType() ValueType  { return ValueCategorical }
func (c CategoricalCondition) DefaultMetric() string { return c.Key }

func (c CategoricalCondition) AllowedOperators() []Operator {
	return []Operator{OpEqual, OpNotEqual}
}

func (c CategoricalCondition) Validate(def ConditionDefinition) []ErrorDetail {
	var details []ErrorDetail
	if def.Threshold != nil {
		details = append(details, ErrorDetail{Field: "threshold", Problem: "not allowed", Hint: "Categorical conditions compare against value"})
	}
	if def.Value == "" {
		details = append(details, ErrorDetail{Field: "value", Problem: "missing", Hint: fmt.Sprintf("One of %v", c.Options)})
	} else if !slices.Contains(c.Options, def.Value) {
		details = append(details, ErrorDetail{Field: "value", Problem: "not in option set", Hint: fmt.Sprintf("One of %v", c.Options)})
	}
	return details
}

const maxElapsed = 366 * 24 * time.Hour

// DurationCondition triggers on time elapsed since the last observation of Target.
type DurationCondition struct {
	Key    string
	Target string
}

func (c DurationCondition) Name() string          { return c.Key }
func (c DurationCondition) ValueType() ValueType  { return ValueDuration }
func (c DurationCondition) DefaultMetric() string { return c.Target }

func (c DurationCondition) AllowedOperators() []Operator {
	return []Operator{OpGreaterThanOrEqual, OpGreaterThan}
}

func (c DurationCondition) Validate(def ConditionDefinition) []ErrorDetail {
	var details []ErrorDetail
	unit, unitOK := ParseUnit(def.Unit)
	switch {
	case def.Threshold == nil || *def.Threshold <= 0:
		details = append(details, ErrorDetail{Field: "threshold", Problem: "missing", Hint: "Elapsed time in unit, e.g. 48"})
	case unitOK && *def.Threshold*float64(unit.Duration()) > float64(maxElapsed):
		details = append(details, ErrorDetail{Field: "threshold", Problem: "too large", Hint: "At most 366 days"})
	}
	if !unitOK {
		details = append(details, ErrorDetail{Field: "unit", Problem: "invalid", Hint: "Use hours or days"})
	}
	if def.Occurrences > 0 {
		details = append(details, ErrorDetail{Field: "occurrences", Problem: "not allowed", Hint: "Duration conditions use the latest observation only"})
	}
	if def.MetricKey == "" && c.Target == "" {
		details = append(details, ErrorDetail{Field: "metricKey", Problem: "missing", Hint: "Name the metric whose absence is measured"})
	}
	return details
}

func validateThreshold(def ConditionDefinition, min, max *float64, unit string) []ErrorDetail {
	op, _ := ParseOperator(def.Operator)
	if op.IsTrend() {
		return nil
	}
	var details []ErrorDetail
	if def.Value != "" {
		details = append(details, ErrorDetail{Field: "value", Problem: "not allowed", Hint: "Numeric conditions compare against threshold"})
	}
	if def.Threshold == nil {
		return append(details, ErrorDetail{Field: "threshold", Problem: "missing", Hint: "Example: threshold: 8"})
	}
	if (min != nil && *def.Threshold < *min) || (max != nil && *def.Threshold > *max) {
		details = append(details, ErrorDetail{Field: "threshold", Problem: "out of range", Hint: rangeHint(min, max, unit)})
	}
	return details
}

func rangeHint(min, max *float64, unit string) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf("between %v and %v %s", *min, *max, unit)
	case min != nil:
		return fmt.Sprintf(">= %v %s", *min, unit)
	case max != nil:
		return fmt.Sprintf("<= %v %s", *max, unit)
	}
	return unit
}

// Registry maps condition names to their spec.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]ConditionSpec
}

func NewRegistry(specs ...ConditionSpec) *Registry {
	reg := &Registry{specs: map[string]ConditionSpec{}}
	for _, spec := range specs {
		reg.Register(spec)
	}
	return reg
}

func (r *Registry) Register(spec ConditionSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name()] = spec
}

func (r *Registry) Lookup(name string) (ConditionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// CatalogEntry is the serializable view of a registered condition.
type CatalogEntry struct {
	Name             string     `json:"name"`
	ValueType        ValueType  `json:"valueType"`
	AllowedOperators []Operator `json:"allowedOperators"`
	Options          []string   `json:"options,omitempty"`
	Unit             string     `json:"unit,omitempty"`
}

func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CatalogEntry, 0, len(r.specs))
	for _, spec := range r.specs {
		entry := CatalogEntry{Name: spec.Name(), ValueType: spec.ValueType(), AllowedOperators: spec.AllowedOperators()}
		switch s := spec.(type) {
		case CategoricalCondition:
			entry.Options = s.Options
		case NumericCondition:
			entry.Unit = s.Unit
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func bound(v float64) *float64 { return &v }

// DefaultRegistry is the clinical condition catalog.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NumericCondition{Key: "pain_scale_0_10", Unit: "score", Min: bound(0), Max: bound(10), Trend: true},
		NumericCondition{Key: "blood_glucose", Unit: "mg/dL", Min: bound(10), Max: bound(1000), Trend: true},
		NumericCondition{Key: "systolic_bp", Unit: "mmHg", Min: bound(40), Max: bound(300), Trend: true},
		NumericCondition{Key: "diastolic_bp", Unit: "mmHg", Min: bound(20), Max: bound(200), Trend: true},
		NumericCondition{Key: "heart_rate", Unit: "bpm", Min: bound(20), Max: bound(250), Trend: true},
		NumericCondition{Key: "weight_kg", Unit: "kg", Min: bound(1), Max: bound(500), Trend: true},
		NumericCondition{Key: "temperature_c", Unit: "C", Min: bound(30), Max: bound(45), Trend: true},
		NumericCondition{Key: "respiratory_rate", Unit: "breaths/min", Min: bound(4), Max: bound(60), Trend: true},
		PercentageCondition{Key: "oxygen_saturation"},
		PercentageCondition{Key: "medication_adherence_rate"},
		CategoricalCondition{Key: "medication_adherence", Options: []string{"taken", "missed_dose", "late_dose"}},
		CategoricalCondition{Key: "mood", Options: []string{"good", "okay", "low", "very_low"}},
		CategoricalCondition{Key: "wound_status", Options: []string{"healing", "unchanged", "worsening", "infected"}},
		DurationCondition{Key: "no_reading"},
		DurationCondition{Key: "no_medication_log", Target: "medication_adherence"},
	)
}
