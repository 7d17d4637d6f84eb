package evaluator

import (
	"time"

	"carewatch-backend/internal/rules"
)

type Status string

const (
	StatusTriggered        Status = "triggered"
	StatusNotTriggered     Status = "not_triggered"
	StatusInsufficientData Status = "insufficient_data"
)

// Evidence is what one condition saw and why it did or did not fire.
type Evidence struct {
	Condition  string         `json:"condition"`
	MetricKey  string         `json:"metricKey"`
	Operator   rules.Operator `json:"operator"`
	Status     Status         `json:"status"`
	Observed   string         `json:"observed,omitempty"`
	LimitExpr  string         `json:"limitExpr,omitempty"`
	ObservedAt *time.Time     `json:"observedAt,omitempty"`
	Count      int            `json:"count,omitempty"`
	Required   int            `json:"required,omitempty"`
	Days       []DayValue     `json:"days,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (e Evidence) Triggered() bool {
	return e.Status == StatusTriggered
}

// Result combines the evidence of every condition of a rule with AND semantics.
type Result struct {
	RuleID    string     `json:"ruleId"`
	Status    Status     `json:"status"`
	Evidence  []Evidence `json:"evidence"`
	Evaluated time.Time  `json:"evaluatedAt"`
}

func (r Result) Triggered() bool {
	return r.Status == StatusTriggered
}

// LatestObservedAt is the newest observation any condition looked at, or zero.
func (r Result) LatestObservedAt() time.Time {
	var latest time.Time
	for _, ev := range r.Evidence {
		if ev.ObservedAt != nil && ev.ObservedAt.After(latest) {
			latest = *ev.ObservedAt
		}
	}
	return latest
}

// Conclusive reports whether the rule was checked against data, triggered or not.
func (r Result) Conclusive() bool {
	return r.Status != StatusInsufficientData
}

func combine(evidence []Evidence) Status {
	sawInsufficient := false
	for _, ev := range evidence {
		switch ev.Status {
		case StatusNotTriggered:
			return StatusNotTriggered
		case StatusInsufficientData:
			sawInsufficient = true
		}
	}
	if sawInsufficient || len(evidence) == 0 {
		return StatusInsufficientData
	}
	return StatusTriggered
}
