package alerts

import (
	"encoding/json"
	"time"

	"carewatch-backend/internal/evaluator"
	"carewatch-backend/internal/rules"
)

type Status string

const (
	StatusPending      Status = "PENDING"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusEscalated    Status = "ESCALATED"
	StatusSnoozed      Status = "SNOOZED"
	StatusResolved     Status = "RESOLVED"
	StatusCancelled    Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusPending, StatusAcknowledged, StatusEscalated, StatusSnoozed, StatusResolved, StatusCancelled:
		return s, true
	}
	return "", false
}

// Instance is one alert raised for a dedupe key. Instances are never deleted.
type Instance struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"ruleId"`
	EnrollmentID    string          `json:"enrollmentId"`
	MetricKey       string          `json:"metricKey"`
	Severity        rules.Severity  `json:"severity"`
	Status          Status          `json:"status"`
	PriorStatus     Status          `json:"priorStatus,omitempty"`
	DedupeKey       string          `json:"dedupeKey"`
	TriggeredAt     time.Time       `json:"triggeredAt"`
	LastTriggeredAt time.Time       `json:"lastTriggeredAt"`
	SLABreachTime   *time.Time      `json:"slaBreachTime,omitempty"`
	AcknowledgedAt  *time.Time      `json:"acknowledgedAt,omitempty"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
	SnoozeUntil     *time.Time      `json:"snoozeUntil,omitempty"`
	EscalatedAt     *time.Time      `json:"escalatedAt,omitempty"`
	ClearedSince    *time.Time      `json:"clearedSince,omitempty"`
	EscalationLevel int             `json:"escalationLevel"`
	Evidence        json.RawMessage `json:"evidence,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Version         int64           `json:"version"`
}

// TriggerEvent is emitted by the orchestrator when a rule fires for an enrollment.
// ObservedAt is when the newest evidence was recorded; zero means OccurredAt.
type TriggerEvent struct {
	RuleID       string               `json:"ruleId"`
	EnrollmentID string               `json:"enrollmentId"`
	MetricKey    string               `json:"metricKey"`
	Evidence     []evaluator.Evidence `json:"evidence"`
	OccurredAt   time.Time            `json:"occurredAt"`
	ObservedAt   time.Time            `json:"observedAt,omitempty"`
}

type EscalationEvent struct {
	AlertInstanceID string    `json:"alertInstanceId"`
	EscalationLevel int       `json:"escalationLevel"`
	OccurredAt      time.Time `json:"occurredAt"`
}

type Action string

const (
	ActionCreated      Action = "created"
	ActionSuppressed   Action = "suppressed"
	ActionAcknowledged Action = "acknowledged"
	ActionResolved     Action = "resolved"
	ActionSnoozed      Action = "snoozed"
	ActionUnsnoozed    Action = "unsnoozed"
	ActionEscalated    Action = "escalated"
	ActionCancelled    Action = "cancelled"
	ActionCleared      Action = "cleared"
)

const (
	ActorSLA           = "system/SLA"
	ActorAutoResolve   = "system/auto-resolve"
	ActorSnoozeExpired = "system/snooze-expired"
	ActorReconcile     = "system/reconcile"
	ActorSupersede     = "system/supersede"
	ActorTrigger       = "system/trigger"
)

// AuditEntry is one append-only record of what happened to an instance and who caused it.
type AuditEntry struct {
	ID              string          `json:"id"`
	AlertInstanceID string          `json:"alertInstanceId"`
	Action          Action          `json:"action"`
	FromStatus      Status          `json:"fromStatus,omitempty"`
	ToStatus        Status          `json:"toStatus"`
	Actor           string          `json:"actor"`
	Notes           string          `json:"notes,omitempty"`
	Evidence        json.RawMessage `json:"evidence,omitempty"`
	At              time.Time       `json:"at"`
}

// Filter narrows ListInstances. Open selects non-terminal statuses and overrides Status.
type Filter struct {
	Open         bool
	Status       Status
	EnrollmentID string
	RuleID       string
	Limit        int

	dedupeKey string
}

func (f Filter) Matches(inst Instance) bool {
	if f.Open && inst.Status.Terminal() {
		return false
	}
	if !f.Open && f.Status != "" && inst.Status != f.Status {
		return false
	}
	if f.EnrollmentID != "" && inst.EnrollmentID != f.EnrollmentID {
		return false
	}
	if f.RuleID != "" && inst.RuleID != f.RuleID {
		return false
	}
	if f.dedupeKey != "" && inst.DedupeKey != f.dedupeKey {
		return false
	}
	return true
}
