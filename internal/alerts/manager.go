package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carewatch-backend/internal/lock"
	"carewatch-backend/internal/metrics"
	"carewatch-backend/internal/retry"
	"carewatch-backend/internal/rules"
	"carewatch-backend/pkg/log"
)

const (
	MinSnoozeMinutes = 1
	MaxSnoozeMinutes = 7 * 24 * 60
)

type NoticeKind string

const (
	NoticeCreated   NoticeKind = "created"
	NoticeEscalated NoticeKind = "escalated"
	NoticeReminder  NoticeKind = "reminder"
)

// Notice asks the notification layer to reach people about an instance.
// Rule is nil when the rule no longer exists.
type Notice struct {
	Kind     NoticeKind
	Instance Instance
	Rule     *rules.Rule
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Observer sees every audited change after it is stored.
type Observer interface {
	Transitioned(ctx context.Context, inst Instance, entry AuditEntry)
}

type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeSnoozed    Outcome = "snoozed"
	OutcomeRestored   Outcome = "restored"
	OutcomeUnchanged  Outcome = "unchanged"
)

type Decision struct {
	Outcome  Outcome
	Instance Instance
	// Superseded is the instance cancelled to make room for a new one, if any.
	Superseded *Instance
}

type Options struct {
	Store            Store
	Locker           lock.Locker
	Notifier         Notifier
	Observer         Observer
	SLA              SLAPolicy
	AutoResolveGrace time.Duration
	Now              func() time.Time
	Logger           log.Logger
}

// Manager owns alert instance lifecycle: dedupe, cooldown, the state machine and the audit trail.
type Manager struct {
	store    Store
	locker   lock.Locker
	notifier Notifier
	observer Observer
	sla      SLAPolicy
	grace    time.Duration
	now      func() time.Time
	logger   log.Logger
	conflict retry.Policy
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		store:    opts.Store,
		locker:   opts.Locker,
		notifier: opts.Notifier,
		observer: opts.Observer,
		sla:      opts.SLA,
		grace:    opts.AutoResolveGrace,
		now:      opts.Now,
		logger:   opts.Logger,
		conflict: retry.Policy{Attempts: 5, Backoff: 5 * time.Millisecond, MaxBackoff: 100 * time.Millisecond},
	}
	if m.locker == nil {
		m.locker = lock.NewLocal()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = log.NewNop()
	}
	if m.sla == (SLAPolicy{}) {
		m.sla = DefaultSLAPolicy()
	}
	return m
}

func (m *Manager) SLA() SLAPolicy { return m.sla }

// HandleTrigger applies dedupe, snooze and cooldown to a trigger and creates or updates the instance.
func (m *Manager) HandleTrigger(ctx context.Context, rule rules.Rule, ev TriggerEvent) (Decision, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = m.now()
	}
	if ev.MetricKey == "" {
		ev.MetricKey = rule.MetricKey()
	}
	key := rule.DedupeKey(ev.EnrollmentID)
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("alerts.Manager.HandleTrigger: lock %s: %w", key, err)
	}
	defer unlock()

	var decision Decision
	_, err = retry.Do(ctx, m.conflict, func(ctx context.Context) error {
		var err error
		decision, err = m.decide(ctx, rule, ev, key)
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicateOpen) {
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		return Decision{}, fmt.Errorf("alerts.Manager.HandleTrigger: %w", err)
	}
	return decision, nil
}

func (m *Manager) decide(ctx context.Context, rule rules.Rule, ev TriggerEvent, key string) (Decision, error) {
	at := ev.OccurredAt
	seen := ev.evidenceTime()
	evidence, err := json.Marshal(ev.Evidence)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal evidence: %w", err)
	}
	open, err := m.store.OpenByDedupeKey(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if len(open) == 0 {
		inst := m.newInstance(rule, ev, key, evidence)
		if err := m.store.CreateInstance(ctx, inst); err != nil {
			return Decision{}, err
		}
		inst.Version = 1
		m.record(ctx, inst, "", ActionCreated, ActorTrigger, "", evidence)
		m.notify(ctx, NoticeCreated, inst, &rule)
		return Decision{Outcome: OutcomeCreated, Instance: inst}, nil
	}
	if len(open) > 1 {
		m.logger.Warnf(ctx, "alerts.Manager.HandleTrigger: %d open instances for dedupe key %s", len(open), key)
	}
	current := open[0]

	if current.Status == StatusSnoozed && (current.SnoozeUntil == nil || !at.Before(*current.SnoozeUntil)) {
		next := current
		next.Status = current.PriorStatus
		if next.Status == "" {
			next.Status = StatusPending
		}
		next.PriorStatus = ""
		next.SnoozeUntil = nil
		next.ClearedSince = nil
		next.LastTriggeredAt = latest(current.LastTriggeredAt, seen)
		updated, err := m.store.UpdateInstance(ctx, next)
		if err != nil {
			return Decision{}, err
		}
		m.record(ctx, updated, current.Status, ActionUnsnoozed, ActorSnoozeExpired, "", evidence)
		if rule.Actions.Reminder {
			m.notify(ctx, NoticeReminder, updated, &rule)
		}
		return Decision{Outcome: OutcomeRestored, Instance: updated}, nil
	}

	// The same standing observation fires on every cycle; only newer evidence counts as a trigger.
	if !ev.ObservedAt.IsZero() && !ev.ObservedAt.After(current.LastTriggeredAt) {
		if current.ClearedSince == nil {
			return Decision{Outcome: OutcomeUnchanged, Instance: current}, nil
		}
		updated, err := m.touch(ctx, current, seen)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: OutcomeUnchanged, Instance: updated}, nil
	}

	if current.Status == StatusSnoozed {
		updated, err := m.touch(ctx, current, seen)
		if err != nil {
			return Decision{}, err
		}
		m.record(ctx, updated, current.Status, ActionSuppressed, ActorTrigger, "snoozed until "+current.SnoozeUntil.Format(time.RFC3339), evidence)
		return Decision{Outcome: OutcomeSnoozed, Instance: updated}, nil
	}

	if rule.Cooldown <= 0 || WithinCooldown(current.LastTriggeredAt, seen, rule.Cooldown) {
		updated, err := m.touch(ctx, current, seen)
		if err != nil {
			return Decision{}, err
		}
		m.record(ctx, updated, current.Status, ActionSuppressed, ActorTrigger, "", evidence)
		return Decision{Outcome: OutcomeSuppressed, Instance: updated}, nil
	}

	old := current
	old.Status = StatusCancelled
	old.PriorStatus = ""
	old.SnoozeUntil = nil
	inst := m.newInstance(rule, ev, key, evidence)
	cancelled, err := m.store.Supersede(ctx, old, inst)
	if err != nil {
		return Decision{}, err
	}
	inst.Version = 1
	m.record(ctx, cancelled, current.Status, ActionCancelled, ActorSupersede, "superseded by "+inst.ID, nil)
	m.record(ctx, inst, "", ActionCreated, ActorTrigger, "", evidence)
	m.notify(ctx, NoticeCreated, inst, &rule)
	return Decision{Outcome: OutcomeCreated, Instance: inst, Superseded: &cancelled}, nil
}

func (m *Manager) newInstance(rule rules.Rule, ev TriggerEvent, key string, evidence json.RawMessage) Instance {
	return Instance{
		ID:              uuid.NewString(),
		RuleID:          rule.ID,
		EnrollmentID:    ev.EnrollmentID,
		MetricKey:       ev.MetricKey,
		Severity:        rule.Severity,
		Status:          StatusPending,
		DedupeKey:       key,
		TriggeredAt:     ev.OccurredAt,
		LastTriggeredAt: ev.evidenceTime(),
		SLABreachTime:   m.sla.BreachTime(rule.Severity, ev.OccurredAt),
		Evidence:        evidence,
	}
}

func (m *Manager) touch(ctx context.Context, inst Instance, at time.Time) (Instance, error) {
	next := inst
	next.LastTriggeredAt = latest(inst.LastTriggeredAt, at)
	next.ClearedSince = nil
	return m.store.UpdateInstance(ctx, next)
}

// ObserveClear records a conclusive not-triggered evaluation and auto-resolves
// instances of autoResolve rules once they stayed clear for the grace period.
func (m *Manager) ObserveClear(ctx context.Context, rule rules.Rule, enrollmentID string, at time.Time) error {
	if !rule.Actions.AutoResolve {
		return nil
	}
	if at.IsZero() {
		at = m.now()
	}
	key := rule.DedupeKey(enrollmentID)
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("alerts.Manager.ObserveClear: lock %s: %w", key, err)
	}
	defer unlock()

	_, err = retry.Do(ctx, m.conflict, func(ctx context.Context) error {
		err := m.clear(ctx, key, at)
		if errors.Is(err, ErrConflict) {
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		return fmt.Errorf("alerts.Manager.ObserveClear: %w", err)
	}
	return nil
}

func (m *Manager) clear(ctx context.Context, key string, at time.Time) error {
	open, err := m.store.OpenByDedupeKey(ctx, key)
	if err != nil {
		return err
	}
	for _, inst := range open {
		if inst.Status == StatusSnoozed {
			continue
		}
		next := inst
		if next.ClearedSince == nil {
			next.ClearedSince = &at
		}
		if at.Sub(*next.ClearedSince) >= m.grace {
			next.Status = StatusResolved
			next.ResolvedAt = &at
			updated, err := m.store.UpdateInstance(ctx, next)
			if err != nil {
				return err
			}
			m.record(ctx, updated, inst.Status, ActionResolved, ActorAutoResolve, "clear since "+next.ClearedSince.Format(time.RFC3339), nil)
			continue
		}
		if inst.ClearedSince == nil {
			if _, err := m.store.UpdateInstance(ctx, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (Instance, error) {
	return m.command(ctx, id, actor, StatusAcknowledged, ActionAcknowledged, "", func(inst *Instance, now time.Time) {
		inst.AcknowledgedAt = &now
	})
}

func (m *Manager) Resolve(ctx context.Context, id, actor, notes string) (Instance, error) {
	return m.command(ctx, id, actor, StatusResolved, ActionResolved, notes, func(inst *Instance, now time.Time) {
		inst.ResolvedAt = &now
		if notes != "" {
			inst.Notes = notes
		}
	})
}

func (m *Manager) Snooze(ctx context.Context, id, actor string, minutes int) (Instance, error) {
	if minutes < MinSnoozeMinutes || minutes > MaxSnoozeMinutes {
		return Instance{}, ErrInvalidSnooze
	}
	note := fmt.Sprintf("snoozed for %d minutes", minutes)
	return m.command(ctx, id, actor, StatusSnoozed, ActionSnoozed, note, func(inst *Instance, now time.Time) {
		if inst.Status != StatusSnoozed {
			inst.PriorStatus = inst.Status
		}
		until := now.Add(time.Duration(minutes) * time.Minute)
		inst.SnoozeUntil = &until
	})
}

func (m *Manager) Cancel(ctx context.Context, id, actor string) (Instance, error) {
	return m.command(ctx, id, actor, StatusCancelled, ActionCancelled, "", func(inst *Instance, now time.Time) {
		inst.PriorStatus = ""
		inst.SnoozeUntil = nil
	})
}

// command validates the transition against the stored status and applies it with a version check.
// A rejected transition leaves the instance untouched.
func (m *Manager) command(ctx context.Context, id, actor string, to Status, action Action, notes string, mutate func(*Instance, time.Time)) (Instance, error) {
	if actor == "" {
		return Instance{}, ErrInvalidActor
	}
	var result Instance
	_, err := retry.Do(ctx, m.conflict, func(ctx context.Context) error {
		inst, err := m.store.GetInstance(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := checkTransition(inst.Status, to); err != nil {
			return retry.Permanent(err)
		}
		now := m.now()
		next := inst
		mutate(&next, now)
		next.Status = to
		updated, err := m.store.UpdateInstance(ctx, next)
		if errors.Is(err, ErrConflict) {
			return err
		}
		if err != nil {
			return retry.Permanent(err)
		}
		m.record(ctx, updated, inst.Status, action, actor, notes, nil)
		result = updated
		return nil
	})
	if err != nil {
		return Instance{}, err
	}
	return result, nil
}

// Escalate moves a breached instance to ESCALATED. It reports false when another
// sweep or command got there first or the instance no longer qualifies.
func (m *Manager) Escalate(ctx context.Context, inst Instance, now time.Time) (Instance, bool, error) {
	if !dueForEscalation(inst, now) {
		return inst, false, nil
	}
	next := inst
	next.Status = StatusEscalated
	next.EscalatedAt = &now
	next.EscalationLevel = 1
	updated, err := m.store.UpdateInstance(ctx, next)
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return inst, false, nil
	}
	if err != nil {
		return inst, false, fmt.Errorf("alerts.Manager.Escalate: %w", err)
	}
	m.record(ctx, updated, inst.Status, ActionEscalated, ActorSLA, "", nil)
	return updated, true, nil
}

func (m *Manager) DueForEscalation(ctx context.Context, now time.Time) ([]Instance, error) {
	return m.store.DueForEscalation(ctx, now)
}

func (m *Manager) Get(ctx context.Context, id string) (Instance, error) {
	return m.store.GetInstance(ctx, id)
}

func (m *Manager) List(ctx context.Context, f Filter) ([]Instance, error) {
	return m.store.ListInstances(ctx, f)
}

func (m *Manager) Audit(ctx context.Context, id string) ([]AuditEntry, error) {
	if _, err := m.store.GetInstance(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListAudit(ctx, id)
}

func (m *Manager) record(ctx context.Context, inst Instance, from Status, action Action, actor, notes string, evidence json.RawMessage) {
	entry := AuditEntry{
		ID:              uuid.NewString(),
		AlertInstanceID: inst.ID,
		Action:          action,
		FromStatus:      from,
		ToStatus:        inst.Status,
		Actor:           actor,
		Notes:           notes,
		Evidence:        evidence,
		At:              m.now(),
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		m.logger.Errorf(ctx, "alerts.Manager.record: instance=%s action=%s: %v", inst.ID, action, err)
	}
	metrics.AlertTransitions.WithLabelValues(string(action)).Inc()
	if m.observer != nil {
		m.observer.Transitioned(ctx, inst, entry)
	}
}

func (m *Manager) notify(ctx context.Context, kind NoticeKind, inst Instance, rule *rules.Rule) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, Notice{Kind: kind, Instance: inst, Rule: rule})
}

func (e TriggerEvent) evidenceTime() time.Time {
	if e.ObservedAt.IsZero() {
		return e.OccurredAt
	}
	return e.ObservedAt
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
