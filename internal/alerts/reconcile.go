package alerts

import (
	"context"
	"fmt"
)

// Reconcile repairs dedupe keys holding more than one open instance. The earliest
// instance is kept and takes the latest lastTriggeredAt and any escalation of the
// others; the rest are cancelled silently.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	open, err := m.store.ListInstances(ctx, Filter{Open: true})
	if err != nil {
		return 0, fmt.Errorf("alerts.Manager.Reconcile: %w", err)
	}
	groups := map[string][]Instance{}
	var order []string
	for _, inst := range open {
		if _, ok := groups[inst.DedupeKey]; !ok {
			order = append(order, inst.DedupeKey)
		}
		groups[inst.DedupeKey] = append(groups[inst.DedupeKey], inst)
	}

	cancelled := 0
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		m.logger.Warnf(ctx, "alerts.Manager.Reconcile: dedupe key %s has %d open instances", key, len(group))
		n, err := m.reconcileKey(ctx, key, group)
		cancelled += n
		if err != nil {
			return cancelled, fmt.Errorf("alerts.Manager.Reconcile: %s: %w", key, err)
		}
	}
	return cancelled, nil
}

func (m *Manager) reconcileKey(ctx context.Context, key string, group []Instance) (int, error) {
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	keeper := group[0]
	next := keeper
	var carriedFrom string
	cancelled := 0
	for _, dup := range group[1:] {
		next.LastTriggeredAt = latest(next.LastTriggeredAt, dup.LastTriggeredAt)
		if dup.EscalatedAt != nil && (next.EscalatedAt == nil || dup.EscalatedAt.Before(*next.EscalatedAt)) {
			next.EscalatedAt = dup.EscalatedAt
			carriedFrom = dup.ID
		}
		if dup.EscalationLevel > next.EscalationLevel {
			next.EscalationLevel = dup.EscalationLevel
		}
		cancel := dup
		cancel.Status = StatusCancelled
		cancel.PriorStatus = ""
		cancel.SnoozeUntil = nil
		updated, err := m.store.UpdateInstance(ctx, cancel)
		if err != nil {
			return cancelled, err
		}
		m.record(ctx, updated, dup.Status, ActionCancelled, ActorReconcile, "duplicate of "+keeper.ID, nil)
		cancelled++
	}

	// a duplicate that already escalated must not escalate again through the keeper
	if next.EscalatedAt != nil {
		switch {
		case next.Status == StatusPending:
			next.Status = StatusEscalated
		case next.Status == StatusSnoozed && next.PriorStatus == StatusPending:
			next.PriorStatus = StatusEscalated
		}
	}
	changed := next.LastTriggeredAt.After(keeper.LastTriggeredAt) ||
		next.EscalatedAt != keeper.EscalatedAt ||
		next.EscalationLevel != keeper.EscalationLevel ||
		next.Status != keeper.Status ||
		next.PriorStatus != keeper.PriorStatus
	if !changed {
		return cancelled, nil
	}
	updated, err := m.store.UpdateInstance(ctx, next)
	if err != nil {
		return cancelled, err
	}
	if updated.Status != keeper.Status {
		m.record(ctx, updated, keeper.Status, ActionEscalated, ActorReconcile, "escalation carried from "+carriedFrom, nil)
	}
	return cancelled, nil
}
