package escalation

import (
	"context"
	"fmt"
	"time"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/metrics"
	"carewatch-backend/internal/rules"
	"carewatch-backend/pkg/log"
)

type RuleLookup interface {
	Get(id string) (rules.Rule, bool)
}

// Scheduler escalates instances whose SLA has passed without acknowledgement.
type Scheduler struct {
	manager  *alerts.Manager
	rules    RuleLookup
	notifier alerts.Notifier
	interval time.Duration
	now      func() time.Time
	logger   log.Logger
}

func NewScheduler(manager *alerts.Manager, lookup RuleLookup, notifier alerts.Notifier, interval time.Duration, now func() time.Time, logger log.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{manager: manager, rules: lookup, notifier: notifier, interval: interval, now: now, logger: logger}
}

// Sweep escalates every due instance once. Only instances this call moved to
// ESCALATED produce an event, so repeated or concurrent sweeps never double-notify.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) ([]alerts.EscalationEvent, error) {
	if _, err := s.manager.Reconcile(ctx); err != nil {
		s.logger.Warnf(ctx, "escalation.Scheduler.Sweep: reconcile: %v", err)
	}
	due, err := s.manager.DueForEscalation(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("escalation.Scheduler.Sweep: %w", err)
	}
	events := make([]alerts.EscalationEvent, 0)
	for _, inst := range due {
		var rule *rules.Rule
		if r, ok := s.rules.Get(inst.RuleID); ok {
			if !r.Actions.Escalates() {
				continue
			}
			rule = &r
		}
		escalated, won, err := s.manager.Escalate(ctx, inst, now)
		if err != nil {
			s.logger.Errorf(ctx, "escalation.Scheduler.Sweep: alert=%s: %v", inst.ID, err)
			continue
		}
		if !won {
			continue
		}
		metrics.Escalations.Inc()
		events = append(events, alerts.EscalationEvent{
			AlertInstanceID: escalated.ID,
			EscalationLevel: escalated.EscalationLevel,
			OccurredAt:      now,
		})
		if s.notifier != nil {
			s.notifier.Notify(ctx, alerts.Notice{Kind: alerts.NoticeEscalated, Instance: escalated, Rule: rule})
		}
	}
	return events, nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			events, err := s.Sweep(ctx, s.now())
			if err != nil {
				s.logger.Errorf(ctx, "escalation.Scheduler.Run: %v", err)
				continue
			}
			if len(events) > 0 {
				s.logger.Infof(ctx, "escalation.Scheduler.Run: escalated %d alerts", len(events))
			}
		}
	}
}
