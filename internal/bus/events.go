package bus

import (
	"context"
	"time"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/pkg/log"
)

// AlertEvent is the payload of every alerts.* subject.
type AlertEvent struct {
	Action     alerts.Action           `json:"action"`
	FromStatus alerts.Status           `json:"fromStatus,omitempty"`
	Actor      string                  `json:"actor"`
	At         time.Time               `json:"at"`
	Instance   alerts.Instance         `json:"instance"`
	Escalation *alerts.EscalationEvent `json:"escalation,omitempty"`
}

// AlertObserver publishes audited alert changes. It implements alerts.Observer.
type AlertObserver struct {
	publisher *Publisher
	logger    log.Logger
}

func NewAlertObserver(p *Publisher, logger log.Logger) *AlertObserver {
	return &AlertObserver{publisher: p, logger: logger}
}

func SubjectFor(action alerts.Action) string {
	switch action {
	case alerts.ActionCreated:
		return SubjectAlertCreated
	case alerts.ActionEscalated:
		return SubjectAlertEscalated
	default:
		return SubjectAlertTransitioned
	}
}

func (o *AlertObserver) Transitioned(ctx context.Context, inst alerts.Instance, entry alerts.AuditEntry) {
	if entry.Action == alerts.ActionSuppressed {
		return
	}
	evt := AlertEvent{
		Action:     entry.Action,
		FromStatus: entry.FromStatus,
		Actor:      entry.Actor,
		At:         entry.At,
		Instance:   inst,
	}
	if entry.Action == alerts.ActionEscalated {
		evt.Escalation = &alerts.EscalationEvent{AlertInstanceID: inst.ID, EscalationLevel: inst.EscalationLevel, OccurredAt: entry.At}
	}
	if err := o.publisher.PublishJSON(SubjectFor(entry.Action), evt); err != nil {
		o.logger.Warnf(ctx, "bus.AlertObserver.Transitioned: alert=%s action=%s: %v", inst.ID, entry.Action, err)
	}
}
