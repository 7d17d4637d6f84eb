package alerts

import (
	"fmt"
	"time"

	"carewatch-backend/internal/rules"
)

// SLAPolicy maps severity to the acknowledgement deadline. LOW never breaches.
type SLAPolicy struct {
	Critical time.Duration
	High     time.Duration
	Medium   time.Duration
}

func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{Critical: 5 * time.Minute, High: 2 * time.Hour, Medium: 24 * time.Hour}
}

// Window returns the SLA for sev and false when the severity has none.
func (p SLAPolicy) Window(sev rules.Severity) (time.Duration, bool) {
	switch sev {
	case rules.SeverityCritical:
		return p.Critical, true
	case rules.SeverityHigh:
		return p.High, true
	case rules.SeverityMedium:
		return p.Medium, true
	case rules.SeverityLow:
		return 0, false
	}
	panic(fmt.Sprintf("alerts: unhandled severity %q", string(sev)))
}

func (p SLAPolicy) BreachTime(sev rules.Severity, triggeredAt time.Time) *time.Time {
	d, ok := p.Window(sev)
	if !ok {
		return nil
	}
	t := triggeredAt.Add(d)
	return &t
}
