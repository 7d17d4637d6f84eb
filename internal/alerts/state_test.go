package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"carewatch-backend/internal/rules"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusAcknowledged},
		{StatusPending, StatusResolved},
		{StatusAcknowledged, StatusResolved},
		{StatusPending, StatusEscalated},
		{StatusAcknowledged, StatusEscalated},
		{StatusEscalated, StatusAcknowledged},
		{StatusEscalated, StatusResolved},
		{StatusEscalated, StatusCancelled},
		{StatusSnoozed, StatusCancelled},
		{StatusPending, StatusSnoozed},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
	denied := []struct{ from, to Status }{
		{StatusResolved, StatusAcknowledged},
		{StatusCancelled, StatusPending},
		{StatusAcknowledged, StatusPending},
		{StatusEscalated, StatusEscalated},
		{StatusSnoozed, StatusAcknowledged},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSLAPolicyIsTotal(t *testing.T) {
	p := DefaultSLAPolicy()
	for _, sev := range rules.Severities() {
		assert.NotPanics(t, func() { p.BreachTime(sev, t0) }, string(sev))
	}
	assert.Equal(t, t0.Add(5*time.Minute), *p.BreachTime(rules.SeverityCritical, t0))
	assert.Equal(t, t0.Add(2*time.Hour), *p.BreachTime(rules.SeverityHigh, t0))
	assert.Equal(t, t0.Add(24*time.Hour), *p.BreachTime(rules.SeverityMedium, t0))
	assert.Nil(t, p.BreachTime(rules.SeverityLow, t0))
	assert.Panics(t, func() { p.Window(rules.Severity("URGENT")) })
}

func TestWithinCooldown(t *testing.T) {
	assert.True(t, WithinCooldown(t0, t0.Add(59*time.Minute), time.Hour))
	assert.False(t, WithinCooldown(t0, t0.Add(time.Hour), time.Hour))
	assert.False(t, WithinCooldown(t0, t0.Add(time.Second), 0))
}

func TestTransitionErrorMessage(t *testing.T) {
	err := checkTransition(StatusResolved, StatusAcknowledged)
	assert.EqualError(t, err, "cannot move alert from RESOLVED to ACKNOWLEDGED (allowed: )")
}
