package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"carewatch-backend/internal/observations"
	"carewatch-backend/internal/rules"
)

func dailyObs(metric string, end time.Time, values ...float64) []observations.Observation {
	out := make([]observations.Observation, 0, len(values))
	start := end.AddDate(0, 0, -(len(values) - 1))
	for i, v := range values {
		out = append(out, obs(metric, v, start.AddDate(0, 0, i)))
	}
	return out
}

func trendRule(t *testing.T, op string, days int) rules.Rule {
	return compile(t, rules.Definition{Severity: "MEDIUM", ConditionDefinition: rules.ConditionDefinition{
		Condition: "weight_kg", Operator: op, ConsecutiveDays: days,
	}})
}

func TestTrendIncreasingTriggers(t *testing.T) {
	rule := trendRule(t, "trend_increasing", 4)
	res := Evaluate(rule, window(t0, dailyObs("weight_kg", t0, 80, 80.5, 81, 81.8)...))
	assert.Equal(t, StatusTriggered, res.Status)
	assert.Len(t, res.Evidence[0].Days, 4)
}

func TestTrendAnyNonIncreasingDayBlocks(t *testing.T) {
	rule := trendRule(t, "trend_increasing", 4)
	base := []float64{80, 81, 82, 83}
	for i := 1; i < len(base); i++ {
		values := append([]float64(nil), base...)
		values[i] = values[i-1]
		res := Evaluate(rule, window(t0, dailyObs("weight_kg", t0, values...)...))
		assert.Equal(t, StatusNotTriggered, res.Status, "flat day at %d", i)
	}
}

func TestTrendDecreasing(t *testing.T) {
	rule := trendRule(t, "trend_decreasing", 3)
	res := Evaluate(rule, window(t0, dailyObs("weight_kg", t0, 90, 85, 84)...))
	assert.Equal(t, StatusTriggered, res.Status)

	res = Evaluate(rule, window(t0, dailyObs("weight_kg", t0, 90, 85, 86)...))
	assert.Equal(t, StatusNotTriggered, res.Status)
}

func TestTrendMissingDayBreaksStreak(t *testing.T) {
	rule := trendRule(t, "trend_increasing", 3)
	items := []observations.Observation{
		obs("weight_kg", 80.0, t0.AddDate(0, 0, -3)),
		obs("weight_kg", 81.0, t0.AddDate(0, 0, -2)),
		obs("weight_kg", 83.0, t0),
	}
	res := Evaluate(rule, window(t0, items...))
	assert.Equal(t, StatusNotTriggered, res.Status)
}

func TestTrendTooFewDays(t *testing.T) {
	rule := trendRule(t, "trend_increasing", 5)
	res := Evaluate(rule, window(t0, dailyObs("weight_kg", t0, 80, 81, 82)...))
	assert.Equal(t, StatusInsufficientData, res.Status)
	assert.False(t, res.Triggered())
}

func TestTrendUsesLastValuePerDay(t *testing.T) {
	loc := time.UTC
	items := []observations.Observation{
		obs("weight_kg", 80.0, t0.AddDate(0, 0, -1)),
		obs("weight_kg", 79.0, t0.Add(-2*time.Hour)),
		obs("weight_kg", 82.0, t0.Add(-time.Hour)),
	}
	series := DailySeries(sortedAscending(items, t0), loc, false)
	assert.Equal(t, []DayValue{{Day: "2026-03-09", Value: 80}, {Day: "2026-03-10", Value: 82}}, series)

	status, _ := AnalyzeTrend(rules.OpTrendIncreasing, 2, series)
	assert.Equal(t, StatusTriggered, status)
}

func TestTrendEndsAtLatestDayWithData(t *testing.T) {
	rule := trendRule(t, "trend_increasing", 3)
	yesterday := t0.AddDate(0, 0, -1)
	res := Evaluate(rule, window(t0, dailyObs("weight_kg", yesterday, 70, 71, 72)...))
	assert.Equal(t, StatusTriggered, res.Status)
	assert.Equal(t, "2026-03-09", res.Evidence[0].Days[2].Day)
}
