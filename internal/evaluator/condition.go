package evaluator

import (
	"fmt"
	"sort"
	"time"

	"carewatch-backend/internal/observations"
	"carewatch-backend/internal/rules"
)

// Window is the already-fetched data a rule is evaluated against.
type Window struct {
	Now          time.Time
	Location     *time.Location
	EnrolledAt   time.Time
	Observations map[string][]observations.Observation
}

// EvaluateCondition applies one condition to the observations of its metric.
// It never fails: missing or unusable data yields StatusInsufficientData.
func EvaluateCondition(cond rules.Condition, obs []observations.Observation, w Window) Evidence {
	ev := Evidence{Condition: cond.Name, MetricKey: cond.MetricKey, Operator: cond.Operator}
	ordered := sortedAscending(obs, w.Now)

	switch {
	case cond.ValueType() == rules.ValueDuration:
		return evaluateDuration(ev, cond, ordered, w)
	case cond.Operator.IsTrend():
		return evaluateTrend(ev, cond, ordered, w)
	}

	inWindow := ordered
	if cond.TimeWindow > 0 {
		inWindow = since(ordered, w.Now.Add(-cond.TimeWindow))
	} else if len(ordered) > 0 {
		inWindow = ordered[len(ordered)-1:]
	}

	if cond.ValueType() == rules.ValueCategorical {
		return evaluateCategorical(ev, cond, inWindow)
	}
	return evaluateNumeric(ev, cond, inWindow)
}

func evaluateNumeric(ev Evidence, cond rules.Condition, obs []observations.Observation) Evidence {
	percent := cond.ValueType() == rules.ValuePercentage
	target := cond.Threshold
	if percent {
		target = normalizePercent(target)
	}
	ev.LimitExpr = fmt.Sprintf("%s %v", symbol(cond.Operator), target)

	type point struct {
		value float64
		at    time.Time
	}
	points := make([]point, 0, len(obs))
	for _, o := range obs {
		v, err := toFloat(o.Value)
		if err != nil {
			continue
		}
		if percent {
			v = normalizePercent(v)
		}
		points = append(points, point{value: v, at: o.RecordedAt})
	}
	if len(points) == 0 {
		ev.Status = StatusInsufficientData
		return ev
	}

	latest := points[len(points)-1]
	ev.Observed = fmt.Sprint(latest.value)
	ev.ObservedAt = timePtr(latest.at)

	if cond.Occurrences > 1 {
		count := 0
		for _, p := range points {
			if compareNumber(cond.Operator, p.value, target) {
				count++
			}
		}
		ev.Count = count
		ev.Required = cond.Occurrences
		ev.Status = statusFor(count >= cond.Occurrences)
		return ev
	}
	ev.Status = statusFor(compareNumber(cond.Operator, latest.value, target))
	return ev
}

func evaluateCategorical(ev Evidence, cond rules.Condition, obs []observations.Observation) Evidence {
	ev.LimitExpr = fmt.Sprintf("%s %s", symbol(cond.Operator), cond.Value)

	type point struct {
		value string
		at    time.Time
	}
	points := make([]point, 0, len(obs))
	for _, o := range obs {
		v, ok := toCategory(o.Value)
		if !ok {
			continue
		}
		points = append(points, point{value: v, at: o.RecordedAt})
	}
	if len(points) == 0 {
		ev.Status = StatusInsufficientData
		return ev
	}

	latest := points[len(points)-1]
	ev.Observed = latest.value
	ev.ObservedAt = timePtr(latest.at)

	if cond.Occurrences > 1 {
		count := 0
		for _, p := range points {
			if compareCategory(cond.Operator, p.value, cond.Value) {
				count++
			}
		}
		ev.Count = count
		ev.Required = cond.Occurrences
		ev.Status = statusFor(count >= cond.Occurrences)
		return ev
	}
	ev.Status = statusFor(compareCategory(cond.Operator, latest.value, cond.Value))
	return ev
}

func evaluateDuration(ev Evidence, cond rules.Condition, obs []observations.Observation, w Window) Evidence {
	limit := time.Duration(cond.Threshold * float64(cond.Unit.Duration()))
	ev.LimitExpr = fmt.Sprintf("no %s for %s %v %s", cond.MetricKey, symbol(cond.Operator), cond.Threshold, cond.Unit)

	var last time.Time
	from := "observation"
	if len(obs) > 0 {
		last = obs[len(obs)-1].RecordedAt
	} else if !w.EnrolledAt.IsZero() {
		last = w.EnrolledAt
		from = "enrollment"
	} else {
		ev.Status = StatusInsufficientData
		return ev
	}

	elapsed := w.Now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	ev.ObservedAt = timePtr(last)
	ev.Observed = elapsed.Round(time.Minute).String()
	ev.Metadata = map[string]any{"elapsedHours": elapsed.Hours(), "since": from}

	var hit bool
	if cond.Operator == rules.OpGreaterThan {
		hit = elapsed > limit
	} else {
		hit = elapsed >= limit
	}
	ev.Status = statusFor(hit)
	return ev
}

func evaluateTrend(ev Evidence, cond rules.Condition, obs []observations.Observation, w Window) Evidence {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	series := DailySeries(obs, loc, cond.ValueType() == rules.ValuePercentage)
	direction := "increasing"
	if cond.Operator == rules.OpTrendDecreasing {
		direction = "decreasing"
	}
	ev.LimitExpr = fmt.Sprintf("strictly %s for %d consecutive days", direction, cond.ConsecutiveDays)

	status, window := AnalyzeTrend(cond.Operator, cond.ConsecutiveDays, series)
	ev.Status = status
	ev.Days = window
	ev.Count = len(window)
	ev.Required = cond.ConsecutiveDays
	if len(window) > 0 {
		ev.Observed = fmt.Sprint(window[len(window)-1].Value)
	}
	if len(obs) > 0 {
		ev.ObservedAt = timePtr(obs[len(obs)-1].RecordedAt)
	}
	return ev
}

func statusFor(hit bool) Status {
	if hit {
		return StatusTriggered
	}
	return StatusNotTriggered
}

// sortedAscending copies obs ordered oldest first, dropping anything recorded after now.
func sortedAscending(obs []observations.Observation, now time.Time) []observations.Observation {
	out := make([]observations.Observation, 0, len(obs))
	for _, o := range obs {
		if !now.IsZero() && o.RecordedAt.After(now) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out
}

func since(obs []observations.Observation, start time.Time) []observations.Observation {
	idx := sort.Search(len(obs), func(i int) bool { return obs[i].RecordedAt.After(start) })
	return obs[idx:]
}

func timePtr(t time.Time) *time.Time {
	return &t
}
