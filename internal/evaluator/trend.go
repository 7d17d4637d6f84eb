package evaluator

import (
	"time"

	"carewatch-backend/internal/observations"
	"carewatch-backend/internal/rules"
)

const dayLayout = "2006-01-02"

// DayValue is the value kept for one calendar day.
type DayValue struct {
	Day   string  `json:"day"`
	Value float64 `json:"value"`
}

// DailySeries buckets observations (oldest first) by calendar day in loc,
// keeping the last value recorded each day.
func DailySeries(obs []observations.Observation, loc *time.Location, percent bool) []DayValue {
	series := []DayValue{}
	for _, o := range obs {
		v, err := toFloat(o.Value)
		if err != nil {
			continue
		}
		if percent {
			v = normalizePercent(v)
		}
		day := o.RecordedAt.In(loc).Format(dayLayout)
		if n := len(series); n > 0 && series[n-1].Day == day {
			series[n-1].Value = v
			continue
		}
		series = append(series, DayValue{Day: day, Value: v})
	}
	return series
}

// AnalyzeTrend checks the n calendar days ending at the latest day in series.
// Every day must be present and the values strictly monotonic in the operator's direction.
// It returns the days it inspected alongside the status.
func AnalyzeTrend(op rules.Operator, n int, series []DayValue) (Status, []DayValue) {
	if n <= 0 || len(series) < n {
		return StatusInsufficientData, series
	}

	byDay := make(map[string]float64, len(series))
	for _, dv := range series {
		byDay[dv.Day] = dv.Value
	}
	end, err := time.Parse(dayLayout, series[len(series)-1].Day)
	if err != nil {
		return StatusInsufficientData, nil
	}

	window := make([]DayValue, 0, n)
	for i := n - 1; i >= 0; i-- {
		day := end.AddDate(0, 0, -i).Format(dayLayout)
		v, ok := byDay[day]
		if !ok {
			// a missing day breaks the streak
			return StatusNotTriggered, window
		}
		window = append(window, DayValue{Day: day, Value: v})
	}

	for i := 1; i < len(window); i++ {
		prev, cur := window[i-1].Value, window[i].Value
		switch op {
		case rules.OpTrendIncreasing:
			if cur <= prev {
				return StatusNotTriggered, window
			}
		case rules.OpTrendDecreasing:
			if cur >= prev {
				return StatusNotTriggered, window
			}
		default:
			return StatusNotTriggered, window
		}
	}
	return StatusTriggered, window
}
