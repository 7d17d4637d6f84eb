package security

import "time"

// Limits bound what a single evaluation may read from the clinical store.
type Limits struct {
	MaxQueryDuration time.Duration
	MaxSampleRows    int
	MaxLookback      time.Duration
	MaxSnooze        time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxQueryDuration: 5 * time.Second,
		MaxSampleRows:    500,
		MaxLookback:      45 * 24 * time.Hour,
		MaxSnooze:        7 * 24 * time.Hour,
	}
}

// ClampLookback caps a requested lookback at MaxLookback.
func (l Limits) ClampLookback(d time.Duration) time.Duration {
	if l.MaxLookback > 0 && d > l.MaxLookback {
		return l.MaxLookback
	}
	return d
}
