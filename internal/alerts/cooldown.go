package alerts

import "time"

func WithinCooldown(last, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return false
	}
	return now.Sub(last) < cooldown
}
