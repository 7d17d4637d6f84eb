package rules

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var shortDurationRe = regexp.MustCompile(`^([0-9]+)\s*(s|m|h|d|w)$`)

// ParseDuration accepts Go durations plus day and week suffixes ("7d", "2w").
func ParseDuration(raw string) (time.Duration, error) {
	clean := strings.TrimSpace(strings.ToLower(raw))
	if clean == "" {
		return 0, errors.New("empty duration")
	}
	if match := shortDurationRe.FindStringSubmatch(clean); len(match) == 3 {
		n, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("duration %q out of range", raw)
		}
		unit := map[string]time.Duration{
			"s": time.Second,
			"m": time.Minute,
			"h": time.Hour,
			"d": 24 * time.Hour,
			"w": 7 * 24 * time.Hour,
		}[match[2]]
		if n > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("duration %q out of range", raw)
		}
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(clean)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

type DurationUnit string

const (
	UnitHours DurationUnit = "hours"
	UnitDays  DurationUnit = "days"
)

func ParseUnit(raw string) (DurationUnit, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "h", "hour", "hours":
		return UnitHours, true
	case "d", "day", "days":
		return UnitDays, true
	default:
		return "", false
	}
}

func (u DurationUnit) Duration() time.Duration {
	if u == UnitDays {
		return 24 * time.Hour
	}
	return time.Hour
}
