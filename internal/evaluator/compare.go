package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"carewatch-backend/internal/rules"
)

const defaultEpsilon = 1e-9

func compareNumber(op rules.Operator, value, target float64) bool {
	switch op {
	case rules.OpGreaterThan:
		return value > target
	case rules.OpGreaterThanOrEqual:
		return value >= target
	case rules.OpLessThan:
		return value < target
	case rules.OpLessThanOrEqual:
		return value <= target
	case rules.OpEqual:
		return math.Abs(value-target) <= defaultEpsilon
	case rules.OpNotEqual:
		return math.Abs(value-target) > defaultEpsilon
	default:
		return false
	}
}

func compareCategory(op rules.Operator, value, target string) bool {
	equal := strings.EqualFold(strings.TrimSpace(value), target)
	switch op {
	case rules.OpEqual:
		return equal
	case rules.OpNotEqual:
		return !equal
	default:
		return false
	}
}

func symbol(op rules.Operator) string {
	switch op {
	case rules.OpGreaterThan:
		return ">"
	case rules.OpGreaterThanOrEqual:
		return ">="
	case rules.OpLessThan:
		return "<"
	case rules.OpLessThanOrEqual:
		return "<="
	case rules.OpEqual:
		return "=="
	case rules.OpNotEqual:
		return "!="
	default:
		return string(op)
	}
}

// normalizePercent maps 0-100 inputs onto the 0-1 scale.
func normalizePercent(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

func toFloat(val any) (float64, error) {
	var out float64
	switch t := val.(type) {
	case float64:
		out = t
	case float32:
		out = float64(t)
	case int:
		out = float64(t)
	case int64:
		out = float64(t)
	case int32:
		out = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		out = f
	case []byte:
		return toFloat(string(t))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, err
		}
		out = f
	default:
		return 0, fmt.Errorf("unsupported type %T", val)
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, fmt.Errorf("non-finite value")
	}
	return out, nil
}

func toCategory(val any) (string, bool) {
	switch t := val.(type) {
	case string:
		return t, t != ""
	case []byte:
		return string(t), len(t) > 0
	case nil:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}
