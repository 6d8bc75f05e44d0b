package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/woolane/journey/pkg/models"
)

// EvaluateCondition tests a subject's live attributes against a
// condition node's field/operator/value. A missing attribute takes the
// false branch; only an unknown operator is an error.
func EvaluateCondition(cfg *models.ConditionConfig, attributes map[string]any) (bool, error) {
	actual, ok := attributes[cfg.Field]
	if !ok {
		return false, nil
	}

	switch cfg.Operator {
	case "=", "==":
		return equal(actual, cfg.Value), nil
	case "!=":
		return !equal(actual, cfg.Value), nil
	case ">", ">=", "<", "<=":
		return compareNumeric(cfg.Operator, actual, cfg.Value)
	case "contains":
		return contains(actual, cfg.Value), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, cfg.Operator)
	}
}

// equal compares numerically when both sides coerce to numbers, and
// by string form otherwise, so "100" and 100.0 compare equal across
// JSON round trips.
func equal(a, b any) bool {
	aNum, aOK := toFloat(a)
	bNum, bOK := toFloat(b)

	if aOK && bOK {
		return aNum == bNum
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareNumeric(operator string, actual, expected any) (bool, error) {
	aNum, aOK := toFloat(actual)
	bNum, bOK := toFloat(expected)

	if !aOK || !bOK {
		return false, nil
	}

	switch operator {
	case ">":
		return aNum > bNum, nil
	case ">=":
		return aNum >= bNum, nil
	case "<":
		return aNum < bNum, nil
	case "<=":
		return aNum <= bNum, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, operator)
	}
}

// contains checks substring membership for strings and element
// membership for slices.
func contains(actual, expected any) bool {
	want := fmt.Sprintf("%v", expected)

	switch v := actual.(type) {
	case string:
		return strings.Contains(v, want)
	case []any:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if item == want {
				return true
			}
		}

		return false
	default:
		return strings.Contains(fmt.Sprintf("%v", actual), want)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}
