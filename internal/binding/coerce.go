package binding

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// CoerceValue converts a raw parameter value to the declared type. Values
// that cannot be converted become the type's zero value.
func CoerceValue(t models.ParamType, v any) any {
	switch models.ParamType(strings.ToLower(string(t))) {
	case models.ParamBoolean:
		switch b := v.(type) {
		case bool:
			return b
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "1", "true", "yes", "on":
				return true
			}
			return false
		case nil:
			return false
		default:
			f, ok := toFloat(v)
			return ok && f != 0
		}
	case models.ParamInteger:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return int64(0)
		}
		return int64(f)
	case models.ParamFloat:
		f, ok := toFloat(v)
		if !ok {
			return float64(0)
		}
		return f
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// valuesMatch compares a current execution input with an expected value.
// Link references never match.
func valuesMatch(current, expected any) bool {
	if _, isList := current.([]any); isList {
		return false
	}
	if cf, ok := numeric(current); ok {
		if ef, ok := numeric(expected); ok {
			return cf == ef
		}
	}
	if current == expected {
		return true
	}
	return fmt.Sprint(current) == fmt.Sprint(expected)
}

func numeric(v any) (float64, bool) {
	switch v.(type) {
	case float64, float32, int, int64:
		return toFloat(v)
	}
	return 0, false
}
