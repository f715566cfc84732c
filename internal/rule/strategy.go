package rule

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"rule-broker/internal/reading"
)

// Strategy evaluates conditions for one value type. Unparsable input and
// unsupported operators yield false.
type Strategy interface {
	Evaluate(observed string, op Operator, threshold string, ignoreCase bool) bool
}

// StrategyRegistry maps a value type to its comparison strategy
type StrategyRegistry map[reading.ValueType]Strategy

// DefaultStrategies returns the numeric, boolean and text strategies
func DefaultStrategies() StrategyRegistry {
	return StrategyRegistry{
		reading.Numeric: NumericStrategy{},
		reading.Boolean: BooleanStrategy{},
		reading.Text:    TextStrategy{},
	}
}

// Evaluate resolves the strategy for vt; no strategy means not met
func (r StrategyRegistry) Evaluate(vt reading.ValueType, observed string, c Condition) bool {
	s, ok := r[vt]
	if !ok || s == nil {
		return false
	}
	return s.Evaluate(observed, c.Operator, c.ThresholdValue, c.IgnoreCase)
}

// NumericStrategy compares float64 values exactly, without tolerance
type NumericStrategy struct{}

func (NumericStrategy) Evaluate(observed string, op Operator, threshold string, _ bool) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(observed), 64)
	if err != nil {
		return false
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(threshold), 64)
	if err != nil {
		return false
	}

	switch op {
	case GreaterThan:
		return v > t
	case LessThan:
		return v < t
	case Equals:
		return v == t
	case NotEquals:
		return v != t
	default:
		return false
	}
}

// BooleanStrategy accepts only the literals true and false, in any case
type BooleanStrategy struct{}

func parseBoolLiteral(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func (BooleanStrategy) Evaluate(observed string, op Operator, threshold string, _ bool) bool {
	v, ok := parseBoolLiteral(observed)
	if !ok {
		return false
	}
	t, ok := parseBoolLiteral(threshold)
	if !ok {
		return false
	}

	switch op {
	case Equals:
		return v == t
	case NotEquals:
		return v != t
	default:
		return false
	}
}

// TextStrategy compares ordinally, case-folded when ignoreCase is set.
// Input that is not valid UTF-8 is always compared byte for byte.
type TextStrategy struct{}

func (TextStrategy) Evaluate(observed string, op Operator, threshold string, ignoreCase bool) bool {
	fold := ignoreCase && utf8.ValidString(observed) && utf8.ValidString(threshold)

	switch op {
	case Equals:
		return textEqual(observed, threshold, fold)
	case NotEquals:
		return !textEqual(observed, threshold, fold)
	}

	if fold {
		observed = strings.ToUpper(observed)
		threshold = strings.ToUpper(threshold)
	}
	switch op {
	case Contains:
		return strings.Contains(observed, threshold)
	case StartsWith:
		return strings.HasPrefix(observed, threshold)
	case EndsWith:
		return strings.HasSuffix(observed, threshold)
	default:
		return false
	}
}

func textEqual(a, b string, fold bool) bool {
	if fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}
