package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rule-broker/internal/reading"
)

func TestNumericStrategy(t *testing.T) {
	tests := []struct {
		name      string
		observed  string
		op        Operator
		threshold string
		want      bool
	}{
		{"greater than", "10.0", GreaterThan, "9.99", true},
		{"not greater than", "9.99", GreaterThan, "10", false},
		{"less than", "-1", LessThan, "0", true},
		{"equals", "42", Equals, "42.0", true},
		{"exact equality has no tolerance", "0.30000000000000004", Equals, "0.3", false},
		{"not equals", "1", NotEquals, "2", true},
		{"whitespace is trimmed", " 5 ", Equals, "5", true},
		{"unparsable observed", "abc", Equals, "1", false},
		{"unparsable threshold", "1", Equals, "one", false},
		{"text operator", "10", Contains, "1", false},
		{"starts with unsupported", "10", StartsWith, "1", false},
	}

	s := NumericStrategy{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Evaluate(tt.observed, tt.op, tt.threshold, false))
		})
	}
}

func TestBooleanStrategy(t *testing.T) {
	tests := []struct {
		name      string
		observed  string
		op        Operator
		threshold string
		want      bool
	}{
		{"equals", "true", Equals, "true", true},
		{"case insensitive literals", "TRUE", Equals, "true", true},
		{"not equals", "false", NotEquals, "true", true},
		{"equals mismatch", "false", Equals, "true", false},
		{"numeric literal rejected", "1", Equals, "true", false},
		{"unparsable threshold", "true", Equals, "yes", false},
		{"ordering unsupported", "true", GreaterThan, "false", false},
		{"contains unsupported", "true", Contains, "t", false},
	}

	s := BooleanStrategy{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Evaluate(tt.observed, tt.op, tt.threshold, false))
		})
	}
}

func TestTextStrategy(t *testing.T) {
	tests := []struct {
		name       string
		observed   string
		op         Operator
		threshold  string
		ignoreCase bool
		want       bool
	}{
		{"contains", "Door", Contains, "oo", false, true},
		{"equals ignoring case", "DOOR", Equals, "door", true, true},
		{"equals case sensitive", "DOOR", Equals, "door", false, false},
		{"not equals", "open", NotEquals, "closed", false, true},
		{"not equals ignoring case", "OPEN", NotEquals, "open", true, false},
		{"starts with", "kitchen-light", StartsWith, "kitchen", false, true},
		{"starts with ignoring case", "Kitchen-light", StartsWith, "KITCHEN", true, true},
		{"ends with", "kitchen-light", EndsWith, "light", false, true},
		{"ends with mismatch", "kitchen-light", EndsWith, "Light", false, false},
		{"empty values", "", Equals, "", false, true},
		{"ordering unsupported", "b", GreaterThan, "a", false, false},
		{"non-ascii fold", "ÄRGER", Equals, "ärger", true, true},
		{"invalid utf8 bytes differ", "\xff", Equals, "\xfe", true, false},
		{"invalid utf8 not equals", "\xff", NotEquals, "\xfe", true, true},
		{"invalid utf8 contains", "a\xffb", Contains, "\xfe", true, false},
		{"invalid utf8 same bytes", "\xff", Equals, "\xff", true, true},
	}

	s := TextStrategy{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Evaluate(tt.observed, tt.op, tt.threshold, tt.ignoreCase))
		})
	}
}

func TestStrategyRegistry(t *testing.T) {
	reg := DefaultStrategies()

	assert.True(t, reg.Evaluate(reading.Numeric, "150", Condition{Operator: GreaterThan, ThresholdValue: "100"}))
	assert.True(t, reg.Evaluate(reading.Text, "Alarm", Condition{Operator: Equals, ThresholdValue: "ALARM", IgnoreCase: true}))
	assert.False(t, reg.Evaluate(reading.Boolean, "true", Condition{Operator: Contains, ThresholdValue: "t"}))

	// A type without a strategy is not met
	assert.False(t, reg.Evaluate("Location", "x", Condition{Operator: Equals, ThresholdValue: "x"}))
	delete(reg, reading.Numeric)
	assert.False(t, reg.Evaluate(reading.Numeric, "1", Condition{Operator: Equals, ThresholdValue: "1"}))
}
