package rule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rule-broker/internal/logger"
	"rule-broker/internal/metrics"
	"rule-broker/internal/reading"
	"rule-broker/internal/stats"
)

func named(names ...string) []Action {
	out := make([]Action, len(names))
	for i, n := range names {
		out[i] = Action{Type: ActionWebHook, Name: n, WebHook: &WebHook{URL: "http://example.invalid", Method: "POST"}}
	}
	return out
}

func setupTestEngine(t *testing.T, rules *staticRules, lookup *countingLookup) (*Engine, *recordingExecutor, *stats.StatsCollector) {
	t.Helper()
	exec := &recordingExecutor{}
	st := stats.NewStatsCollector()
	e := NewEngine(rules, lookup, exec, logger.NewNop(), newMockMetrics(), st)
	return e, exec, st
}

func numericReading(device, value string) reading.Reading {
	return reading.Reading{DeviceID: device, Type: reading.Numeric, Value: value, Timestamp: time.Now()}
}

func TestEngineAllShortCircuits(t *testing.T) {
	r := &Rule{
		ID:              "r1",
		ClientID:        "c1",
		LogicalOperator: All,
		IsActive:        true,
		Conditions: []Condition{
			{DeviceID: "d1", Operator: GreaterThan, ThresholdValue: "100"},
			{DeviceID: "d2", Operator: Equals, ThresholdValue: "true"},
		},
		Actions: named("notify"),
	}
	lookup := newCountingLookup(reading.Reading{DeviceID: "d2", Type: reading.Boolean, Value: "true"})
	rules := newStaticRules(r)
	e, exec, _ := setupTestEngine(t, rules, lookup)

	e.EvaluateAndTrigger(context.Background(), "c1", numericReading("d1", "50"))

	assert.Equal(t, 0, lookup.total(), "second condition must not be looked up")
	assert.Empty(t, exec.names())
	assert.Equal(t, 0, rules.triggerCount("r1"))
}

func TestEngineAnyScenario(t *testing.T) {
	r := &Rule{
		ID:              "r1",
		ClientID:        "c1",
		Name:            "hot or open",
		LogicalOperator: Any,
		IsActive:        true,
		Conditions: []Condition{
			{DeviceID: "d1", Operator: GreaterThan, ThresholdValue: "100"},
			{DeviceID: "d2", Operator: Equals, ThresholdValue: "true"},
		},
		Actions: named("first", "second", "third"),
	}
	lookup := newCountingLookup()
	rules := newStaticRules(r)
	e, exec, st := setupTestEngine(t, rules, lookup)

	before := time.Now().UTC()
	e.EvaluateAndTrigger(context.Background(), "c1", numericReading("d1", "150"))

	assert.Equal(t, 0, lookup.calls["d1"], "reporting device is read from the incoming reading")
	assert.Equal(t, 0, lookup.total(), "any short-circuits on the first true condition")
	require.Equal(t, 1, rules.triggerCount("r1"))
	assert.False(t, rules.triggered["r1"][0].Before(before))
	assert.Equal(t, []string{"first", "second", "third"}, exec.names())

	for _, a := range exec.executed {
		assert.Equal(t, "c1", a.clientID)
		assert.Equal(t, "150", a.trigger.Value)
		assert.Equal(t, "r1", a.ruleID)
	}
	assert.Equal(t, uint64(1), st.RulesTriggered)
	assert.Equal(t, uint64(3), st.ActionsExecuted)
}

func TestEngineZeroConditions(t *testing.T) {
	tests := []struct {
		name    string
		op      LogicalOperator
		trigger bool
	}{
		{"all is vacuously true", All, true},
		{"any is vacuously false", Any, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Rule{ID: "r1", ClientID: "c1", LogicalOperator: tt.op, IsActive: true, Actions: named("a")}
			e, exec, _ := setupTestEngine(t, newStaticRules(), newCountingLookup())

			triggered := e.evaluate(context.Background(), "c1", numericReading("d1", "1"), r)
			assert.Equal(t, tt.trigger, triggered)
			assert.Empty(t, exec.names())
		})
	}
}

func TestEngineCrossDeviceLookup(t *testing.T) {
	r := &Rule{
		ID:              "r1",
		ClientID:        "c1",
		LogicalOperator: All,
		IsActive:        true,
		Conditions: []Condition{
			{DeviceID: "d1", Operator: GreaterThan, ThresholdValue: "20"},
			{DeviceID: "window", Operator: Equals, ThresholdValue: "false"},
		},
		Actions: named("close"),
	}

	tests := []struct {
		name    string
		lookup  *countingLookup
		trigger bool
	}{
		{
			name:    "other device satisfies",
			lookup:  newCountingLookup(reading.Reading{DeviceID: "window", Type: reading.Boolean, Value: "false"}),
			trigger: true,
		},
		{
			name:    "other device does not satisfy",
			lookup:  newCountingLookup(reading.Reading{DeviceID: "window", Type: reading.Boolean, Value: "true"}),
			trigger: false,
		},
		{
			name:    "other device never reported",
			lookup:  newCountingLookup(),
			trigger: false,
		},
		{
			name:    "lookup error is not met",
			lookup:  &countingLookup{latest: map[string]reading.Reading{}, calls: map[string]int{}, failWith: errors.New("store down")},
			trigger: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := newStaticRules(r)
			e, exec, _ := setupTestEngine(t, rules, tt.lookup)

			e.EvaluateAndTrigger(context.Background(), "c1", numericReading("d1", "25"))

			assert.Equal(t, 1, tt.lookup.calls["window"])
			if tt.trigger {
				assert.Equal(t, []string{"close"}, exec.names())
				assert.Equal(t, 1, rules.triggerCount("r1"))
			} else {
				assert.Empty(t, exec.names())
				assert.Equal(t, 0, rules.triggerCount("r1"))
			}
		})
	}
}

func TestEngineFiltersCandidates(t *testing.T) {
	inactive := &Rule{
		ID: "inactive", ClientID: "c1", LogicalOperator: All, IsActive: false,
		Conditions: []Condition{{DeviceID: "d1", Operator: GreaterThan, ThresholdValue: "0"}},
		Actions:    named("inactive"),
	}
	unrelated := &Rule{
		ID: "unrelated", ClientID: "c1", LogicalOperator: All, IsActive: true,
		Conditions: []Condition{{DeviceID: "d9", Operator: GreaterThan, ThresholdValue: "0"}},
		Actions:    named("unrelated"),
	}
	foreign := &Rule{
		ID: "foreign", ClientID: "c2", LogicalOperator: All, IsActive: true,
		Conditions: []Condition{{DeviceID: "d1", Operator: GreaterThan, ThresholdValue: "0"}},
		Actions:    named("foreign"),
	}
	rules := newStaticRules(inactive, unrelated, foreign)
	lookup := newCountingLookup()
	e, exec, st := setupTestEngine(t, rules, lookup)

	e.EvaluateAndTrigger(context.Background(), "c1", numericReading("d1", "5"))

	assert.Empty(t, exec.names())
	assert.Equal(t, 0, lookup.total())
	assert.Equal(t, uint64(0), st.RulesEvaluated)
}

func TestEngineActionFailuresDoNotStopLoop(t *testing.T) {
	r := &Rule{
		ID: "r1", ClientID: "c1", LogicalOperator: All, IsActive: true,
		Conditions: []Condition{{DeviceID: "d1", Operator: LessThan, ThresholdValue: "10"}},
		Actions:    named("ok-1", "fails", "panics", "ok-2"),
	}
	exec := &recordingExecutor{
		fail:   map[string]bool{"fails": true},
		panics: map[string]bool{"panics": true},
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)
	st := stats.NewStatsCollector()
	e := NewEngine(newStaticRules(r), newCountingLookup(), exec, logger.NewNop(), m, st)

	assert.NotPanics(t, func() {
		e.EvaluateAndTrigger(context.Background(), "c1", numericReading("d1", "3"))
	})

	assert.Equal(t, []string{"ok-1", "fails", "panics", "ok-2"}, exec.names())
	assert.Equal(t, uint64(4), st.ActionsExecuted)
	assert.Equal(t, uint64(2), st.ActionErrors)
	expected := `
# HELP rule_broker_actions_total Executed rule actions by type and outcome
# TYPE rule_broker_actions_total counter
rule_broker_actions_total{status="error",type="webhook"} 2
rule_broker_actions_total{status="success",type="webhook"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "rule_broker_actions_total"))
}

func TestEngineStoreFailuresAreAbsorbed(t *testing.T) {
	r := &Rule{
		ID: "r1", ClientID: "c1", LogicalOperator: All, IsActive: true,
		Conditions: []Condition{{DeviceID: "d1", Operator: Equals, ThresholdValue: "1"}},
		Actions:    named("a"),
	}

	t.Run("candidate listing fails", func(t *testing.T) {
		rules := newStaticRules(r)
		rules.listErr = errors.New("db closed")
		e, exec, st := setupTestEngine(t, rules, newCountingLookup())

		e.EvaluateAndTrigger(context.Background(), "c1", numericReading("d1", "1"))
		assert.Empty(t, exec.names())
		assert.Equal(t, uint64(1), st.Errors)
	})

	t.Run("mark triggered fails", func(t *testing.T) {
		rules := newStaticRules(r)
		rules.markErr = errors.New("db closed")
		e, exec, _ := setupTestEngine(t, rules, newCountingLookup())

		e.EvaluateAndTrigger(context.Background(), "c1", numericReading("d1", "1"))
		assert.Equal(t, []string{"a"}, exec.names())
	})
}

func TestEngineUsesRegistryForType(t *testing.T) {
	r := &Rule{
		ID: "r1", ClientID: "c1", LogicalOperator: All, IsActive: true,
		Conditions: []Condition{{DeviceID: "lock", Operator: Equals, ThresholdValue: "LOCKED", IgnoreCase: true}},
		Actions:    named("a"),
	}
	e, exec, _ := setupTestEngine(t, newStaticRules(r), newCountingLookup())

	e.EvaluateAndTrigger(context.Background(), "c1", reading.Reading{DeviceID: "lock", Type: reading.Text, Value: "locked"})
	assert.Equal(t, []string{"a"}, exec.names())

	// Without a strategy for the type the condition fails closed
	e.strategies = StrategyRegistry{}
	e.EvaluateAndTrigger(context.Background(), "c1", reading.Reading{DeviceID: "lock", Type: reading.Text, Value: "locked"})
	assert.Equal(t, []string{"a"}, exec.names())
}
