package rule

import (
	"context"
	"fmt"
	"time"

	"rule-broker/internal/logger"
	"rule-broker/internal/metrics"
	"rule-broker/internal/reading"
	"rule-broker/internal/stats"
)

// ReadingLookup resolves the latest known state of another device
type ReadingLookup interface {
	GetLatest(ctx context.Context, clientID, deviceID string) (reading.Reading, bool, error)
}

// RuleSource supplies candidate rules and records triggers
type RuleSource interface {
	ListCandidates(ctx context.Context, clientID, deviceID string) ([]*Rule, error)
	MarkTriggered(ctx context.Context, ruleID string, at time.Time) error
}

// ActionExecutor runs a single action for a triggered rule
type ActionExecutor interface {
	Execute(ctx context.Context, clientID string, trigger reading.Reading, rule *Rule, action Action) error
}

// Engine evaluates a client's rules against incoming readings and runs the
// actions of every rule that triggers
type Engine struct {
	rules      RuleSource
	readings   ReadingLookup
	actions    ActionExecutor
	strategies StrategyRegistry
	logger     *logger.Logger
	metrics    *metrics.Metrics
	stats      *stats.StatsCollector
	now        func() time.Time
}

// NewEngine creates an engine using the default comparison strategies
func NewEngine(rules RuleSource, readings ReadingLookup, actions ActionExecutor, log *logger.Logger, m *metrics.Metrics, st *stats.StatsCollector) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		rules:      rules,
		readings:   readings,
		actions:    actions,
		strategies: DefaultStrategies(),
		logger:     log,
		metrics:    m,
		stats:      st,
		now:        time.Now,
	}
}

// EvaluateAndTrigger evaluates every active rule of clientID that references
// the reporting device. Failures are logged and counted; nothing is returned
// to the caller.
func (e *Engine) EvaluateAndTrigger(ctx context.Context, clientID string, incoming reading.Reading) {
	candidates, err := e.rules.ListCandidates(ctx, clientID, incoming.DeviceID)
	if err != nil {
		e.logger.Error("failed to list candidate rules",
			"clientId", clientID,
			"deviceId", incoming.DeviceID,
			"error", err)
		e.stats.IncErrors()
		return
	}

	for _, rule := range candidates {
		if rule == nil || !rule.IsActive || !rule.ReferencesDevice(incoming.DeviceID) {
			continue
		}

		e.metrics.IncRuleEvaluations()
		e.stats.IncRulesEvaluated()

		triggered := e.evaluate(ctx, clientID, incoming, rule)
		e.logger.Debug("rule evaluated",
			"ruleId", rule.ID,
			"clientId", clientID,
			"deviceId", incoming.DeviceID,
			"triggered", triggered)

		if triggered {
			e.trigger(ctx, clientID, incoming, rule)
		}
	}
}

// evaluate combines the conditions in declared order and stops as soon as
// the result is decided
func (e *Engine) evaluate(ctx context.Context, clientID string, incoming reading.Reading, rule *Rule) bool {
	switch rule.LogicalOperator {
	case All:
		for _, c := range rule.Conditions {
			if !e.conditionMet(ctx, clientID, incoming, c) {
				return false
			}
		}
		return true
	case Any:
		for _, c := range rule.Conditions {
			if e.conditionMet(ctx, clientID, incoming, c) {
				return true
			}
		}
		return false
	default:
		e.logger.Warn("rule has unknown logical operator",
			"ruleId", rule.ID,
			"logicalOperator", rule.LogicalOperator)
		return false
	}
}

func (e *Engine) conditionMet(ctx context.Context, clientID string, incoming reading.Reading, c Condition) bool {
	if c.DeviceID == incoming.DeviceID {
		return e.strategies.Evaluate(incoming.Type, incoming.Value, c)
	}

	latest, ok, err := e.readings.GetLatest(ctx, clientID, c.DeviceID)
	if err != nil {
		e.logger.Warn("failed to look up device state",
			"clientId", clientID,
			"deviceId", c.DeviceID,
			"error", err)
		return false
	}
	if !ok {
		return false
	}
	return e.strategies.Evaluate(latest.Type, latest.Value, c)
}

func (e *Engine) trigger(ctx context.Context, clientID string, incoming reading.Reading, rule *Rule) {
	now := e.now().UTC()

	e.metrics.IncRuleTriggers()
	e.stats.IncRulesTriggered()
	e.logger.Info("rule triggered",
		"ruleId", rule.ID,
		"ruleName", rule.Name,
		"clientId", clientID,
		"deviceId", incoming.DeviceID)

	if err := e.rules.MarkTriggered(ctx, rule.ID, now); err != nil {
		e.logger.Error("failed to mark rule triggered",
			"ruleId", rule.ID,
			"error", err)
		e.stats.IncErrors()
	}
	rule.LastTriggered = &now

	for i, action := range rule.Actions {
		err := e.runAction(ctx, clientID, incoming, rule, action)
		e.stats.IncActions(err != nil)
		if err != nil {
			e.metrics.IncActionsTotal(string(action.Type), "error")
			e.logger.Error("rule action failed",
				"ruleId", rule.ID,
				"actionType", action.Type,
				"actionIndex", i,
				"actionName", action.Name,
				"error", err)
			continue
		}
		e.metrics.IncActionsTotal(string(action.Type), "success")
	}
}

// runAction turns a panicking action into an error so later actions still run
func (e *Engine) runAction(ctx context.Context, clientID string, incoming reading.Reading, rule *Rule, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return e.actions.Execute(ctx, clientID, incoming, rule, action)
}
