package stats

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// StatsCollector manages application-wide statistics
type StatsCollector struct {
	StartTime        time.Time
	ReadingsReceived uint64
	InternalReadings uint64
	RulesEvaluated   uint64
	RulesTriggered   uint64
	ActionsExecuted  uint64
	ActionErrors     uint64
	Errors           uint64
	lastUpdate       atomic.Int64
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	s := &StatsCollector{StartTime: time.Now()}
	s.touch()
	return s
}

func (s *StatsCollector) touch() {
	s.lastUpdate.Store(time.Now().UnixNano())
}

// LastUpdate returns when any counter last changed
func (s *StatsCollector) LastUpdate() time.Time {
	return time.Unix(0, s.lastUpdate.Load())
}

// IncReadings counts an accepted reading; internal marks a synthetic one
func (s *StatsCollector) IncReadings(internal bool) {
	if s == nil {
		return
	}
	if internal {
		atomic.AddUint64(&s.InternalReadings, 1)
	} else {
		atomic.AddUint64(&s.ReadingsReceived, 1)
	}
	s.touch()
}

func (s *StatsCollector) IncRulesEvaluated() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.RulesEvaluated, 1)
	s.touch()
}

func (s *StatsCollector) IncRulesTriggered() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.RulesTriggered, 1)
	s.touch()
}

// IncActions counts an executed action and, when failed, an action error
func (s *StatsCollector) IncActions(failed bool) {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.ActionsExecuted, 1)
	if failed {
		atomic.AddUint64(&s.ActionErrors, 1)
	}
	s.touch()
}

func (s *StatsCollector) IncErrors() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.Errors, 1)
	s.touch()
}

// GetStats returns current statistics
func (s *StatsCollector) GetStats() map[string]interface{} {
	uptime := time.Since(s.StartTime)
	return map[string]interface{}{
		"uptime":            uptime.String(),
		"readings_received": atomic.LoadUint64(&s.ReadingsReceived),
		"internal_readings": atomic.LoadUint64(&s.InternalReadings),
		"rules_evaluated":   atomic.LoadUint64(&s.RulesEvaluated),
		"rules_triggered":   atomic.LoadUint64(&s.RulesTriggered),
		"actions_executed":  atomic.LoadUint64(&s.ActionsExecuted),
		"action_errors":     atomic.LoadUint64(&s.ActionErrors),
		"errors":            atomic.LoadUint64(&s.Errors),
		"readings_per_sec":  s.CalculateRate(),
		"last_update":       s.LastUpdate(),
	}
}

// GetStatsJSON returns stats as JSON
func (s *StatsCollector) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}

// CalculateRate calculates the reading ingestion rate per second
func (s *StatsCollector) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.ReadingsReceived)) / uptime
}
