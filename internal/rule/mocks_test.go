package rule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rule-broker/internal/metrics"
	"rule-broker/internal/reading"
)

// newMockMetrics creates a new metrics instance for testing
func newMockMetrics() *metrics.Metrics {
	// Create a test registry that we can throw away
	reg := prometheus.NewRegistry()
	m, _ := metrics.NewMetrics(reg)
	return m
}

// countingLookup serves latest readings from a map and counts lookups
type countingLookup struct {
	mu       sync.Mutex
	latest   map[string]reading.Reading
	calls    map[string]int
	failWith error
}

func newCountingLookup(rs ...reading.Reading) *countingLookup {
	l := &countingLookup{latest: make(map[string]reading.Reading), calls: make(map[string]int)}
	for _, r := range rs {
		l.latest[r.DeviceID] = r
	}
	return l
}

func (l *countingLookup) GetLatest(_ context.Context, _ string, deviceID string) (reading.Reading, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[deviceID]++
	if l.failWith != nil {
		return reading.Reading{}, false, l.failWith
	}
	r, ok := l.latest[deviceID]
	return r, ok, nil
}

func (l *countingLookup) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		n += c
	}
	return n
}

// staticRules returns a fixed candidate list and records triggers
type staticRules struct {
	mu        sync.Mutex
	rules     []*Rule
	triggered map[string][]time.Time
	listErr   error
	markErr   error
}

func newStaticRules(rules ...*Rule) *staticRules {
	return &staticRules{rules: rules, triggered: make(map[string][]time.Time)}
}

func (s *staticRules) ListCandidates(_ context.Context, clientID, _ string) ([]*Rule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*Rule
	for _, r := range s.rules {
		if r.ClientID == clientID {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *staticRules) MarkTriggered(_ context.Context, ruleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered[ruleID] = append(s.triggered[ruleID], at)
	return s.markErr
}

func (s *staticRules) triggerCount(ruleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggered[ruleID])
}

type executedAction struct {
	clientID string
	trigger  reading.Reading
	ruleID   string
	name     string
}

// recordingExecutor records executed actions; actions named in fail return
// an error and actions named in panics panic
type recordingExecutor struct {
	mu       sync.Mutex
	executed []executedAction
	fail     map[string]bool
	panics   map[string]bool
}

func (e *recordingExecutor) Execute(_ context.Context, clientID string, trigger reading.Reading, rule *Rule, action Action) error {
	e.mu.Lock()
	e.executed = append(e.executed, executedAction{clientID, trigger, rule.ID, action.Name})
	e.mu.Unlock()

	if e.panics[action.Name] {
		panic("boom")
	}
	if e.fail[action.Name] {
		return errors.New("action failed")
	}
	return nil
}

func (e *recordingExecutor) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.executed))
	for i, a := range e.executed {
		out[i] = a.name
	}
	return out
}

// recordingAppender captures synthetic readings
type recordingAppender struct {
	mu       sync.Mutex
	appended []reading.Reading
	clients  []string
	err      error
}

func (a *recordingAppender) AppendInternal(_ context.Context, clientID string, r reading.Reading) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.appended = append(a.appended, r)
	a.clients = append(a.clients, clientID)
	return nil
}
