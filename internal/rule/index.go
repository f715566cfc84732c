package rule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rule-broker/internal/logger"
)

// RuleIndex is the in-memory Store. Besides the rules themselves it keeps a
// client -> device -> rule id index so candidate lookup does not scan.
type RuleIndex struct {
	rules    map[string]*Rule                      // By rule id
	byClient map[string][]string                   // Rule ids per client in insertion order
	byDevice map[string]map[string]map[string]bool // client -> device -> rule ids
	logger   *logger.Logger
	mu       sync.RWMutex
}

// NewRuleIndex creates a new rule index
func NewRuleIndex(log *logger.Logger) *RuleIndex {
	if log == nil {
		log = logger.NewNop()
	}
	return &RuleIndex{
		rules:    make(map[string]*Rule),
		byClient: make(map[string][]string),
		byDevice: make(map[string]map[string]map[string]bool),
		logger:   log,
	}
}

// Add adds a rule to the index
func (idx *RuleIndex) Add(_ context.Context, rule *Rule) (*Rule, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule cannot be nil")
	}

	stored := rule.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.rules[stored.ID]; exists {
		return nil, ErrDuplicateRule
	}

	idx.rules[stored.ID] = stored
	idx.byClient[stored.ClientID] = append(idx.byClient[stored.ClientID], stored.ID)
	idx.indexDevices(stored)

	idx.logger.Debug("rule added to index",
		"ruleId", stored.ID,
		"clientId", stored.ClientID,
		"conditions", len(stored.Conditions))

	return stored.Clone(), nil
}

func (idx *RuleIndex) indexDevices(rule *Rule) {
	devices := idx.byDevice[rule.ClientID]
	if devices == nil {
		devices = make(map[string]map[string]bool)
		idx.byDevice[rule.ClientID] = devices
	}
	for _, c := range rule.Conditions {
		if devices[c.DeviceID] == nil {
			devices[c.DeviceID] = make(map[string]bool)
		}
		devices[c.DeviceID][rule.ID] = true
	}
}

func (idx *RuleIndex) unindexDevices(rule *Rule) {
	devices := idx.byDevice[rule.ClientID]
	for _, c := range rule.Conditions {
		delete(devices[c.DeviceID], rule.ID)
		if len(devices[c.DeviceID]) == 0 {
			delete(devices, c.DeviceID)
		}
	}
	if len(devices) == 0 {
		delete(idx.byDevice, rule.ClientID)
	}
}

func (idx *RuleIndex) ListByClient(_ context.Context, clientID string) ([]*Rule, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := idx.byClient[clientID]
	out := make([]*Rule, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx.rules[id].Clone())
	}
	return out, nil
}

func (idx *RuleIndex) Get(_ context.Context, clientID, ruleID string) (*Rule, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	r, ok := idx.rules[ruleID]
	if !ok || r.ClientID != clientID {
		return nil, ErrRuleNotFound
	}
	return r.Clone(), nil
}

// Remove removes a rule from the index
func (idx *RuleIndex) Remove(_ context.Context, clientID, ruleID string) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	r, ok := idx.rules[ruleID]
	if !ok || r.ClientID != clientID {
		return false, nil
	}

	delete(idx.rules, ruleID)
	ids := idx.byClient[clientID]
	for i, id := range ids {
		if id == ruleID {
			idx.byClient[clientID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(idx.byClient[clientID]) == 0 {
		delete(idx.byClient, clientID)
	}
	idx.unindexDevices(r)

	idx.logger.Debug("rule removed from index",
		"ruleId", ruleID,
		"clientId", clientID)

	return true, nil
}

func (idx *RuleIndex) SetActive(_ context.Context, clientID, ruleID string, active bool) (*Rule, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	r, ok := idx.rules[ruleID]
	if !ok || r.ClientID != clientID {
		return nil, ErrRuleNotFound
	}
	r.IsActive = active
	return r.Clone(), nil
}

// MarkTriggered advances lastTriggered; an older instant is ignored
func (idx *RuleIndex) MarkTriggered(_ context.Context, ruleID string, at time.Time) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	r, ok := idx.rules[ruleID]
	if !ok {
		return ErrRuleNotFound
	}
	if advance(r.LastTriggered, at) {
		t := at
		r.LastTriggered = &t
	}
	return nil
}

// ListCandidates returns the client's active rules referencing deviceID, in
// insertion order
func (idx *RuleIndex) ListCandidates(_ context.Context, clientID, deviceID string) ([]*Rule, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matched := idx.byDevice[clientID][deviceID]
	if len(matched) == 0 {
		return nil, nil
	}

	var out []*Rule
	for _, id := range idx.byClient[clientID] {
		if r := idx.rules[id]; matched[id] && r.IsActive {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (idx *RuleIndex) CountActive(_ context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := 0
	for _, r := range idx.rules {
		if r.IsActive {
			n++
		}
	}
	return n, nil
}

func (idx *RuleIndex) Close() error {
	return nil
}
