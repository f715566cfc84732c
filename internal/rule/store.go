package rule

import (
	"context"
	"time"
)

// Store persists rule definitions. Implementations return copies; mutating a
// returned rule never changes the stored one.
type Store interface {
	RuleSource

	// Add stores a rule, assigning an id when it has none
	Add(ctx context.Context, rule *Rule) (*Rule, error)
	ListByClient(ctx context.Context, clientID string) ([]*Rule, error)
	Get(ctx context.Context, clientID, ruleID string) (*Rule, error)
	// Remove deletes the rule with its conditions and actions; false when
	// the client owns no such rule
	Remove(ctx context.Context, clientID, ruleID string) (bool, error)
	SetActive(ctx context.Context, clientID, ruleID string, active bool) (*Rule, error)
	CountActive(ctx context.Context) (int, error)
	Close() error
}

// advance reports whether at moves last forward
func advance(last *time.Time, at time.Time) bool {
	return last == nil || at.After(*last)
}
