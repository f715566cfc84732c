package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"rule-broker/internal/rule"
)

// RuleRecord is the rules table. Conditions and actions are child rows
// owned by the rule.
type RuleRecord struct {
	ID              string `gorm:"primaryKey"`
	ClientID        string `gorm:"index;not null"`
	Name            string
	LogicalOperator string
	IsActive        bool `gorm:"index"`
	LastTriggered   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Conditions      []ConditionRecord `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
	Actions         []ActionRecord    `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
}

func (RuleRecord) TableName() string {
	return "rules"
}

type ConditionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	RuleID         string `gorm:"index;not null"`
	Position       int
	DeviceID       string `gorm:"index"`
	Operator       string
	ThresholdValue string
	IgnoreCase     bool
}

func (ConditionRecord) TableName() string {
	return "rule_conditions"
}

// ActionRecord stores the action variant in its JSON wire shape
type ActionRecord struct {
	ID       uint   `gorm:"primaryKey"`
	RuleID   string `gorm:"index;not null"`
	Position int
	Type     string
	Name     string
	Payload  string `gorm:"type:json"`
}

func (ActionRecord) TableName() string {
	return "rule_actions"
}

func fromRule(r *rule.Rule) (RuleRecord, error) {
	rec := RuleRecord{
		ID:              r.ID,
		ClientID:        r.ClientID,
		Name:            r.Name,
		LogicalOperator: string(r.LogicalOperator),
		IsActive:        r.IsActive,
		LastTriggered:   r.LastTriggered,
	}

	for i, c := range r.Conditions {
		rec.Conditions = append(rec.Conditions, ConditionRecord{
			RuleID:         r.ID,
			Position:       i,
			DeviceID:       c.DeviceID,
			Operator:       string(c.Operator),
			ThresholdValue: c.ThresholdValue,
			IgnoreCase:     c.IgnoreCase,
		})
	}

	for i, a := range r.Actions {
		payload, err := json.Marshal(a)
		if err != nil {
			return RuleRecord{}, fmt.Errorf("encoding action %d: %w", i, err)
		}
		rec.Actions = append(rec.Actions, ActionRecord{
			RuleID:   r.ID,
			Position: i,
			Type:     string(a.Type),
			Name:     a.Name,
			Payload:  string(payload),
		})
	}

	return rec, nil
}

func (rec RuleRecord) toRule() (*rule.Rule, error) {
	r := &rule.Rule{
		ID:              rec.ID,
		ClientID:        rec.ClientID,
		Name:            rec.Name,
		LogicalOperator: rule.LogicalOperator(rec.LogicalOperator),
		IsActive:        rec.IsActive,
		Conditions:      make([]rule.Condition, 0, len(rec.Conditions)),
		Actions:         make([]rule.Action, 0, len(rec.Actions)),
	}
	if rec.LastTriggered != nil {
		t := rec.LastTriggered.UTC()
		r.LastTriggered = &t
	}

	for _, c := range rec.Conditions {
		r.Conditions = append(r.Conditions, rule.Condition{
			DeviceID:       c.DeviceID,
			Operator:       rule.Operator(c.Operator),
			ThresholdValue: c.ThresholdValue,
			IgnoreCase:     c.IgnoreCase,
		})
	}

	for _, a := range rec.Actions {
		var action rule.Action
		if err := json.Unmarshal([]byte(a.Payload), &action); err != nil {
			return nil, fmt.Errorf("decoding action %d of rule %s: %w", a.Position, rec.ID, err)
		}
		r.Actions = append(r.Actions, action)
	}

	return r, nil
}
