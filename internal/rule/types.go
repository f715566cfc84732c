//file: internal/rule/types.go
package rule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rule-broker/internal/reading"
)

var (
	ErrRuleNotFound  = errors.New("rule not found")
	ErrDuplicateRule = errors.New("rule with this id already exists")
)

// Operator is a comparison operator used by a condition
type Operator string

const (
	GreaterThan Operator = "GreaterThan"
	LessThan    Operator = "LessThan"
	Equals      Operator = "Equals"
	NotEquals   Operator = "NotEquals"
	Contains    Operator = "Contains"
	StartsWith  Operator = "StartsWith"
	EndsWith    Operator = "EndsWith"
)

// operatorOrder is the numeric encoding accepted on input
var operatorOrder = []Operator{GreaterThan, LessThan, Equals, NotEquals, Contains, StartsWith, EndsWith}

// ParseOperator resolves an operator name case-insensitively
func ParseOperator(s string) (Operator, bool) {
	for _, op := range operatorOrder {
		if strings.EqualFold(string(op), strings.TrimSpace(s)) {
			return op, true
		}
	}
	return "", false
}

// Valid reports whether op is a known operator
func (op Operator) Valid() bool {
	for _, o := range operatorOrder {
		if o == op {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts either the operator name or its ordinal
func (op *Operator) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		if parsed, ok := ParseOperator(name); ok {
			*op = parsed
		} else {
			*op = Operator(name)
		}
		return nil
	}

	n, err := strconv.Atoi(string(b))
	if err != nil || n < 0 || n >= len(operatorOrder) {
		return fmt.Errorf("invalid operator: %s", string(b))
	}
	*op = operatorOrder[n]
	return nil
}

// LogicalOperator combines the results of a rule's conditions
type LogicalOperator string

const (
	All LogicalOperator = "All"
	Any LogicalOperator = "Any"
)

func (l *LogicalOperator) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		switch {
		case strings.EqualFold(name, string(All)):
			*l = All
		case strings.EqualFold(name, string(Any)):
			*l = Any
		default:
			*l = LogicalOperator(name)
		}
		return nil
	}

	switch string(b) {
	case "0":
		*l = All
	case "1":
		*l = Any
	default:
		return fmt.Errorf("invalid logical operator: %s", string(b))
	}
	return nil
}

// Condition tests one device's value against a threshold
type Condition struct {
	DeviceID       string   `json:"deviceId"`
	Operator       Operator `json:"operator"`
	ThresholdValue string   `json:"thresholdValue"`
	IgnoreCase     bool     `json:"ignoreCase,omitempty"`
}

// scalarString accepts a JSON string, number or boolean as text
type scalarString string

func (s *scalarString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*s = ""
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = scalarString(v)
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("expected a scalar value, got %s", string(b))
	default:
		*s = scalarString(b)
	}
	return nil
}

// UnmarshalJSON accepts unquoted thresholds such as 100 or true
func (c *Condition) UnmarshalJSON(b []byte) error {
	type plain Condition
	aux := struct {
		*plain
		ThresholdValue scalarString `json:"thresholdValue"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	c.ThresholdValue = string(aux.ThresholdValue)
	return nil
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.DeviceID, c.Operator, c.ThresholdValue)
}

// ActionType discriminates the action variants
type ActionType string

const (
	ActionSetValue ActionType = "set_value"
	ActionWebHook  ActionType = "webhook"
)

// SetDeviceValue writes a synthetic reading for the target device
type SetDeviceValue struct {
	TargetDeviceID string            `json:"targetDeviceId"`
	NewValue       string            `json:"newValue"`
	ValueType      reading.ValueType `json:"valueType"`
}

// WebHook calls an external HTTP endpoint
type WebHook struct {
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	PayloadTemplate string            `json:"payloadTemplate,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// Action is a tagged variant; exactly one of SetValue or WebHook is set and
// matches Type
type Action struct {
	Type     ActionType
	Name     string
	SetValue *SetDeviceValue
	WebHook  *WebHook
}

type actionHeader struct {
	Type ActionType `json:"$type"`
	Name string     `json:"name,omitempty"`
}

// MarshalJSON flattens the variant under a "$type" discriminator
func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case ActionSetValue:
		body := SetDeviceValue{}
		if a.SetValue != nil {
			body = *a.SetValue
		}
		return json.Marshal(struct {
			actionHeader
			SetDeviceValue
		}{actionHeader{a.Type, a.Name}, body})
	case ActionWebHook:
		body := WebHook{}
		if a.WebHook != nil {
			body = *a.WebHook
		}
		return json.Marshal(struct {
			actionHeader
			WebHook
		}{actionHeader{a.Type, a.Name}, body})
	default:
		return nil, fmt.Errorf("unknown action type: %q", a.Type)
	}
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var head actionHeader
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}

	*a = Action{Type: head.Type, Name: head.Name}
	switch head.Type {
	case ActionSetValue:
		type plain SetDeviceValue
		aux := struct {
			*plain
			NewValue scalarString `json:"newValue"`
		}{plain: &plain{}}
		if err := json.Unmarshal(b, &aux); err != nil {
			return err
		}
		sv := SetDeviceValue(*aux.plain)
		sv.NewValue = string(aux.NewValue)
		a.SetValue = &sv
		return nil
	case ActionWebHook:
		a.WebHook = &WebHook{}
		if err := json.Unmarshal(b, a.WebHook); err != nil {
			return err
		}
		if a.WebHook.Method == "" {
			a.WebHook.Method = "POST"
		}
		return nil
	default:
		return fmt.Errorf("unknown action type: %q", head.Type)
	}
}

// Rule is a client-scoped condition set with the actions to run on trigger
type Rule struct {
	ID              string          `json:"id"`
	ClientID        string          `json:"clientId,omitempty"`
	Name            string          `json:"name"`
	Conditions      []Condition     `json:"conditions"`
	LogicalOperator LogicalOperator `json:"logicalOperator"`
	Actions         []Action        `json:"actions"`
	IsActive        bool            `json:"isActive"`
	LastTriggered   *time.Time      `json:"lastTriggered,omitempty"`
}

// UnmarshalJSON defaults a missing logicalOperator to All and a missing
// isActive to true
func (r *Rule) UnmarshalJSON(b []byte) error {
	type plain Rule
	p := plain{LogicalOperator: All, IsActive: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// ReferencesDevice reports whether any condition tests deviceID
func (r *Rule) ReferencesDevice(deviceID string) bool {
	for _, c := range r.Conditions {
		if c.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share children with a store
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.Conditions = append([]Condition(nil), r.Conditions...)
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		c.Actions[i] = a.clone()
	}
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		c.LastTriggered = &t
	}
	return &c
}

func (a Action) clone() Action {
	out := a
	if a.SetValue != nil {
		sv := *a.SetValue
		out.SetValue = &sv
	}
	if a.WebHook != nil {
		wh := *a.WebHook
		if a.WebHook.Headers != nil {
			wh.Headers = make(map[string]string, len(a.WebHook.Headers))
			for k, v := range a.WebHook.Headers {
				wh.Headers[k] = v
			}
		}
		out.WebHook = &wh
	}
	return out
}

// ValidationError represents a rule validation error
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
