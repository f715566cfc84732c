//file: internal/rule/validator.go
package rule

import (
	"fmt"
	"net/http"
	"strings"
)

var validMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Validate performs structural validation of a rule
func Validate(rule *Rule) error {
	if rule == nil {
		return &ValidationError{
			Field:   "rule",
			Message: "rule cannot be nil",
		}
	}

	if strings.TrimSpace(rule.Name) == "" {
		return &ValidationError{
			Field:   "name",
			Message: "rule name cannot be empty",
		}
	}

	switch rule.LogicalOperator {
	case All, Any:
		// Valid operators
	default:
		return &ValidationError{
			Field:   "logicalOperator",
			Message: fmt.Sprintf("invalid logical operator: %s", rule.LogicalOperator),
		}
	}

	for i, condition := range rule.Conditions {
		if err := validateCondition(condition); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("conditions[%d]", i),
				Message: err.Error(),
			}
		}
	}

	for i, action := range rule.Actions {
		if err := validateAction(action); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("actions[%d]", i),
				Message: err.Error(),
			}
		}
	}

	return nil
}

// validateCondition validates a single condition
func validateCondition(condition Condition) error {
	if strings.TrimSpace(condition.DeviceID) == "" {
		return fmt.Errorf("deviceId cannot be empty")
	}

	if !condition.Operator.Valid() {
		return fmt.Errorf("invalid operator: %s", condition.Operator)
	}

	return nil
}

// validateAction checks the variant body matches its type
func validateAction(action Action) error {
	switch action.Type {
	case ActionSetValue:
		sv := action.SetValue
		if sv == nil {
			return fmt.Errorf("set_value action has no body")
		}
		if strings.TrimSpace(sv.TargetDeviceID) == "" {
			return fmt.Errorf("targetDeviceId cannot be empty")
		}
		if !sv.ValueType.Valid() {
			return fmt.Errorf("invalid value type: %s", sv.ValueType)
		}
	case ActionWebHook:
		wh := action.WebHook
		if wh == nil {
			return fmt.Errorf("webhook action has no body")
		}
		if strings.TrimSpace(wh.URL) == "" {
			return fmt.Errorf("url cannot be empty")
		}
		method := strings.ToUpper(wh.Method)
		if method != "" && !validMethods[method] {
			return fmt.Errorf("unsupported http method: %s", wh.Method)
		}
		for name := range wh.Headers {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("header name cannot be empty")
			}
		}
	default:
		return fmt.Errorf("unknown action type: %q", action.Type)
	}

	return nil
}
