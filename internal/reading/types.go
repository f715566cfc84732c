// Package reading holds the device reading model and the stores that keep
// the per-device reading logs.
package reading

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinDeviceIDLength = 3
	MaxDeviceIDLength = 50
)

// ValueType tags how a reading's string value is interpreted
type ValueType string

const (
	Numeric ValueType = "Numeric"
	Boolean ValueType = "Boolean"
	Text    ValueType = "Text"
)

// ParseValueType resolves a value type name case-insensitively.
// "String" is accepted as an alias of Text.
func ParseValueType(s string) (ValueType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric":
		return Numeric, true
	case "boolean":
		return Boolean, true
	case "text", "string":
		return Text, true
	}
	return "", false
}

// UnmarshalText normalizes known names and keeps unknown ones verbatim so
// validation can report them.
func (v *ValueType) UnmarshalText(b []byte) error {
	if t, ok := ParseValueType(string(b)); ok {
		*v = t
		return nil
	}
	*v = ValueType(b)
	return nil
}

// Valid reports whether v is one of the known value types
func (v ValueType) Valid() bool {
	switch v {
	case Numeric, Boolean, Text:
		return true
	}
	return false
}

// Reading is one timestamped value reported for a device
type Reading struct {
	DeviceID  string    `json:"deviceId"`
	Type      ValueType `json:"type"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidationError describes a reading that cannot be accepted
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks the device id and that the value parses for its type
func (r *Reading) Validate() error {
	id := strings.TrimSpace(r.DeviceID)
	if id == "" {
		return &ValidationError{Field: "deviceId", Message: "device id is required"}
	}
	if len(id) < MinDeviceIDLength || len(id) > MaxDeviceIDLength {
		return &ValidationError{
			Field:   "deviceId",
			Message: fmt.Sprintf("device id must be between %d and %d characters", MinDeviceIDLength, MaxDeviceIDLength),
		}
	}

	switch r.Type {
	case Numeric:
		if _, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64); err != nil {
			return &ValidationError{Field: "value", Message: fmt.Sprintf("%q is not a valid number", r.Value)}
		}
	case Boolean:
		v := strings.ToLower(strings.TrimSpace(r.Value))
		if v != "true" && v != "false" {
			return &ValidationError{Field: "value", Message: fmt.Sprintf("%q is not a valid boolean", r.Value)}
		}
	case Text:
	default:
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unsupported value type %q", r.Type)}
	}

	return nil
}
