package rule

import (
	"strings"
	"time"

	"rule-broker/internal/reading"
)

// Render substitutes the trigger tokens in tmpl. {timestamp} is the render
// time, not the reading's own timestamp. Unknown tokens pass through.
func Render(tmpl string, trigger reading.Reading, rule *Rule) string {
	return RenderAt(tmpl, trigger, rule, time.Now())
}

// RenderAt is Render with an explicit clock. Substitution is a single
// pass, so values containing token text are not expanded again.
func RenderAt(tmpl string, trigger reading.Reading, rule *Rule, now time.Time) string {
	if tmpl == "" {
		return ""
	}
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	var name, id, conditions string
	if rule != nil {
		name = rule.Name
		id = rule.ID
		parts := make([]string, len(rule.Conditions))
		for i, c := range rule.Conditions {
			parts[i] = c.String()
		}
		conditions = strings.Join(parts, ", ")
	}

	r := strings.NewReplacer(
		"{rule.conditions}", conditions,
		"{rule.name}", name,
		"{rule.id}", id,
		"{device}", trigger.DeviceID,
		"{value.type}", string(trigger.Type),
		"{value}", trigger.Value,
		"{timestamp}", now.UTC().Format(time.RFC3339Nano),
	)
	return r.Replace(tmpl)
}
