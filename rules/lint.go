package rules

import (
	"fmt"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Issue explains why a rule is likely to misbehave
type Issue struct {
	Rule    string `json:"rule"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Rule, i.Field, i.Message)
}

// Lint reports problems with spec that would leave it inert or ambiguous.
// It is advisory: AddRule accepts the rule either way.
func (en *Engine) Lint(spec RuleSpec) []Issue {
	var issues []Issue
	add := func(field, format string, args ...any) {
		issues = append(issues, Issue{Rule: spec.Name, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if spec.Name == "" {
		add("name", "name is empty")
	} else if !identifierPattern.MatchString(spec.Name) {
		add("name", "must match pattern %s", identifierPattern)
	}

	en.mu.RLock()
	for _, r := range en.rules {
		if r.Name == spec.Name && spec.Name != "" {
			add("name", "a rule named %q already exists", spec.Name)
			break
		}
	}
	en.mu.RUnlock()

	switch t := spec.Trigger.(type) {
	case nil:
		add("trigger", "no trigger; rule will never fire")
	case InertTrigger:
		add("condition", "%s; rule will never fire", t.Reason)
	case ThresholdTrigger:
		if t.Field == "" {
			add("condition.field", "field is empty; lookups default to 0")
		} else if !identifierPattern.MatchString(t.Field) {
			add("condition.field", "field %q is not an identifier", t.Field)
		}
		if !KnownOperator(t.Operator) {
			add("condition.operator", "unknown operator %q; rule will never fire", t.Operator)
		}
	case EventTrigger:
		if t.Event == "" {
			add("condition.event", "event is empty")
		}
	case ExpressionTrigger:
		if _, err := en.compileExpression(t.Expression); err != nil {
			add("condition.expression", "%v; rule will never fire", err)
		}
	case TimeTrigger:
		if t.Timestamp <= 0 {
			add("condition.timestamp", "timestamp is not set; rule fires on every evaluation")
		}
	}

	if spec.Action == nil {
		add("action", "no action")
	}

	return issues
}
