package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ruleSpecJSON is the wire form of a rule:
// {"name", "description", "trigger", "condition": {...}, "action": {...}, "enabled"}
type ruleSpecJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Trigger     string          `json:"trigger"`
	Condition   json.RawMessage `json:"condition,omitempty"`
	Action      json.RawMessage `json:"action,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
}

// UnmarshalJSON decodes a rule without validating it. A condition that does
// not fit its trigger kind yields an InertTrigger rather than an error.
func (s *RuleSpec) UnmarshalJSON(data []byte) error {
	var raw ruleSpecJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	action, err := DecodeAction(raw.Action)
	if err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	kind := TriggerKind(raw.Trigger)
	if kind == "" {
		kind = TriggerEvent
	}

	*s = RuleSpec{
		Name:        raw.Name,
		Description: raw.Description,
		Trigger:     DecodeTrigger(kind, raw.Condition),
		Action:      action,
		Enabled:     raw.Enabled,
	}
	return nil
}

// MarshalJSON writes the same wire form UnmarshalJSON reads. An inert
// trigger is written with its kind and no condition.
func (s RuleSpec) MarshalJSON() ([]byte, error) {
	out := ruleSpecJSON{
		Name:        s.Name,
		Description: s.Description,
		Trigger:     string(triggerKind(s.Trigger)),
		Enabled:     s.Enabled,
	}

	if cond := encodeCondition(s.Trigger); cond != nil {
		b, err := json.Marshal(cond)
		if err != nil {
			return nil, err
		}
		out.Condition = b
	}
	if s.Action != nil {
		b, err := json.Marshal(s.Action)
		if err != nil {
			return nil, err
		}
		out.Action = b
	}
	return json.Marshal(out)
}

func encodeCondition(t Trigger) map[string]any {
	switch t := t.(type) {
	case TimeTrigger:
		return map[string]any{"timestamp": t.Timestamp}
	case ThresholdTrigger:
		op := t.Operator
		if op == "" {
			op = OpGreaterOrEqual
		}
		return map[string]any{"field": t.Field, "operator": op, "value": t.Value}
	case EventTrigger:
		return map[string]any{"event": t.Event}
	case ExpressionTrigger:
		return map[string]any{"expression": t.Expression}
	default:
		return nil
	}
}

// DecodeTrigger builds the trigger variant for kind from a JSON condition.
// Missing condition fields take their defaults: timestamp 0, field "",
// value 0, operator >=, event "".
func DecodeTrigger(kind TriggerKind, condition json.RawMessage) Trigger {
	cond := map[string]any{}
	condition = bytes.TrimSpace(condition)
	if len(condition) > 0 && !bytes.Equal(condition, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(condition))
		dec.UseNumber()
		if err := dec.Decode(&cond); err != nil {
			return InertTrigger{Name: kind, Reason: "condition is not an object"}
		}
	}

	switch kind {
	case TriggerTime:
		ts, ok := numericOr(cond, "timestamp", 0)
		if !ok {
			return InertTrigger{Name: kind, Reason: "timestamp is not numeric"}
		}
		return TimeTrigger{Timestamp: ts}

	case TriggerThreshold:
		field, ok := stringOr(cond, "field", "")
		if !ok {
			return InertTrigger{Name: kind, Reason: "field is not a string"}
		}
		value, ok := numericOr(cond, "value", 0)
		if !ok {
			return InertTrigger{Name: kind, Reason: "value is not numeric"}
		}
		op, ok := stringOr(cond, "operator", string(OpGreaterOrEqual))
		if !ok {
			return InertTrigger{Name: kind, Reason: "operator is not a string"}
		}
		return ThresholdTrigger{Field: field, Operator: Operator(op), Value: value}

	case TriggerEvent:
		event, ok := stringOr(cond, "event", "")
		if !ok {
			return InertTrigger{Name: kind, Reason: "event is not a string"}
		}
		return EventTrigger{Event: event}

	case TriggerExpression:
		expr, ok := stringOr(cond, "expression", "")
		if !ok {
			return InertTrigger{Name: kind, Reason: "expression is not a string"}
		}
		return ExpressionTrigger{Expression: expr}

	default:
		return InertTrigger{Name: kind, Reason: fmt.Sprintf("unknown trigger kind %q", kind)}
	}
}

func numericOr(m map[string]any, key string, def float64) (float64, bool) {
	v, exists := m[key]
	if !exists {
		return def, true
	}
	return ToFloat(v)
}

func stringOr(m map[string]any, key, def string) (string, bool) {
	v, exists := m[key]
	if !exists {
		return def, true
	}
	s, ok := v.(string)
	return s, ok
}
