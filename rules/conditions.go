package rules

import "time"

// shouldTrigger decides whether rule i fires for ctx. Missing or malformed
// inputs resolve to false; it never panics or errors.
func (en *Engine) shouldTrigger(i int, rule *Rule, ctx Context, now time.Time) bool {
	switch t := rule.Trigger.(type) {
	case TimeTrigger:
		current, ok := ctx.currentTime(now)
		return ok && current >= t.Timestamp

	case ThresholdTrigger:
		current := 0.0
		if v, exists := ctx[t.Field]; exists {
			var ok bool
			if current, ok = ToFloat(v); !ok {
				return false
			}
		}
		return compare(t.Operator, current, t.Value)

	case EventTrigger:
		return ctx.HasEvent(t.Event)

	case ExpressionTrigger:
		prog, ok := en.programs[i]
		if !ok {
			return false
		}
		return evalExpression(prog, ctx)

	default:
		return false
	}
}

// compare applies op; unknown operators never match
func compare(op Operator, current, threshold float64) bool {
	switch op {
	case OpGreaterOrEqual, "":
		return current >= threshold
	case OpLessOrEqual:
		return current <= threshold
	case OpEqual:
		return current == threshold
	case OpGreater:
		return current > threshold
	default:
		return false
	}
}

// KnownOperator reports whether op is one the engine can evaluate
func KnownOperator(op Operator) bool {
	switch op {
	case OpGreaterOrEqual, OpLessOrEqual, OpEqual, OpGreater, "":
		return true
	}
	return false
}
