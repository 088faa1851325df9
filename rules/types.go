package rules

import "time"

// TriggerKind names the family of condition a rule fires on
type TriggerKind string

const (
	TriggerTime       TriggerKind = "time"
	TriggerThreshold  TriggerKind = "threshold"
	TriggerEvent      TriggerKind = "event"
	TriggerExpression TriggerKind = "expression"
)

// Trigger is the condition half of a rule. The concrete variants are
// TimeTrigger, ThresholdTrigger, EventTrigger, ExpressionTrigger and
// InertTrigger; anything else never fires.
type Trigger interface {
	Kind() TriggerKind
}

// TimeTrigger fires once the context's current_time reaches Timestamp (unix seconds)
type TimeTrigger struct {
	Timestamp float64
}

func (TimeTrigger) Kind() TriggerKind { return TriggerTime }

// Operator compares a context value against a threshold
type Operator string

const (
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpGreater        Operator = ">"
)

// ThresholdTrigger compares context[Field] against Value.
// An empty Operator means >=.
type ThresholdTrigger struct {
	Field    string
	Operator Operator
	Value    float64
}

func (ThresholdTrigger) Kind() TriggerKind { return TriggerThreshold }

// EventTrigger fires when Event is present in the context's events
type EventTrigger struct {
	Event string
}

func (EventTrigger) Kind() TriggerKind { return TriggerEvent }

// ExpressionTrigger fires when a CEL expression over the context evaluates to true.
// The context is bound to the variable `ctx`.
type ExpressionTrigger struct {
	Expression string
}

func (ExpressionTrigger) Kind() TriggerKind { return TriggerExpression }

// InertTrigger stands in for an unknown trigger kind or a condition that
// could not be decoded. It never fires.
type InertTrigger struct {
	Name   TriggerKind
	Reason string
}

func (t InertTrigger) Kind() TriggerKind { return t.Name }

// Rule is a named automation policy held by the engine
type Rule struct {
	Name         string
	Description  string
	Trigger      Trigger
	Action       Action
	Enabled      bool
	LastExecuted *time.Time
}

// RuleSpec describes a rule to add. A nil Enabled defaults to true.
type RuleSpec struct {
	Name        string
	Description string
	Trigger     Trigger
	Action      Action
	Enabled     *bool
}

// TriggeredAction is produced for every rule that fired during one evaluation
type TriggeredAction struct {
	RuleIndex   int       `json:"rule_index"`
	RuleName    string    `json:"rule_name"`
	Action      Action    `json:"action"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// LogEntry records one rule firing. Context excludes the per-cycle events.
type LogEntry struct {
	Rule      string         `json:"rule"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context_snapshot"`
}

// RuleStatus is a read-only projection of a rule
type RuleStatus struct {
	Name         string      `json:"name"`
	Trigger      TriggerKind `json:"trigger"`
	Enabled      bool        `json:"enabled"`
	LastExecuted *time.Time  `json:"last_executed"`
}

func triggerKind(t Trigger) TriggerKind {
	if t == nil {
		return ""
	}
	return t.Kind()
}
