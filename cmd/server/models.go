package main

import (
	"encoding/json"

	"github.com/campustrust/governance/anomaly"
	"github.com/campustrust/governance/internal/logger"
	"github.com/campustrust/governance/outbox"
	"github.com/campustrust/governance/rules"
)

// API request and response models

// ClassAnalysisRequest is the body of POST /anomaly/class
type ClassAnalysisRequest struct {
	Students []anomaly.Record `json:"students"`
}

// EvaluateRequest is the body of POST /automation/evaluate
type EvaluateRequest struct {
	Module string          `json:"module" example:"feedback"`
	Data   json.RawMessage `json:"data"`
}

// TriggeredActionResponse is one fired rule as reported to callers
type TriggeredActionResponse struct {
	Rule      string       `json:"rule" example:"auto_close_feedback_threshold"`
	RuleIndex int          `json:"rule_index" example:"1"`
	Action    rules.Action `json:"action"`
	Timestamp float64      `json:"timestamp" example:"1741946400"`
}

// EvaluateResponse reports the actions fired by one evaluation and the
// outbox entries created for its contract calls
type EvaluateResponse struct {
	TriggeredActions []TriggeredActionResponse `json:"triggered_actions"`
	OutboxIDs        []string                  `json:"outbox_ids"`
}

// EvaluateErrorResponse reports rules that fired but whose contract calls
// could not be written to the outbox
type EvaluateErrorResponse struct {
	Error            string                    `json:"error" example:"Failed to record contract calls"`
	Details          string                    `json:"details,omitempty"`
	TriggeredActions []TriggeredActionResponse `json:"triggered_actions"`
}

// RulesListResponse lists the status of every rule
type RulesListResponse struct {
	Rules []rules.RuleStatus `json:"rules"`
}

// CreateRuleResponse is returned after a rule is added. Warnings never
// block the addition.
type CreateRuleResponse struct {
	Index    int      `json:"index" example:"6"`
	Name     string   `json:"name" example:"late_checkin_alert"`
	Warnings []string `json:"warnings"`
}

// SetEnabledRequest is the body of PUT /automation/rules/{name}/enabled
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// ExecutionLogResponse wraps the engine's execution log tail
type ExecutionLogResponse struct {
	Entries []rules.LogEntry `json:"entries"`
}

// PendingResponse lists outbox entries awaiting dispatch
type PendingResponse struct {
	Entries []*outbox.Entry `json:"entries"`
}

// HashRequest is the body of POST /hash
type HashRequest struct {
	Content json.RawMessage `json:"content"`
}

// HashResponse carries the hex digest
type HashResponse struct {
	Hash string `json:"hash" example:"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"`
}

// HealthResponse reports service state and counters
type HealthResponse struct {
	Status      string       `json:"status" example:"healthy"`
	TotalRules  int          `json:"total_rules"`
	ActiveRules int          `json:"active_rules"`
	Outbox      string       `json:"outbox" example:"memory"`
	Counters    logger.Stats `json:"counters"`
	Error       string       `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"missing required field: checkin_times"`
	Details string `json:"details,omitempty"`
}

func toResponse(triggered []rules.TriggeredAction) []TriggeredActionResponse {
	out := make([]TriggeredActionResponse, len(triggered))
	for i, t := range triggered {
		out[i] = TriggeredActionResponse{
			Rule:      t.RuleName,
			RuleIndex: t.RuleIndex,
			Action:    t.Action,
			Timestamp: float64(t.TriggeredAt.UnixNano()) / 1e9,
		}
	}
	return out
}
