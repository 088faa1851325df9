// Package campus wires the rules engine to the governance subsystems:
// the default rule catalogue plus one adapter per subsystem.
package campus

import "github.com/campustrust/governance/rules"

// Default rule names
const (
	RuleFinalizeElection  = "auto_finalize_election"
	RuleCloseFeedback     = "auto_close_feedback_threshold"
	RuleFlagAttendance    = "auto_flag_attendance_anomaly"
	RuleIssueCredential   = "auto_issue_credential"
	RuleNegativeSentiment = "negative_sentiment_alert"
	RuleEndSession        = "auto_end_session"
)

// Events raised by the adapters
const (
	EventElectionTimeExpired = "election_time_expired"
	EventCourseCompleted     = "course_completed"
	EventSessionTimeExpired  = "session_time_expired"
)

// Context fields written by the adapters
const (
	FieldFeedbackCount    = "feedback_count"
	FieldAvgSentiment     = "avg_sentiment"
	FieldAnomalyRiskScore = "anomaly_risk_score"
)

// Catalogue thresholds
const (
	FeedbackCloseThreshold   = 50
	AnomalyFlagThreshold     = 70
	NegativeSentimentCeiling = 35
)

// DefaultRules returns the six governance rules in registration order
func DefaultRules() []rules.RuleSpec {
	return []rules.RuleSpec{
		{
			Name:        RuleFinalizeElection,
			Description: "Automatically finalize election results when voting period ends",
			Trigger:     rules.EventTrigger{Event: EventElectionTimeExpired},
			Action: rules.ContractCallAction{
				Contract:    "voting",
				Method:      "finalize",
				Description: "Finalize election and lock results on-chain",
			},
		},
		{
			Name:        RuleCloseFeedback,
			Description: "Close feedback collection when target responses reached",
			Trigger: rules.ThresholdTrigger{
				Field:    FieldFeedbackCount,
				Operator: rules.OpGreaterOrEqual,
				Value:    FeedbackCloseThreshold,
			},
			Action: rules.ContractCallAction{
				Contract:    "feedback",
				Method:      "close",
				Description: "Close feedback collection after 50 responses",
			},
		},
		{
			Name:        RuleFlagAttendance,
			Description: "Automatically flag students with high anomaly risk scores",
			Trigger: rules.ThresholdTrigger{
				Field:    FieldAnomalyRiskScore,
				Operator: rules.OpGreaterOrEqual,
				Value:    AnomalyFlagThreshold,
			},
			Action: rules.ContractCallAction{
				Contract:    "attendance",
				Method:      "flag_anomaly",
				Description: "Flag student attendance as anomalous on-chain",
			},
		},
		{
			Name:        RuleIssueCredential,
			Description: "Issue blockchain credential when student completes course",
			Trigger:     rules.EventTrigger{Event: EventCourseCompleted},
			Action: rules.ContractCallAction{
				Contract:    "credential",
				Method:      "issue",
				Description: "Issue verifiable credential as Algorand on-chain record",
			},
		},
		{
			Name:        RuleNegativeSentiment,
			Description: "Alert when average feedback sentiment drops below threshold",
			Trigger: rules.ThresholdTrigger{
				Field:    FieldAvgSentiment,
				Operator: rules.OpLessOrEqual,
				Value:    NegativeSentimentCeiling,
			},
			Action: rules.NotificationAction{
				Message:     "Feedback sentiment has dropped below 35%. Review recommended.",
				Description: "Send alert about declining feedback quality",
			},
		},
		{
			Name:        RuleEndSession,
			Description: "Automatically end attendance session when time expires",
			Trigger:     rules.EventTrigger{Event: EventSessionTimeExpired},
			Action: rules.ContractCallAction{
				Contract:    "attendance",
				Method:      "end_session",
				Description: "End current attendance session on-chain",
			},
		},
	}
}
