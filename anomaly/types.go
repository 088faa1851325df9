package anomaly

import "encoding/json"

// Severity of a single finding
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Flag is the risk tier derived from the composite score
type Flag string

const (
	FlagLow    Flag = "low_risk"
	FlagMedium Flag = "medium_risk"
	FlagHigh   Flag = "high_risk"
)

// Finding types
const (
	FindingUnusualCheckinTime = "unusual_checkin_time"
	FindingOffHoursCheckin    = "off_hours_checkin"
	FindingIrregularPattern   = "irregular_pattern"
	FindingLowAttendance      = "low_attendance"
	FindingRapidCheckin       = "rapid_checkin"
	FindingRoboticPattern     = "robotic_pattern"
	FindingSuspiciousStreak   = "suspicious_streak"
)

// Record is one student's attendance signals. Every field is optional.
type Record struct {
	StudentID     string  `json:"student_id,omitempty"`
	CheckinTimes  []int64 `json:"checkin_times"`
	SessionIDs    []int64 `json:"session_ids"`
	TotalSessions int     `json:"total_sessions"`
	Streak        int     `json:"streak"`
}

// Finding explains one detected anomaly
type Finding struct {
	Type     string   `json:"type"`
	Detail   string   `json:"detail"`
	Severity Severity `json:"severity"`
}

// Components holds the four 0-100 sub-scores
type Components struct {
	TimeAnomaly      int `json:"time_anomaly"`
	PatternAnomaly   int `json:"pattern_anomaly"`
	FrequencyAnomaly int `json:"frequency_anomaly"`
	StreakAnomaly    int `json:"streak_anomaly"`
}

// Stats summarises the record that was scored
type Stats struct {
	SessionsAttended int     `json:"sessions_attended"`
	TotalSessions    int     `json:"total_sessions"`
	AttendanceRate   float64 `json:"attendance_rate"` // percent, 1 decimal
	CurrentStreak    int     `json:"current_streak"`
}

// Result is the scorer's verdict for one student
type Result struct {
	StudentID      string     `json:"student_id,omitempty"`
	RiskScore      int        `json:"risk_score"`
	Flag           Flag       `json:"flag"`
	Recommendation string     `json:"recommendation"`
	Anomalies      []Finding  `json:"anomalies"`
	RiskComponents Components `json:"risk_components"`
	Stats          Stats      `json:"stats"`
}

// ClassSummary aggregates a class analysis
type ClassSummary struct {
	TotalStudents     int     `json:"total_students"`
	AvgRiskScore      float64 `json:"avg_risk_score"`
	MaxRiskScore      int     `json:"max_risk_score"`
	HighRiskCount     int     `json:"high_risk_count"`
	MediumRiskCount   int     `json:"medium_risk_count"`
	LowRiskCount      int     `json:"low_risk_count"`
	AvgAttendanceRate float64 `json:"avg_attendance_rate"`
}

// ClassResult holds per-student results, the flagged subset and a summary.
// Summary is nil when no students were analysed.
type ClassResult struct {
	Results         []Result      `json:"results"`
	FlaggedStudents []Result      `json:"flagged_students"`
	Summary         *ClassSummary `json:"summary"`
}

// MarshalJSON renders an empty analysis as {"results": [], "summary": {}}
func (c ClassResult) MarshalJSON() ([]byte, error) {
	if c.Summary == nil {
		return json.Marshal(struct {
			Results []Result `json:"results"`
			Summary struct{} `json:"summary"`
		}{Results: []Result{}})
	}

	type plain ClassResult
	return json.Marshal(plain(c))
}
