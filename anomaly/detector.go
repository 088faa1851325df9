// Package anomaly scores student attendance records for signs of proxy
// attendance and automated check-ins.
package anomaly

import (
	"log/slog"
	"math"
	"time"
)

// Sub-score weights in percent
const (
	weightTime      = 30
	weightPattern   = 30
	weightFrequency = 20
	weightStreak    = 20
)

// A composite score must exceed a threshold to reach its tier
const (
	HighRiskThreshold   = 70
	MediumRiskThreshold = 40
)

const unknownStudent = "unknown"

var recommendations = map[Flag]string{
	FlagHigh:   "Manual verification recommended. Multiple anomaly patterns detected.",
	FlagMedium: "Some unusual patterns detected. Monitor closely.",
	FlagLow:    "Attendance patterns appear normal.",
}

// Detector is stateless apart from configuration and safe for concurrent use
type Detector struct {
	loc    *time.Location
	logger *slog.Logger
}

// Option configures a Detector
type Option func(*Detector)

// WithLocation sets the zone used to derive hour-of-day from check-in timestamps
func WithLocation(loc *time.Location) Option {
	return func(d *Detector) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithLogger sets the logger used for per-analysis debug output
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDetector creates a Detector that reads hours in UTC unless configured otherwise
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		loc:    time.UTC,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AnalyzeStudent scores a single record. It never fails: missing fields
// act as empty and each sub-analysis that lacks data contributes zero.
func (d *Detector) AnalyzeStudent(r Record) Result {
	attended := len(r.SessionIDs)

	timeScore := d.checkTime(r.CheckinTimes)
	patternScore := d.checkPattern(r.SessionIDs, r.TotalSessions)
	freqScore := d.checkFrequency(r.CheckinTimes)
	streakScore := d.checkStreak(r.Streak, r.TotalSessions, attended)

	score := clamp((weightTime*timeScore.risk +
		weightPattern*patternScore.risk +
		weightFrequency*freqScore.risk +
		weightStreak*streakScore.risk) / 100)

	findings := make([]Finding, 0, len(timeScore.findings)+len(patternScore.findings)+len(freqScore.findings)+len(streakScore.findings))
	findings = append(findings, timeScore.findings...)
	findings = append(findings, patternScore.findings...)
	findings = append(findings, freqScore.findings...)
	findings = append(findings, streakScore.findings...)

	flag := FlagFor(score)
	result := Result{
		StudentID:      r.StudentID,
		RiskScore:      score,
		Flag:           flag,
		Recommendation: recommendations[flag],
		Anomalies:      findings,
		RiskComponents: Components{
			TimeAnomaly:      timeScore.risk,
			PatternAnomaly:   patternScore.risk,
			FrequencyAnomaly: freqScore.risk,
			StreakAnomaly:    streakScore.risk,
		},
		Stats: Stats{
			SessionsAttended: attended,
			TotalSessions:    r.TotalSessions,
			AttendanceRate:   round1(float64(attended) / float64(max(r.TotalSessions, 1)) * 100),
			CurrentStreak:    r.Streak,
		},
	}

	d.logger.Debug("attendance analysed",
		"student_id", r.StudentID,
		"risk_score", score,
		"flag", flag,
		"anomalies", len(findings))

	return result
}

// AnalyzeClass scores every record in order and summarises the class.
// Records without a student ID are reported as "unknown".
func (d *Detector) AnalyzeClass(records []Record) ClassResult {
	if len(records) == 0 {
		return ClassResult{Results: []Result{}}
	}

	out := ClassResult{
		Results:         make([]Result, 0, len(records)),
		FlaggedStudents: []Result{},
		Summary:         &ClassSummary{TotalStudents: len(records)},
	}

	var riskSum int
	var rateSum float64
	for _, r := range records {
		if r.StudentID == "" {
			r.StudentID = unknownStudent
		}
		res := d.AnalyzeStudent(r)
		out.Results = append(out.Results, res)

		riskSum += res.RiskScore
		rateSum += res.Stats.AttendanceRate
		if res.RiskScore > out.Summary.MaxRiskScore {
			out.Summary.MaxRiskScore = res.RiskScore
		}

		switch res.Flag {
		case FlagHigh:
			out.Summary.HighRiskCount++
			out.FlaggedStudents = append(out.FlaggedStudents, res)
		case FlagMedium:
			out.Summary.MediumRiskCount++
			out.FlaggedStudents = append(out.FlaggedStudents, res)
		default:
			out.Summary.LowRiskCount++
		}
	}

	n := float64(len(records))
	out.Summary.AvgRiskScore = round1(float64(riskSum) / n)
	out.Summary.AvgAttendanceRate = round1(rateSum / n)

	d.logger.Info("class attendance analysed",
		"students", len(records),
		"flagged", len(out.FlaggedStudents),
		"max_risk_score", out.Summary.MaxRiskScore)

	return out
}

// FlagFor maps a composite score onto its risk tier
func FlagFor(score int) Flag {
	switch {
	case score > HighRiskThreshold:
		return FlagHigh
	case score > MediumRiskThreshold:
		return FlagMedium
	default:
		return FlagLow
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
