package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	zScoreThreshold = 2.0
	minTimeSamples  = 5
	minFreqSamples  = 3
	minRegularity   = 5
	rapidWindow     = 60 // seconds
	robotCV         = 0.01
)

// subScore accumulates the risk and findings of one sub-analysis
type subScore struct {
	risk     int
	findings []Finding
}

func (s *subScore) add(risk int, f Finding) {
	s.risk += risk
	s.findings = append(s.findings, f)
}

func (s subScore) clamped() subScore {
	s.risk = clamp(s.risk)
	return s
}

// distance returns hi-lo for lo <= hi. The difference of any two int64
// values fits in a uint64, so extreme IDs and timestamps do not wrap.
func distance(lo, hi int64) uint64 {
	return uint64(hi) - uint64(lo)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// checkTime flags check-ins far from the student's usual hour and
// check-ins before 06:00 or after 22:00.
func (d *Detector) checkTime(timestamps []int64) subScore {
	if len(timestamps) < minTimeSamples {
		return subScore{}
	}

	hours := make([]float64, len(timestamps))
	for i, ts := range timestamps {
		t := time.Unix(ts, 0).In(d.loc)
		hours[i] = float64(t.Hour()) + float64(t.Minute())/60
	}

	mean, std := stat.PopMeanStdDev(hours, nil)
	if len(hours) == 1 {
		std = 1
	}

	var s subScore
	if std > 0 {
		for _, h := range hours {
			z := math.Abs(h-mean) / std
			if z <= zScoreThreshold {
				continue
			}
			severity := SeverityMedium
			if z >= 3 {
				severity = SeverityHigh
			}
			s.add(20, Finding{
				Type:     FindingUnusualCheckinTime,
				Detail:   fmt.Sprintf("Check-in at unusual time (%.1fh, z-score: %.1f)", h, z),
				Severity: severity,
			})
		}
	}

	offHours := 0
	for _, h := range hours {
		if h < 6 || h > 22 {
			offHours++
		}
	}
	if offHours > 0 {
		s.add(15*offHours, Finding{
			Type:     FindingOffHoursCheckin,
			Detail:   fmt.Sprintf("%d check-ins outside normal hours (6AM-10PM)", offHours),
			Severity: SeverityMedium,
		})
	}

	return s.clamped()
}

// checkPattern flags a large gap between attended sessions and very low attendance
func (d *Detector) checkPattern(sessionIDs []int64, totalSessions int) subScore {
	if len(sessionIDs) == 0 || totalSessions <= 0 {
		return subScore{}
	}

	var s subScore
	rate := float64(len(sessionIDs)) / float64(totalSessions)

	if len(sessionIDs) >= 3 {
		sorted := append([]int64(nil), sessionIDs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		gaps := make([]float64, len(sorted)-1)
		var maxGap uint64
		for i := 1; i < len(sorted); i++ {
			gap := distance(sorted[i-1], sorted[i])
			gaps[i-1] = float64(gap)
			if gap > maxGap {
				maxGap = gap
			}
		}

		avgGap := stat.Mean(gaps, nil)
		if float64(maxGap) > avgGap*3 && maxGap > 3 {
			s.add(30, Finding{
				Type:     FindingIrregularPattern,
				Detail:   fmt.Sprintf("Large attendance gap detected (max gap: %d sessions)", maxGap),
				Severity: SeverityMedium,
			})
		}
	}

	if rate < 0.3 && totalSessions > 5 {
		s.add(20, Finding{
			Type:     FindingLowAttendance,
			Detail:   fmt.Sprintf("Attendance rate is only %.0f%%", rate*100),
			Severity: SeverityLow,
		})
	}

	return s.clamped()
}

// checkFrequency flags check-ins less than a minute apart and
// intervals too regular to be human.
func (d *Detector) checkFrequency(timestamps []int64) subScore {
	if len(timestamps) < minFreqSamples {
		return subScore{}
	}

	sorted := append([]int64(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var s subScore
	intervals := make([]float64, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		diff := distance(sorted[i-1], sorted[i])
		intervals[i-1] = float64(diff)
		if diff > 0 && diff < rapidWindow {
			s.add(40, Finding{
				Type:     FindingRapidCheckin,
				Detail:   fmt.Sprintf("Two check-ins within %ds - possible proxy attendance", diff),
				Severity: SeverityHigh,
			})
		}
	}

	if len(sorted) >= minRegularity {
		mean, std := stat.PopMeanStdDev(intervals, nil)
		if mean > 0 && std/mean < robotCV {
			s.add(30, Finding{
				Type:     FindingRoboticPattern,
				Detail:   "Perfectly regular check-in intervals detected",
				Severity: SeverityMedium,
			})
		}
	}

	return s.clamped()
}

// checkStreak flags a long perfect streak that contradicts a poor overall rate
func (d *Detector) checkStreak(streak, totalSessions, attended int) subScore {
	if totalSessions <= 0 {
		return subScore{}
	}

	var s subScore
	rate := float64(attended) / float64(totalSessions)
	if streak == attended && streak > 10 && rate < 0.5 {
		s.add(25, Finding{
			Type:     FindingSuspiciousStreak,
			Detail:   fmt.Sprintf("Perfect streak of %d but only %.0f%% overall attendance", streak, rate*100),
			Severity: SeverityMedium,
		})
	}

	return s.clamped()
}
