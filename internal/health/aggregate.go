// Package health reduces normalized job records into per-platform summaries
// and a cross-platform assessment. Everything here is pure arithmetic over
// already-fetched data.
package health

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// Error pattern categories. A failed record falls into exactly one.
const (
	PatternTimeout        = "timeout"
	PatternConnection     = "connection"
	PatternAuthentication = "authentication"
	PatternOther          = "other"
)

// Platform status labels, strictest first.
const (
	StatusExcellent = "Excellent - All systems operational"
	StatusGood      = "Good - Minor issues detected"
	StatusFair      = "Fair - Some issues need attention"
	StatusPoor      = "Poor - Multiple issues detected"
	StatusCritical  = "Critical - Major failures detected"
)

// Aggregate reduces one platform's records into a summary. connections may
// be nil when the platform does not report connection health.
func Aggregate(kind platform.PlatformKind, records []platform.JobStatusRecord, connections []platform.ConnectionHealth, now time.Time) platform.PlatformHealthSummary {
	s := platform.PlatformHealthSummary{
		Platform:      kind,
		TotalJobs:     len(records),
		ErrorPatterns: map[string]int{},
		LastCheck:     now.UTC(),
	}

	failedNames := map[string]struct{}{}
	var durationSum, durationCount int64
	for _, r := range records {
		switch r.Status {
		case platform.StatusSuccess:
			s.SuccessfulJobs++
		case platform.StatusFailed:
			s.FailedJobs++
			failedNames[r.JobName] = struct{}{}
			if r.ErrorMessage != nil && *r.ErrorMessage != "" {
				s.ErrorPatterns[ClassifyError(*r.ErrorMessage)]++
			}
		case platform.StatusRunning:
			s.RunningJobs++
		}
		if r.DurationSeconds != nil && *r.DurationSeconds > 0 {
			durationSum += *r.DurationSeconds
			durationCount++
		}
	}

	if s.TotalJobs > 0 {
		s.SuccessRate = round2(float64(s.SuccessfulJobs) / float64(s.TotalJobs) * 100)
		s.FailureRate = round2(float64(s.FailedJobs) / float64(s.TotalJobs) * 100)
	}
	if durationCount > 0 {
		s.AvgDurationSeconds = round2(float64(durationSum) / float64(durationCount))
	}

	s.FailedJobNames = make([]string, 0, len(failedNames))
	for name := range failedNames {
		s.FailedJobNames = append(s.FailedJobNames, name)
	}
	sort.Strings(s.FailedJobNames)

	// No observed jobs is not a failure signal.
	rate := s.SuccessRate
	if s.TotalJobs == 0 {
		rate = 100
	}
	s.PlatformStatus, s.RiskLevel = Classify(rate, s.FailedJobs)

	s.Issues = []string{}
	if s.FailedJobs > 3 {
		s.Issues = append(s.Issues, fmt.Sprintf("High number of failed jobs: %d", s.FailedJobs))
	}
	if rate < 85 {
		s.Issues = append(s.Issues, fmt.Sprintf("Low success rate: %.1f%%", rate))
	}

	s.TotalConnections = len(connections)
	for _, c := range connections {
		if c.IsHealthy {
			s.HealthyConnections++
		}
	}
	if unhealthy := s.TotalConnections - s.HealthyConnections; unhealthy > 0 {
		s.Issues = append(s.Issues, fmt.Sprintf("%d unhealthy connections detected", unhealthy))
	}

	s.Recommendations = recommendations(s.FailedJobs, rate, s.ErrorPatterns)
	s.RequiresAttention = s.RiskLevel.AtLeast(platform.RiskHigh) || len(s.Issues) > 2
	return s
}

// Classify maps a success rate and failure count to a platform status and
// risk level. The first matching threshold wins.
func Classify(successRate float64, failedJobs int) (string, platform.RiskLevel) {
	switch {
	case successRate >= 95 && failedJobs == 0:
		return StatusExcellent, platform.RiskLow
	case successRate >= 85 && failedJobs <= 2:
		return StatusGood, platform.RiskLow
	case successRate >= 70 && failedJobs <= 5:
		return StatusFair, platform.RiskMedium
	case successRate >= 50:
		return StatusPoor, platform.RiskHigh
	default:
		return StatusCritical, platform.RiskCritical
	}
}

// ClassifyError buckets an error message by its first matching keyword.
func ClassifyError(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "timeout"):
		return PatternTimeout
	case strings.Contains(m, "connection"):
		return PatternConnection
	case strings.Contains(m, "auth"):
		return PatternAuthentication
	default:
		return PatternOther
	}
}

func recommendations(failed int, rate float64, patterns map[string]int) []string {
	recs := []string{}
	if failed > 0 {
		recs = append(recs, fmt.Sprintf("Investigate %d failed jobs", failed))
	}
	if patterns[PatternTimeout] > 0 {
		recs = append(recs, "Review job timeout configurations")
	}
	if patterns[PatternConnection] > 0 {
		recs = append(recs, "Check connection configurations and network connectivity")
	}
	if patterns[PatternAuthentication] > 0 {
		recs = append(recs, "Verify API credentials and authentication settings")
	}
	if rate < 90 {
		recs = append(recs, "Consider implementing job retry mechanisms")
	}
	return recs
}

// FailedPlatform builds the marker for a platform whose collector call
// failed. It carries no summary so it cannot be mistaken for a healthy
// platform with zero jobs.
func FailedPlatform(kind platform.PlatformKind, err error, elapsed time.Duration) platform.PlatformResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return platform.PlatformResult{
		Platform: kind,
		Success:  false,
		Error:    msg,
		Duration: elapsed,
	}
}

// SucceededPlatform wraps a summary and its records as a successful result.
func SucceededPlatform(summary platform.PlatformHealthSummary, records []platform.JobStatusRecord, elapsed time.Duration) platform.PlatformResult {
	return platform.PlatformResult{
		Platform: summary.Platform,
		Success:  true,
		Summary:  &summary,
		Records:  records,
		Duration: elapsed,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
