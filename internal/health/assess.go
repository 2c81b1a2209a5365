package health

import (
	"fmt"
	"sort"
	"time"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// Overall health labels.
const (
	OverallCritical  = "Critical - Multiple systems experiencing issues"
	OverallPoor      = "Poor - Significant issues detected"
	OverallFair      = "Fair - Some issues require attention"
	OverallGood      = "Good - Minor issues detected"
	OverallExcellent = "Excellent - All systems operational"
	OverallUnknown   = "Unknown - Assessment failed"
)

// Assess folds every platform result of a cycle into one verdict. It waits
// on nothing and never fails: an internal fault yields a degraded assessment
// that forces a notification.
func Assess(results []platform.PlatformResult, now time.Time) (a platform.HealthAssessment) {
	defer func() {
		if r := recover(); r != nil {
			a = DegradedAssessment(now, fmt.Sprint(r))
		}
	}()
	return assess(results, now)
}

func assess(results []platform.PlatformResult, now time.Time) platform.HealthAssessment {
	a := platform.HealthAssessment{
		TotalPlatforms:      len(results),
		AssessmentTimestamp: now.UTC(),
	}

	issues := map[string]struct{}{}
	recs := map[string]struct{}{}
	for _, r := range results {
		if !r.Success {
			a.FailedPlatforms++
			msg := r.Error
			if msg == "" {
				msg = "Unknown error"
			}
			issues[fmt.Sprintf("%s monitoring failed: %s", r.Platform.DisplayName(), msg)] = struct{}{}
			continue
		}

		a.SuccessfulPlatforms++
		if r.Summary == nil {
			continue
		}
		s := r.Summary
		a.JobsAnalyzed += s.TotalJobs
		a.FailedJobsCount += s.FailedJobs
		for _, issue := range s.Issues {
			issues[issue] = struct{}{}
		}
		for _, rec := range s.Recommendations {
			recs[rec] = struct{}{}
		}
		if s.FailedJobs > 5 {
			issues[fmt.Sprintf("%s has %d failed jobs", r.Platform.DisplayName(), s.FailedJobs)] = struct{}{}
		}
	}

	rate := 100.0
	if a.JobsAnalyzed > 0 {
		rate = float64(a.JobsAnalyzed-a.FailedJobsCount) / float64(a.JobsAnalyzed) * 100
	}
	a.OverallSuccessRate = round2(rate)
	if a.TotalPlatforms > 0 {
		a.PlatformAvailability = round2(float64(a.SuccessfulPlatforms) / float64(a.TotalPlatforms) * 100)
	}

	a.CriticalIssues = sortedKeys(issues)
	a.Recommendations = sortedKeys(recs)
	a.RiskLevel, a.OverallHealth = overallRisk(a.FailedPlatforms, a.FailedJobsCount, rate, len(a.CriticalIssues))
	a.RequiresNotification = a.RiskLevel.AtLeast(platform.RiskHigh) || a.FailedJobsCount > 5
	return a
}

// overallRisk applies the cross-platform thresholds, first match wins.
func overallRisk(failedPlatforms, failedJobs int, successRate float64, issueCount int) (platform.RiskLevel, string) {
	switch {
	case failedPlatforms > 1 || failedJobs > 15:
		return platform.RiskCritical, OverallCritical
	case failedPlatforms == 1 || failedJobs > 8:
		return platform.RiskHigh, OverallPoor
	case failedJobs > 3 || successRate < 90:
		return platform.RiskMedium, OverallFair
	case successRate < 98 || issueCount > 0:
		return platform.RiskLow, OverallGood
	default:
		return platform.RiskLow, OverallExcellent
	}
}

// DegradedAssessment is returned when assessment itself fails. It always
// requires notification so a broken health check is never silent.
func DegradedAssessment(now time.Time, cause string) platform.HealthAssessment {
	return platform.HealthAssessment{
		RiskLevel:            platform.RiskMedium,
		OverallHealth:        OverallUnknown,
		RequiresNotification: true,
		CriticalIssues:       []string{"Health assessment failed: " + cause},
		Recommendations:      []string{},
		AssessmentTimestamp:  now.UTC(),
		Degraded:             true,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
