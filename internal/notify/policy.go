package notify

import "github.com/alphauslabs/pipewatch/internal/platform"

// TemplateKey selects one of the fixed message templates.
type TemplateKey string

const (
	TemplateCritical TemplateKey = "critical_alert"
	TemplateWarning  TemplateKey = "warning_alert"
	TemplateInfo     TemplateKey = "info_summary"
)

// SelectTemplate picks the template and priority for an assessment.
// The first matching rule wins.
func SelectTemplate(a platform.HealthAssessment) (TemplateKey, Priority) {
	switch {
	case a.RiskLevel == platform.RiskCritical || a.FailedJobsCount > 10:
		return TemplateCritical, PriorityUrgent
	case a.RiskLevel == platform.RiskHigh || a.FailedJobsCount > 5:
		return TemplateWarning, PriorityHigh
	default:
		return TemplateInfo, PriorityNormal
	}
}

// ShouldNotify reports whether a cycle warrants a message. A healthy cycle
// with no failed jobs stays silent.
func ShouldNotify(a platform.HealthAssessment) bool {
	silent := a.RiskLevel == platform.RiskLow && a.FailedJobsCount == 0 && !a.RequiresNotification
	return !silent
}
