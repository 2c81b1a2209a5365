package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// TimestampLayout formats times shown in messages.
const TimestampLayout = "2006-01-02 15:04:05 UTC"

// Rendered is a message produced from a template.
type Rendered struct {
	TemplateKey TemplateKey `json:"template_key"`
	Priority    Priority    `json:"priority"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
}

type platformLine struct {
	Name   string
	Status string
	Failed int
	Total  int
}

type messageData struct {
	Timestamp       string
	MonitoringID    string
	FailedCount     int
	TotalCount      int
	SuccessCount    int
	FailureRate     float64
	SuccessRate     float64
	RiskLevel       string
	Platforms       []platformLine
	Recommendations []string
}

const platformDetails = `{{define "platforms"}}{{if .Platforms}}<ul>{{range .Platforms}}<li><strong>{{.Name}}</strong>: {{.Status}} ({{.Failed}}/{{.Total}} failed)</li>{{end}}</ul>{{else}}<p>No platform details available</p>{{end}}{{end}}`

const recommendationList = `{{define "recommendations"}}{{if .Recommendations}}<ul>{{range .Recommendations}}<li>{{.}}</li>{{end}}</ul>{{else}}<p>No specific recommendations at this time.</p>{{end}}{{end}}`

const alertBody = `<html>
<body>
<h2>{{.Heading}}</h2>

<p><strong>Alert Time:</strong> {{.Timestamp}}</p>
<p><strong>Monitoring Session:</strong> {{.MonitoringID}}</p>

<h3>Summary</h3>
<ul>
    <li><strong>Failed Jobs:</strong> {{.FailedCount}} out of {{.TotalCount}}</li>
    <li><strong>Failure Rate:</strong> {{printf "%.1f" .FailureRate}}%</li>
    <li><strong>Risk Level:</strong> {{.RiskLevel}}</li>
</ul>

<h3>{{.PlatformHeading}}</h3>
{{template "platforms" .}}

<h3>Recommended Actions</h3>
{{template "recommendations" .}}

<p><em>This is an automated alert from the Data Pipeline Monitoring System.</em></p>
</body>
</html>
`

const summaryBody = `<html>
<body>
<h2>Data Pipeline Status Summary</h2>

<p><strong>Report Time:</strong> {{.Timestamp}}</p>
<p><strong>Monitoring Session:</strong> {{.MonitoringID}}</p>

<h3>Summary</h3>
<ul>
    <li><strong>Total Jobs Monitored:</strong> {{.TotalCount}}</li>
    <li><strong>Successful Jobs:</strong> {{.SuccessCount}}</li>
    <li><strong>Failed Jobs:</strong> {{.FailedCount}}</li>
    <li><strong>Success Rate:</strong> {{printf "%.1f" .SuccessRate}}%</li>
</ul>

<h3>Platform Status</h3>
{{template "platforms" .}}

<p><em>This is an automated report from the Data Pipeline Monitoring System.</em></p>
</body>
</html>
`

type messageTemplate struct {
	subject         func(d messageData) string
	heading         string
	platformHeading string
	body            *template.Template
}

var templates = map[TemplateKey]messageTemplate{
	TemplateCritical: {
		subject: func(d messageData) string {
			return fmt.Sprintf("CRITICAL: Data Pipeline Failures Detected - %d jobs failed", d.FailedCount)
		},
		heading:         "Critical Data Pipeline Alert",
		platformHeading: "Critical Platforms",
		body:            mustParse(string(TemplateCritical), alertBody),
	},
	TemplateWarning: {
		subject: func(d messageData) string {
			return fmt.Sprintf("WARNING: Data Pipeline Issues Detected - %d jobs need attention", d.FailedCount)
		},
		heading:         "Data Pipeline Warning Alert",
		platformHeading: "Platform Status",
		body:            mustParse(string(TemplateWarning), alertBody),
	},
	TemplateInfo: {
		subject: func(messageData) string {
			return "Data Pipeline Status Summary - All systems operational"
		},
		body: mustParse(string(TemplateInfo), summaryBody),
	},
}

func mustParse(name, body string) *template.Template {
	t := template.Must(template.New(name).Parse(platformDetails))
	template.Must(t.Parse(recommendationList))
	return template.Must(t.Parse(body))
}

// Render produces the subject and HTML body for an assessment. Missing
// optional data renders placeholders rather than failing.
func Render(monitoringID string, a platform.HealthAssessment, summaries []platform.PlatformHealthSummary, now time.Time) (Rendered, error) {
	key, priority := SelectTemplate(a)
	tmpl := templates[key]

	d := messageData{
		Timestamp:       now.UTC().Format(TimestampLayout),
		MonitoringID:    monitoringID,
		FailedCount:     a.FailedJobsCount,
		TotalCount:      a.JobsAnalyzed,
		SuccessCount:    a.JobsAnalyzed - a.FailedJobsCount,
		RiskLevel:       a.RiskLevel.String(),
		Recommendations: a.Recommendations,
	}
	if d.TotalCount > 0 {
		d.SuccessRate = float64(d.SuccessCount) / float64(d.TotalCount) * 100
		d.FailureRate = float64(d.FailedCount) / float64(d.TotalCount) * 100
	}
	for _, s := range summaries {
		d.Platforms = append(d.Platforms, platformLine{
			Name:   s.Platform.DisplayName(),
			Status: s.PlatformStatus,
			Failed: s.FailedJobs,
			Total:  s.TotalJobs,
		})
	}

	var buf bytes.Buffer
	err := tmpl.body.Execute(&buf, struct {
		messageData
		Heading         string
		PlatformHeading string
	}{d, tmpl.heading, tmpl.platformHeading})
	if err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s: %w", key, err)
	}

	return Rendered{
		TemplateKey: key,
		Priority:    priority,
		Subject:     tmpl.subject(d),
		Body:        buf.String(),
	}, nil
}
