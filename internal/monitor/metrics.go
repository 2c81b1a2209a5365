package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// Metrics holds the cycle instruments.
type Metrics struct {
	cycles        *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	jobs          *prometheus.GaugeVec
	riskLevel     prometheus.Gauge
	notifications *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipewatch",
			Name:      "cycles_total",
			Help:      "Monitoring cycles by outcome.",
		}, []string{"mode", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pipewatch",
			Name:      "platform_fetch_duration_seconds",
			Help:      "Time spent fetching and aggregating one platform.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"platform", "outcome"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pipewatch",
			Name:      "jobs",
			Help:      "Jobs seen in the last cycle by platform and status.",
		}, []string{"platform", "status"}),
		riskLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipewatch",
			Name:      "risk_level",
			Help:      "Risk level of the last cycle (0=LOW, 3=CRITICAL).",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipewatch",
			Name:      "notifications_total",
			Help:      "Notification attempts by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.fetchDuration, m.jobs, m.riskLevel, m.notifications)
	}
	return m
}

func (m *Metrics) observeFetch(kind platform.PlatformKind, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(string(kind), outcome(ok)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeCycle(result *platform.MonitoringResult) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result.Mode, outcome(result.Success)).Inc()
	m.riskLevel.Set(float64(result.Assessment.RiskLevel))

	m.jobs.Reset()
	counts := map[[2]string]int{}
	for _, r := range result.Records {
		counts[[2]string{string(r.Platform), string(r.Status)}]++
	}
	for k, n := range counts {
		m.jobs.WithLabelValues(k[0], k[1]).Set(float64(n))
	}
}

func (m *Metrics) observeNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
