package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alphauslabs/pipewatch/internal/archive"
	"github.com/alphauslabs/pipewatch/internal/health"
	"github.com/alphauslabs/pipewatch/internal/notify"
	"github.com/alphauslabs/pipewatch/internal/persist"
	"github.com/alphauslabs/pipewatch/internal/platform"
)

// Cycle modes.
const (
	ModeFull   = "full"
	ModeHealth = "health"
)

// Notification outcomes reported in metrics.
const (
	notifySent    = "sent"
	notifyDrafted = "drafted"
	notifyPreview = "preview"
	notifyFailed  = "failed"
	notifySkipped = "skipped"
)

// Persister stores cycle output.
type Persister interface {
	Persist(ctx context.Context, result *platform.MonitoringResult) persist.StorageSummary
}

// Notifier delivers a rendered notification.
type Notifier interface {
	Deliver(ctx context.Context, n notify.EmailNotification, from string, draft bool) notify.NotificationResult
}

// Config holds the cycle defaults.
type Config struct {
	PlatformTimeout time.Duration
	Filters         platform.Filters
	From            string
	Recipients      []string
	Draft           bool
}

// RunOptions override the defaults for one cycle.
type RunOptions struct {
	Mode         string                  `json:"mode"`
	MonitoringID string                  `json:"monitoring_id,omitempty"`
	Recipients   []string                `json:"recipients,omitempty"`
	From         string                  `json:"from,omitempty"`
	Draft        bool                    `json:"draft,omitempty"`
	Platforms    []platform.PlatformKind `json:"platforms,omitempty"`
}

// Report is a finished cycle with its side-effect outcomes.
type Report struct {
	platform.MonitoringResult
	Storage      *persist.StorageSummary    `json:"storage,omitempty"`
	Notification *notify.NotificationResult `json:"notification,omitempty"`
	ArchivedTo   string                     `json:"archived_to,omitempty"`
}

// Monitor runs monitoring cycles across the configured collectors.
type Monitor struct {
	collectors []platform.Collector
	cfg        Config
	persister  Persister
	notifier   Notifier
	archive    archive.Writer
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu   sync.RWMutex
	last *Report
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithPersister(p Persister) Option      { return func(m *Monitor) { m.persister = p } }
func WithNotifier(n Notifier) Option        { return func(m *Monitor) { m.notifier = n } }
func WithArchive(w archive.Writer) Option   { return func(m *Monitor) { m.archive = w } }
func WithMetrics(metrics *Metrics) Option   { return func(m *Monitor) { m.metrics = metrics } }
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }
func WithLogger(logger *zap.Logger) Option  { return func(m *Monitor) { m.logger = logger } }

// New creates a monitor over collectors.
func New(collectors []platform.Collector, cfg Config, opts ...Option) *Monitor {
	if cfg.PlatformTimeout <= 0 {
		cfg.PlatformTimeout = 30 * time.Second
	}
	m := &Monitor{
		collectors: collectors,
		cfg:        cfg,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close releases collectors that hold connections.
func (m *Monitor) Close() error {
	var errs []error
	for _, c := range m.collectors {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close %s collector: %w", c.Kind(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Platforms lists the platforms with a collector.
func (m *Monitor) Platforms() []platform.PlatformKind {
	out := make([]platform.PlatformKind, 0, len(m.collectors))
	for _, c := range m.collectors {
		out = append(out, c.Kind())
	}
	return out
}

// Last returns the most recent report, or nil before the first cycle.
func (m *Monitor) Last() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Fetch polls one platform outside a cycle.
func (m *Monitor) Fetch(ctx context.Context, kind platform.PlatformKind, filters platform.Filters) ([]platform.JobStatusRecord, error) {
	for _, c := range m.collectors {
		if c.Kind() == kind {
			ctx, cancel := context.WithTimeout(ctx, m.cfg.PlatformTimeout)
			defer cancel()
			return c.FetchRuns(ctx, filters)
		}
	}
	return nil, fmt.Errorf("platform %s is not configured", kind)
}

// ConnectionHealth reports the connections or clusters of one platform
// outside a cycle.
func (m *Monitor) ConnectionHealth(ctx context.Context, kind platform.PlatformKind) ([]platform.ConnectionHealth, error) {
	for _, c := range m.collectors {
		if c.Kind() != kind {
			continue
		}
		ctx, cancel := context.WithTimeout(ctx, m.cfg.PlatformTimeout)
		defer cancel()
		switch hc := c.(type) {
		case platform.ConnectionHealthCollector:
			return hc.FetchConnectionHealth(ctx)
		case platform.ClusterHealthCollector:
			return hc.FetchClusterHealth(ctx)
		default:
			return nil, fmt.Errorf("platform %s does not report connection health", kind)
		}
	}
	return nil, fmt.Errorf("platform %s is not configured", kind)
}

// Run executes one cycle. Platform failures are folded into the assessment;
// the returned error is reserved for invalid options.
func (m *Monitor) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeFull
	}
	if mode != ModeFull && mode != ModeHealth {
		return nil, fmt.Errorf("unsupported mode: %s", opts.Mode)
	}
	collectors, err := m.selectCollectors(opts.Platforms)
	if err != nil {
		return nil, err
	}

	started := m.now().UTC()
	id := opts.MonitoringID
	if id == "" {
		id = persist.NewMonitoringID(started)
	}
	logger := m.logger.With(zap.String("monitoring_id", id), zap.String("mode", mode))
	logger.Info("starting monitoring cycle", zap.Int("platforms", len(collectors)))

	results := m.collectAll(ctx, collectors, logger)
	assessment := health.Assess(results, m.now().UTC())

	report := &Report{MonitoringResult: platform.MonitoringResult{
		MonitoringID:      id,
		Mode:              mode,
		StartedAt:         started,
		PlatformResults:   results,
		PlatformSummaries: []platform.PlatformHealthSummary{},
		Assessment:        assessment,
		Records:           []platform.JobStatusRecord{},
		Errors:            []string{},
	}}
	for _, r := range results {
		if !r.Success {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", r.Platform.DisplayName(), r.Error))
			continue
		}
		if r.Summary != nil {
			report.PlatformSummaries = append(report.PlatformSummaries, *r.Summary)
		}
		report.Records = append(report.Records, r.Records...)
	}

	report.Success = true
	// The session row needs a completion time before it is written.
	report.CompletedAt = m.now().UTC()
	if mode == ModeFull {
		m.persistAndNotify(ctx, report, opts, logger)
		report.CompletedAt = m.now().UTC()
	}

	m.archiveReport(ctx, report, logger)
	m.metrics.observeCycle(&report.MonitoringResult)

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()

	logger.Info("monitoring cycle complete",
		zap.String("risk_level", assessment.RiskLevel.String()),
		zap.String("overall_health", assessment.OverallHealth),
		zap.Int("jobs", assessment.JobsAnalyzed),
		zap.Int("failed_jobs", assessment.FailedJobsCount),
		zap.Bool("success", report.Success),
	)
	return report, nil
}

func (m *Monitor) selectCollectors(kinds []platform.PlatformKind) ([]platform.Collector, error) {
	if len(kinds) == 0 {
		return m.collectors, nil
	}
	var out []platform.Collector
	for _, k := range kinds {
		found := false
		for _, c := range m.collectors {
			if c.Kind() == k {
				out = append(out, c)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("platform %s is not configured", k)
		}
	}
	return out, nil
}

// collectAll polls every collector concurrently. Each goroutine writes only
// its own slot and never returns an error, so one platform cannot cancel
// the others.
func (m *Monitor) collectAll(ctx context.Context, collectors []platform.Collector, logger *zap.Logger) []platform.PlatformResult {
	results := make([]platform.PlatformResult, len(collectors))
	var g errgroup.Group
	for i, c := range collectors {
		i, c := i, c
		g.Go(func() error {
			results[i] = m.collect(ctx, c, logger)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Monitor) collect(ctx context.Context, c platform.Collector, logger *zap.Logger) (result platform.PlatformResult) {
	kind := c.Kind()
	start := m.now()
	logger = logger.With(zap.String("platform", string(kind)))

	defer func() {
		if p := recover(); p != nil {
			result = health.FailedPlatform(kind, fmt.Errorf("collector panic: %v", p), m.now().Sub(start))
		}
		m.metrics.observeFetch(kind, result.Success, result.Duration)
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.PlatformTimeout)
	defer cancel()

	records, err := c.FetchRuns(ctx, m.cfg.Filters)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", m.cfg.PlatformTimeout, err)
		}
		logger.Error("platform monitoring failed", zap.Error(err))
		return health.FailedPlatform(kind, err, m.now().Sub(start))
	}

	var connections []platform.ConnectionHealth
	if hc, ok := c.(platform.ConnectionHealthCollector); ok {
		connections, err = hc.FetchConnectionHealth(ctx)
		if err != nil {
			logger.Warn("connection health unavailable", zap.Error(err))
			connections = nil
		}
	}

	summary := health.Aggregate(kind, records, connections, m.now().UTC())
	logger.Info("platform monitored",
		zap.Int("jobs", summary.TotalJobs),
		zap.Int("failed", summary.FailedJobs),
		zap.String("status", summary.PlatformStatus),
	)
	return health.SucceededPlatform(summary, records, m.now().Sub(start))
}

// persistAndNotify runs storage and notification concurrently and folds
// both outcomes into the report.
func (m *Monitor) persistAndNotify(ctx context.Context, report *Report, opts RunOptions, logger *zap.Logger) {
	var (
		wg           sync.WaitGroup
		storage      *persist.StorageSummary
		notification *notify.NotificationResult
		notifyErr    error
	)

	if m.persister != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := m.persister.Persist(ctx, &report.MonitoringResult)
			storage = &s
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		notification, notifyErr = m.notify(ctx, &report.MonitoringResult, opts, logger)
	}()
	wg.Wait()

	report.Storage = storage
	if storage != nil && !storage.Success {
		report.Success = false
		for _, e := range storage.Errors() {
			report.Errors = append(report.Errors, "storage "+e)
		}
	}

	report.Notification = notification
	if notifyErr != nil {
		report.Success = false
		report.Errors = append(report.Errors, "notification: "+notifyErr.Error())
	} else if notification != nil && !notification.Success {
		report.Success = false
		report.Errors = append(report.Errors, "notification: "+notification.ErrorMessage)
	}
}

func (m *Monitor) notify(ctx context.Context, result *platform.MonitoringResult, opts RunOptions, logger *zap.Logger) (*notify.NotificationResult, error) {
	a := result.Assessment
	if !notify.ShouldNotify(a) {
		logger.Info("all platforms healthy, skipping notification")
		m.metrics.observeNotification(notifySkipped)
		return nil, nil
	}

	addrs := opts.Recipients
	if len(addrs) == 0 {
		addrs = m.cfg.Recipients
	}
	recipients := notify.ParseRecipients(addrs)
	if len(recipients) == 0 || m.notifier == nil {
		logger.Info("no recipients configured, skipping notification")
		m.metrics.observeNotification(notifySkipped)
		return nil, nil
	}

	rendered, err := notify.Render(result.MonitoringID, a, result.PlatformSummaries, m.now())
	if err != nil {
		m.metrics.observeNotification(notifyFailed)
		return nil, fmt.Errorf("failed to render notification: %w", err)
	}
	n := notify.BuildNotification(result.MonitoringID, rendered, recipients, map[string]any{
		"risk_level":      a.RiskLevel.String(),
		"critical_issues": a.CriticalIssues,
		"platforms":       result.PlatformNames(),
	}, m.now())

	from := opts.From
	if from == "" {
		from = m.cfg.From
	}
	res := m.notifier.Deliver(ctx, n, from, opts.Draft || m.cfg.Draft)

	switch {
	case !res.Success:
		m.metrics.observeNotification(notifyFailed)
	case res.Mode == notify.ModePreview:
		m.metrics.observeNotification(notifyPreview)
	case res.Mode == notify.ModeDraft:
		m.metrics.observeNotification(notifyDrafted)
	default:
		m.metrics.observeNotification(notifySent)
	}
	return &res, nil
}

func (m *Monitor) archiveReport(ctx context.Context, report *Report, logger *zap.Logger) {
	if m.archive == nil {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Error("failed to encode monitoring result", zap.Error(err))
		return
	}
	where, err := m.archive.Write(ctx, archive.FileName(report.MonitoringID), data)
	if err != nil {
		logger.Error("failed to archive monitoring result", zap.Error(err))
		report.Errors = append(report.Errors, "archive: "+err.Error())
		return
	}
	report.ArchivedTo = where
	logger.Info("archived monitoring result", zap.String("location", where))
}
