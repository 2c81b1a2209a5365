package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/archive"
	"github.com/alphauslabs/pipewatch/internal/database"
	"github.com/alphauslabs/pipewatch/internal/health"
	"github.com/alphauslabs/pipewatch/internal/notify"
	"github.com/alphauslabs/pipewatch/internal/persist"
	"github.com/alphauslabs/pipewatch/internal/platform"
)

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeCollector struct {
	kind        platform.PlatformKind
	records     []platform.JobStatusRecord
	err         error
	block       bool
	panics      bool
	connections []platform.ConnectionHealth
	connErr     error
	closed      bool
}

func (f *fakeCollector) Kind() platform.PlatformKind { return f.kind }

func (f *fakeCollector) FetchRuns(ctx context.Context, _ platform.Filters) ([]platform.JobStatusRecord, error) {
	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.records, f.err
}

func (f *fakeCollector) Close() error {
	f.closed = true
	return nil
}

// healthCollector adds connection health to fakeCollector.
type healthCollector struct{ *fakeCollector }

func (h healthCollector) FetchConnectionHealth(context.Context) ([]platform.ConnectionHealth, error) {
	return h.connections, h.connErr
}

// clusterCollector adds cluster health to fakeCollector.
type clusterCollector struct{ *fakeCollector }

func (c clusterCollector) FetchClusterHealth(context.Context) ([]platform.ConnectionHealth, error) {
	return c.connections, c.connErr
}

type fakeNotifier struct {
	mu     sync.Mutex
	calls  []notify.EmailNotification
	from   string
	draft  bool
	result notify.NotificationResult
}

func (f *fakeNotifier) Deliver(_ context.Context, n notify.EmailNotification, from string, draft bool) notify.NotificationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	f.from, f.draft = from, draft
	res := f.result
	res.NotificationID = n.NotificationID
	return res
}

type failingPersister struct{}

func (failingPersister) Persist(_ context.Context, r *platform.MonitoringResult) persist.StorageSummary {
	return persist.StorageSummary{
		MonitoringID: r.MonitoringID,
		Records:      persist.OperationResult{Error: "warehouse suspended"},
		Session:      persist.OperationResult{Success: true, ID: r.MonitoringID},
		Summaries:    persist.OperationResult{Success: true},
	}
}

func jobs(kind platform.PlatformKind, n, failed int) []platform.JobStatusRecord {
	out := make([]platform.JobStatusRecord, 0, n)
	for i := 0; i < n; i++ {
		r := platform.JobStatusRecord{
			JobID:     fmt.Sprintf("%s_%d", kind, i),
			Platform:  kind,
			JobName:   fmt.Sprintf("Job %d", i),
			Status:    platform.StatusSuccess,
			Metadata:  map[string]any{},
			CheckedAt: fixedNow,
		}
		if i < failed {
			msg := "connection refused"
			r.Status = platform.StatusFailed
			r.ErrorMessage = &msg
		}
		out = append(out, r)
	}
	return out
}

func newMonitor(collectors []platform.Collector, opts ...Option) *Monitor {
	cfg := Config{PlatformTimeout: time.Second, From: "monitor@x.io", Recipients: []string{"ops@x.io"}}
	opts = append([]Option{WithClock(clock), WithLogger(zap.NewNop())}, opts...)
	return New(collectors, cfg, opts...)
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_HealthyCycleStaysSilent(t *testing.T) {
	wh := database.NewMemory()
	n := &fakeNotifier{result: notify.NotificationResult{Success: true, Mode: notify.ModeSend}}
	m := newMonitor([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 10, 0)},
		&fakeCollector{kind: platform.KindDatabricks, records: jobs(platform.KindDatabricks, 5, 0)},
	}, WithPersister(persist.NewCoordinator(wh, nil)), WithNotifier(n))

	report, err := m.Run(context.Background(), RunOptions{MonitoringID: "mon_test"})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, "mon_test", report.MonitoringID)
	assert.Equal(t, platform.RiskLow, report.Assessment.RiskLevel)
	assert.Len(t, report.Records, 15)
	assert.Len(t, report.PlatformSummaries, 2)
	assert.Nil(t, report.Notification)
	assert.Empty(t, n.calls)
	require.NotNil(t, report.Storage)
	assert.True(t, report.Storage.Success)
	assert.Equal(t, 15, wh.Len())
	assert.Same(t, report, m.Last())

	session, ok := wh.Session("mon_test")
	require.True(t, ok)
	assert.Equal(t, fixedNow, session.StartedAt)
	assert.Equal(t, fixedNow, session.CompletedAt)
	assert.False(t, session.CompletedAt.IsZero())
}

func TestRun_FailedPlatformNotifies(t *testing.T) {
	n := &fakeNotifier{result: notify.NotificationResult{Success: true, Mode: notify.ModeSend}}
	m := newMonitor([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 10, 1)},
		&fakeCollector{kind: platform.KindDatabricks, err: errors.New("401 unauthorized")},
	}, WithNotifier(n))

	report, err := m.Run(context.Background(), RunOptions{Draft: true})
	require.NoError(t, err)

	assert.True(t, report.Success, "a failed platform does not fail the cycle")
	assert.Equal(t, platform.RiskHigh, report.Assessment.RiskLevel)
	assert.Contains(t, report.Errors, "Databricks: 401 unauthorized")
	assert.Contains(t, report.Assessment.CriticalIssues, "Databricks monitoring failed: 401 unauthorized")

	require.Len(t, n.calls, 1)
	assert.Equal(t, "monitor@x.io", n.from)
	assert.True(t, n.draft)
	assert.Equal(t, notify.PriorityHigh, n.calls[0].Priority)
	assert.Equal(t, "ops@x.io", n.calls[0].Recipients[0].Email)
	assert.Equal(t, "HIGH", n.calls[0].Metadata["risk_level"])
	require.NotNil(t, report.Notification)
	assert.True(t, report.Notification.Success)
}

func TestRun_PlatformTimeout(t *testing.T) {
	m := New([]platform.Collector{
		&fakeCollector{kind: platform.KindSnowflakeTask, block: true},
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 3, 0)},
	}, Config{PlatformTimeout: 50 * time.Millisecond}, WithClock(clock))

	start := time.Now()
	report, err := m.Run(context.Background(), RunOptions{Mode: ModeHealth})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, report.PlatformResults, 2)
	assert.False(t, report.PlatformResults[0].Success)
	assert.Contains(t, report.PlatformResults[0].Error, "timed out after 50ms")
	assert.True(t, report.PlatformResults[1].Success, "slow platform does not block others")
	assert.Equal(t, 1, report.Assessment.FailedPlatforms)
}

func TestRun_CollectorPanicIsContained(t *testing.T) {
	m := newMonitor([]platform.Collector{&fakeCollector{kind: platform.KindPowerAutomate, panics: true}})

	report, err := m.Run(context.Background(), RunOptions{Mode: ModeHealth})
	require.NoError(t, err)
	assert.Contains(t, report.PlatformResults[0].Error, "collector panic: boom")
}

func TestRun_HealthModeSkipsSideEffects(t *testing.T) {
	wh := database.NewMemory()
	n := &fakeNotifier{}
	m := newMonitor([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 10, 9)},
	}, WithPersister(persist.NewCoordinator(wh, nil)), WithNotifier(n))

	report, err := m.Run(context.Background(), RunOptions{Mode: ModeHealth})
	require.NoError(t, err)
	assert.Equal(t, platform.RiskHigh, report.Assessment.RiskLevel)
	assert.Nil(t, report.Storage)
	assert.Nil(t, report.Notification)
	assert.Empty(t, n.calls)
	assert.Equal(t, 0, wh.Len())
}

func TestRun_PersistenceFailureFailsCycle(t *testing.T) {
	m := newMonitor([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 2, 0)},
	}, WithPersister(failingPersister{}))

	report, err := m.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Contains(t, report.Errors, "storage records: warehouse suspended")
	assert.Len(t, report.Records, 2, "records are still returned")
}

func TestRun_NotificationFailureFailsCycle(t *testing.T) {
	n := &fakeNotifier{result: notify.NotificationResult{Success: false, ErrorMessage: "forbidden", Mode: notify.ModeSend}}
	m := newMonitor([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 10, 6)},
	}, WithNotifier(n))

	report, err := m.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Contains(t, report.Errors, "notification: forbidden")
}

func TestRun_NoRecipientsSkipsNotification(t *testing.T) {
	n := &fakeNotifier{}
	m := New([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 10, 6)},
	}, Config{}, WithClock(clock), WithNotifier(n))

	report, err := m.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Empty(t, n.calls)
}

func TestRun_ConnectionHealth(t *testing.T) {
	c := healthCollector{&fakeCollector{
		kind:    platform.KindAirbyte,
		records: jobs(platform.KindAirbyte, 4, 0),
		connections: []platform.ConnectionHealth{
			{ID: "c1", Name: "pg", Status: "active", IsHealthy: true},
			{ID: "c2", Name: "s3", Status: "inactive", IsHealthy: false},
		},
	}}
	m := newMonitor([]platform.Collector{c})

	report, err := m.Run(context.Background(), RunOptions{Mode: ModeHealth})
	require.NoError(t, err)
	require.Len(t, report.PlatformSummaries, 1)
	assert.Equal(t, 2, report.PlatformSummaries[0].TotalConnections)
	assert.Equal(t, 1, report.PlatformSummaries[0].HealthyConnections)

	c.connErr = errors.New("connections endpoint down")
	c.connections = nil
	report, err = m.Run(context.Background(), RunOptions{Mode: ModeHealth})
	require.NoError(t, err)
	assert.True(t, report.PlatformResults[0].Success, "connection health errors are ignored")
}

func TestRun_ClusterHealthStaysOutOfSummary(t *testing.T) {
	clusters := []platform.ConnectionHealth{
		{ID: "0101", Name: "etl", Status: "RUNNING", IsHealthy: true},
		{ID: "0102", Name: "adhoc", Status: "TERMINATED", IsHealthy: false},
	}
	c := clusterCollector{&fakeCollector{
		kind:        platform.KindDatabricks,
		records:     jobs(platform.KindDatabricks, 5, 0),
		connections: clusters,
	}}
	m := newMonitor([]platform.Collector{c})

	report, err := m.Run(context.Background(), RunOptions{Mode: ModeHealth})
	require.NoError(t, err)
	require.Len(t, report.PlatformSummaries, 1)
	s := report.PlatformSummaries[0]
	assert.Zero(t, s.TotalConnections)
	assert.Empty(t, s.Issues)
	assert.Empty(t, report.Assessment.CriticalIssues)
	assert.Equal(t, health.OverallExcellent, report.Assessment.OverallHealth)

	got, err := m.ConnectionHealth(context.Background(), platform.KindDatabricks)
	require.NoError(t, err)
	assert.Equal(t, clusters, got)
}

func TestConnectionHealth(t *testing.T) {
	airbyte := healthCollector{&fakeCollector{
		kind:        platform.KindAirbyte,
		connections: []platform.ConnectionHealth{{ID: "c1", Status: "active", IsHealthy: true}},
	}}
	m := newMonitor([]platform.Collector{airbyte, &fakeCollector{kind: platform.KindSnowflakeTask}})

	got, err := m.ConnectionHealth(context.Background(), platform.KindAirbyte)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = m.ConnectionHealth(context.Background(), platform.KindSnowflakeTask)
	assert.ErrorContains(t, err, "does not report connection health")

	_, err = m.ConnectionHealth(context.Background(), platform.KindPowerAutomate)
	assert.ErrorContains(t, err, "not configured")
}

func TestRun_Archive(t *testing.T) {
	dir := t.TempDir()
	m := newMonitor([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 1, 0)},
	}, WithArchive(archive.FileWriter{Dir: dir}))

	report, err := m.Run(context.Background(), RunOptions{MonitoringID: "mon_arch", Mode: ModeHealth})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "monitoring_mon_arch.json"), report.ArchivedTo)

	data, err := os.ReadFile(report.ArchivedTo)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"monitoring_id": "mon_arch"`)
}

func TestRun_InvalidOptions(t *testing.T) {
	m := newMonitor([]platform.Collector{&fakeCollector{kind: platform.KindAirbyte}})

	_, err := m.Run(context.Background(), RunOptions{Mode: "partial"})
	assert.ErrorContains(t, err, "unsupported mode")

	_, err = m.Run(context.Background(), RunOptions{Platforms: []platform.PlatformKind{platform.KindDatabricks}})
	assert.ErrorContains(t, err, "not configured")
}

func TestRun_PlatformSubset(t *testing.T) {
	m := newMonitor([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 2, 0)},
		&fakeCollector{kind: platform.KindDatabricks, records: jobs(platform.KindDatabricks, 3, 0)},
	})

	report, err := m.Run(context.Background(), RunOptions{Mode: ModeHealth, Platforms: []platform.PlatformKind{platform.KindDatabricks}})
	require.NoError(t, err)
	require.Len(t, report.PlatformResults, 1)
	assert.Equal(t, platform.KindDatabricks, report.PlatformResults[0].Platform)
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := newMonitor([]platform.Collector{
		&fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 4, 1)},
	}, WithMetrics(metrics))

	_, err := m.Run(context.Background(), RunOptions{Mode: ModeHealth})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cycles.WithLabelValues(ModeHealth, "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.jobs.WithLabelValues("airbyte", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.jobs.WithLabelValues("airbyte", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.fetchDuration))
}

func TestFetchAndClose(t *testing.T) {
	c := &fakeCollector{kind: platform.KindAirbyte, records: jobs(platform.KindAirbyte, 2, 0)}
	m := newMonitor([]platform.Collector{c})

	records, err := m.Fetch(context.Background(), platform.KindAirbyte, platform.Filters{})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = m.Fetch(context.Background(), platform.KindDatabricks, platform.Filters{})
	assert.Error(t, err)

	assert.Equal(t, []platform.PlatformKind{platform.KindAirbyte}, m.Platforms())
	require.NoError(t, m.Close())
	assert.True(t, c.closed)
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

type fakeRunner struct {
	runs    atomic.Int32
	success bool
	onRun   func(n int32)
}

func (f *fakeRunner) Run(_ context.Context, opts RunOptions) (*Report, error) {
	n := f.runs.Add(1)
	if f.onRun != nil {
		f.onRun(n)
	}
	return &Report{MonitoringResult: platform.MonitoringResult{MonitoringID: opts.MonitoringID, Success: f.success}}, nil
}

func TestScheduler_RunsImmediatelyAndOnTicks(t *testing.T) {
	r := &fakeRunner{success: true}
	s := NewScheduler(r, 10*time.Millisecond, RunOptions{MonitoringID: "fixed"}, 3, zap.NewNop())
	r.onRun = func(n int32) {
		if n == 3 {
			s.Stop()
		}
	}

	require.NoError(t, s.Start(context.Background()))
	assert.GreaterOrEqual(t, r.runs.Load(), int32(3))
	assert.Empty(t, s.opts.MonitoringID, "each cycle gets a fresh id")

	s.Stop() // idempotent
}

func TestScheduler_StopsAfterMaxFailures(t *testing.T) {
	r := &fakeRunner{success: false}
	s := NewScheduler(r, 5*time.Millisecond, RunOptions{}, 2, nil)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.Equal(t, int32(2), r.runs.Load())
}

func TestScheduler_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{success: false, onRun: func(int32) { cancel() }}
	s := NewScheduler(r, time.Hour, RunOptions{}, 0, nil)

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, int32(1), r.runs.Load())
}
