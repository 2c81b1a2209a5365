// Package server exposes the monitor over HTTP: health, stats, stored
// records, on-demand cycles, the tools facade and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/database"
	"github.com/alphauslabs/pipewatch/internal/monitor"
	"github.com/alphauslabs/pipewatch/internal/persist"
	"github.com/alphauslabs/pipewatch/internal/platform"
	"github.com/alphauslabs/pipewatch/internal/tools"
)

const maxRecordLimit = 1000

// Cycles runs monitoring cycles and remembers the latest one.
type Cycles interface {
	Run(ctx context.Context, opts monitor.RunOptions) (*monitor.Report, error)
	Last() *monitor.Report
}

// Records reads stored job records.
type Records interface {
	QueryRecent(ctx context.Context, f database.RecordFilter) ([]database.StoredRecord, error)
}

// Deps wires the router. Records may be nil when no warehouse is configured.
type Deps struct {
	Cycles         Cycles
	Records        Records
	Tools          *tools.Registry
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zap.Logger
	Now            func() time.Time
}

type handlers struct {
	Deps
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(d.Logger), CORS(d.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/stats", h.getStats)
		api.GET("/records", h.listRecords)
		api.POST("/cycles", h.runCycle)
		api.GET("/tools", h.listTools)
		api.POST("/tools/:name", h.invokeTool)
	}

	if d.Tools != nil {
		path, rpc := tools.NewHandler(d.Tools)
		r.POST(path, gin.WrapH(rpc))
	}
	return r
}

type platformStat struct {
	Platform    platform.PlatformKind `json:"platform"`
	Status      string                `json:"status"`
	RiskLevel   platform.RiskLevel    `json:"risk_level"`
	TotalJobs   int                   `json:"total_jobs"`
	FailedJobs  int                   `json:"failed_jobs"`
	SuccessRate float64               `json:"success_rate"`
}

type statsResponse struct {
	MonitoringID     string             `json:"monitoring_id"`
	CompletedAt      time.Time          `json:"completed_at"`
	AgeSeconds       float64            `json:"age_seconds"`
	Success          bool               `json:"success"`
	RiskLevel        platform.RiskLevel `json:"risk_level"`
	OverallHealth    string             `json:"overall_health"`
	JobsAnalyzed     int                `json:"jobs_analyzed"`
	FailedJobs       int                `json:"failed_jobs"`
	SuccessRate      float64            `json:"success_rate"`
	FailedPlatforms  int                `json:"failed_platforms"`
	CriticalIssues   []string           `json:"critical_issues"`
	Platforms        []platformStat     `json:"platforms"`
	Errors           []string           `json:"errors"`
	NotificationSent bool               `json:"notification_sent"`
}

func (h *handlers) getStats(c *gin.Context) {
	last := h.Cycles.Last()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no monitoring cycle has completed yet"})
		return
	}

	a := last.Assessment
	stats := statsResponse{
		MonitoringID:    last.MonitoringID,
		CompletedAt:     last.CompletedAt,
		AgeSeconds:      h.Now().Sub(last.CompletedAt).Seconds(),
		Success:         last.Success,
		RiskLevel:       a.RiskLevel,
		OverallHealth:   a.OverallHealth,
		JobsAnalyzed:    a.JobsAnalyzed,
		FailedJobs:      a.FailedJobsCount,
		SuccessRate:     a.OverallSuccessRate,
		FailedPlatforms: a.FailedPlatforms,
		CriticalIssues:  a.CriticalIssues,
		Platforms:       make([]platformStat, 0, len(last.PlatformSummaries)),
		Errors:          last.Errors,
	}
	if last.Notification != nil {
		stats.NotificationSent = last.Notification.Success
	}
	for _, s := range last.PlatformSummaries {
		stats.Platforms = append(stats.Platforms, platformStat{
			Platform:    s.Platform,
			Status:      s.PlatformStatus,
			RiskLevel:   s.RiskLevel,
			TotalJobs:   s.TotalJobs,
			FailedJobs:  s.FailedJobs,
			SuccessRate: s.SuccessRate,
		})
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) listRecords(c *gin.Context) {
	if h.Records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": database.ErrNoWarehouse.Error()})
		return
	}

	var f database.RecordFilter
	if p := c.Query("platform"); p != "" {
		kind, err := platform.ParseKind(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Platform = string(kind)
	}
	if s := c.Query("status"); s != "" {
		if !platform.CanonicalStatus(s).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + s})
			return
		}
		f.Status = s
	}
	if v := c.Query("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		f.Since = h.Now().Add(-time.Duration(hours) * time.Hour)
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxRecordLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		f.Limit = limit
	}

	rows, err := h.Records.QueryRecent(c.Request.Context(), f)
	if err != nil {
		h.Logger.Error("failed to query records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query records"})
		return
	}

	records := make([]platform.JobStatusRecord, 0, len(rows))
	for _, row := range rows {
		r, err := persist.FromStored(row)
		if err != nil {
			h.Logger.Warn("skipping unreadable stored record", zap.String("record_id", row.RecordID), zap.Error(err))
			continue
		}
		records = append(records, r)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

type cycleRequest struct {
	Mode         string   `json:"mode"`
	MonitoringID string   `json:"monitoring_id"`
	Recipients   []string `json:"recipients"`
	From         string   `json:"from"`
	Draft        bool     `json:"draft"`
	Platforms    []string `json:"platforms"`
}

func (h *handlers) runCycle(c *gin.Context) {
	var req cycleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	opts := monitor.RunOptions{
		Mode:         req.Mode,
		MonitoringID: req.MonitoringID,
		Recipients:   req.Recipients,
		From:         req.From,
		Draft:        req.Draft,
	}
	for _, p := range req.Platforms {
		kind, err := platform.ParseKind(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.Platforms = append(opts.Platforms, kind)
	}

	report, err := h.Cycles.Run(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) listTools(c *gin.Context) {
	if h.Tools == nil {
		c.JSON(http.StatusOK, gin.H{"tools": []tools.Definition{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": h.Tools.Definitions()})
}

func (h *handlers) invokeTool(c *gin.Context) {
	name := c.Param("name")
	if h.Tools == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": tools.ErrUnknownTool.Error() + ": " + name})
		return
	}

	input, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	resp, err := h.Tools.Invoke(c.Request.Context(), name, input)
	if errors.Is(err, tools.ErrUnknownTool) {
		c.JSON(http.StatusNotFound, resp)
		return
	}
	if len(resp.ValidationErrors) > 0 {
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
