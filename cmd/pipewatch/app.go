package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/archive"
	"github.com/alphauslabs/pipewatch/internal/config"
	"github.com/alphauslabs/pipewatch/internal/database"
	"github.com/alphauslabs/pipewatch/internal/monitor"
	"github.com/alphauslabs/pipewatch/internal/notify"
	"github.com/alphauslabs/pipewatch/internal/notify/graph"
	"github.com/alphauslabs/pipewatch/internal/notify/sendgrid"
	"github.com/alphauslabs/pipewatch/internal/notify/slack"
	"github.com/alphauslabs/pipewatch/internal/persist"
	"github.com/alphauslabs/pipewatch/internal/platform"
	_ "github.com/alphauslabs/pipewatch/internal/platform/airbyte"       // Register Airbyte collector
	_ "github.com/alphauslabs/pipewatch/internal/platform/databricks"    // Register Databricks collector
	_ "github.com/alphauslabs/pipewatch/internal/platform/powerautomate" // Register Power Automate collector
	_ "github.com/alphauslabs/pipewatch/internal/platform/snowflaketask" // Register Snowflake task collector
	"github.com/alphauslabs/pipewatch/internal/server"
	"github.com/alphauslabs/pipewatch/internal/tools"
)

// app is the wired monitor with everything it depends on.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	monitor  *monitor.Monitor
	store    *persist.Coordinator
	tools    *tools.Registry
	registry *prometheus.Registry

	// records is nil when no warehouse is configured.
	records server.Records

	closers []io.Closer
}

type appOptions struct {
	// outputFile archives every cycle to this exact path.
	outputFile string

	// warehouseOnly skips the collectors and the notification sink.
	warehouseOnly bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	warehouse, err := database.NewWarehouse(ctx, cfg.Database, cfg.Snowflake, logger.Named("database"))
	switch {
	case errors.Is(err, database.ErrNoWarehouse):
		logger.Info("no warehouse configured, results will not be stored")
	case err != nil:
		return nil, fmt.Errorf("failed to initialize warehouse: %w", err)
	default:
		a.closers = append(a.closers, warehouse)
		logger.Info("connected to warehouse", zap.String("provider", cfg.Database.Provider))
	}
	a.store = persist.NewCoordinator(warehouse, logger.Named("persist"))
	if warehouse != nil {
		a.records = a.store
	}

	var collectorList []platform.Collector
	var sink notify.Sink
	if !opts.warehouseOnly {
		for _, pc := range cfg.ProviderConfigs() {
			c, err := platform.NewCollector(ctx, pc, logger.Named(string(pc.Kind)))
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to initialize %s collector: %w", pc.Kind.DisplayName(), err)
			}
			collectorList = append(collectorList, c)
			if closer, ok := c.(io.Closer); ok {
				a.closers = append(a.closers, closer)
			}
		}
		if len(collectorList) == 0 {
			logger.Warn("no platforms configured, cycles will report nothing")
		}

		sink, err = newSink(ctx, cfg, logger.Named("notify"))
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	writer, err := newArchive(ctx, cfg.Archive, opts.outputFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := writer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	monOpts := []monitor.Option{
		monitor.WithNotifier(notify.NewDispatcher(sink, logger.Named("notify"))),
		monitor.WithMetrics(monitor.NewMetrics(a.registry)),
		monitor.WithLogger(logger.Named("monitor")),
	}
	// Without a warehouse a full cycle skips storage instead of failing it.
	if warehouse != nil {
		monOpts = append(monOpts, monitor.WithPersister(a.store))
	}
	if writer != nil {
		monOpts = append(monOpts, monitor.WithArchive(writer))
	}
	a.monitor = monitor.New(collectorList, monitor.Config{
		PlatformTimeout: cfg.Monitoring.PlatformTimeout,
		Filters:         cfg.Filters(),
		From:            cfg.Notification.FromEmail,
		Recipients:      cfg.Notification.Recipients,
		Draft:           cfg.Notification.Draft,
	}, monOpts...)

	a.tools = tools.NewRegistry()
	if err := tools.RegisterBuiltins(a.tools, tools.Deps{Runner: a.monitor, Store: a.store, Logger: logger.Named("tools")}); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return a, nil
}

// Close releases collectors, the archive and the warehouse.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Sink, error) {
	n := cfg.Notification
	switch n.Provider {
	case "", "none":
		return nil, nil
	case "graph":
		tenantID, clientID, clientSecret := cfg.GraphCredentials()
		if tenantID == "" || clientID == "" || clientSecret == "" {
			logger.Warn("graph credentials missing, notifications will be previews only")
			return nil, nil
		}
		s, err := graph.New(ctx, graph.Config{
			TenantID:     tenantID,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Timeout:      cfg.Monitoring.PlatformTimeout,
			MaxRetries:   cfg.Monitoring.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize graph notifications: %w", err)
		}
		return s, nil
	case "sendgrid":
		s, err := sendgrid.New(n.SendGridAPIKey, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sendgrid notifications: %w", err)
		}
		return s, nil
	case "slack":
		s, err := slack.New(n.SlackWebhookURL, cfg.Monitoring.PlatformTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize slack notifications: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported notification provider: %s", n.Provider)
	}
}

// newArchive returns nil when archiving is off.
func newArchive(ctx context.Context, cfg config.ArchiveConfig, outputFile string) (archive.Writer, error) {
	switch {
	case outputFile != "":
		return archive.FileWriter{Path: outputFile}, nil
	case cfg.GCSBucket != "":
		w, err := archive.NewGCSWriter(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		return w, nil
	case cfg.Dir != "":
		return archive.FileWriter{Dir: cfg.Dir}, nil
	default:
		return nil, nil
	}
}
