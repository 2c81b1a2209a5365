package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/monitor"
	"github.com/alphauslabs/pipewatch/internal/server"
	"github.com/alphauslabs/pipewatch/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitoring server",
	Long:  `Start the HTTP API and run monitoring cycles on the configured interval.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "Port to listen on (default from config or PORT env var)")
	serveCmd.Flags().Bool("no-scheduler", false, "Serve the API without running scheduled cycles")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.ServerPort = port
	}
	logger.Info("starting pipewatch", zap.Any("config", cfg.Redacted()))

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(sigCtx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	router := server.NewRouter(server.Deps{
		Cycles:         a.monitor,
		Records:        a.records,
		Tools:          a.tools,
		Gatherer:       a.registry,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.Named("http"),
	})

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.ServerPort)
	// Cycles triggered over the API wait for every platform.
	writeTimeout := 2*cfg.Monitoring.PlatformTimeout + 30*time.Second
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("pipewatch listening",
			zap.String("addr", addr),
			zap.Strings("endpoints", []string{
				"GET  /health",
				"GET  /metrics",
				"GET  /api/stats",
				"GET  /api/records",
				"POST /api/cycles",
				"GET  /api/tools",
				"POST /api/tools/:name",
				"POST " + tools.InvokeProcedure,
			}))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	var scheduler *monitor.Scheduler
	if noScheduler, _ := cmd.Flags().GetBool("no-scheduler"); !noScheduler {
		interval := time.Duration(cfg.Monitoring.IntervalMinutes) * time.Minute
		scheduler = monitor.NewScheduler(a.monitor, interval, monitor.RunOptions{Mode: monitor.ModeFull}, cfg.Monitoring.MaxFailedCycles, logger.Named("scheduler"))
		go func() {
			if err := scheduler.Start(sigCtx); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received, gracefully shutting down")
	case runErr = <-errCh:
		logger.Error("stopping pipewatch", zap.Error(runErr))
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("pipewatch stopped")
	if errors.Is(runErr, monitor.ErrTooManyFailures) {
		return &exitError{code: 1, msg: runErr.Error()}
	}
	return runErr
}
