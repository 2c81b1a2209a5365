package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alphauslabs/pipewatch/internal/config"
	"github.com/alphauslabs/pipewatch/internal/monitor"
	"github.com/alphauslabs/pipewatch/internal/platform"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one monitoring cycle",
	Long: "pipewatch run [--mode full|health]\n\n" +
		"Polls every configured platform once and prints a summary.\n" +
		"Mode full also stores results and sends a notification when needed.\n" +
		"Exits 1 when the cycle fails, or in health mode when risk is HIGH or above.",
	RunE: runOnce,
}

func init() {
	addRunFlags(runCmd.Flags())
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.String("mode", monitor.ModeFull, "Cycle mode: full or health")
	fs.StringSlice("emails", nil, "Comma-separated notification recipients (default from config)")
	fs.String("from-email", "", "Sender mailbox (default from config)")
	fs.String("monitoring-id", "", "Monitoring id to use instead of a generated one")
	fs.String("output-file", "", "Write the cycle result as JSON to this file")
	fs.Bool("draft", false, "Save the notification as a draft instead of sending it")
	fs.StringSlice("platforms", nil, "Comma-separated subset of platforms to poll")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts, err := runOptionsFromFlags(cmd, cfg)
	if err != nil {
		return err
	}
	outputFile, _ := cmd.Flags().GetString("output-file")

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, appOptions{outputFile: outputFile})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.monitor.Run(ctx, opts)
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), report)

	switch {
	case !report.Success:
		return &exitError{code: 1, msg: "monitoring cycle failed"}
	case report.Mode == monitor.ModeHealth && report.Assessment.RiskLevel.AtLeast(platform.RiskHigh):
		return &exitError{code: 1, msg: fmt.Sprintf("health check: risk level %s", report.Assessment.RiskLevel)}
	}
	return nil
}

func runOptionsFromFlags(cmd *cobra.Command, cfg *config.Config) (monitor.RunOptions, error) {
	mode, _ := cmd.Flags().GetString("mode")
	emails, _ := cmd.Flags().GetStringSlice("emails")
	from, _ := cmd.Flags().GetString("from-email")
	monitoringID, _ := cmd.Flags().GetString("monitoring-id")
	draft, _ := cmd.Flags().GetBool("draft")
	names, _ := cmd.Flags().GetStringSlice("platforms")

	opts := monitor.RunOptions{
		Mode:         mode,
		MonitoringID: monitoringID,
		Recipients:   emails,
		From:         from,
		Draft:        draft || cfg.Notification.Draft,
	}
	for _, name := range names {
		kind, err := platform.ParseKind(name)
		if err != nil {
			return opts, err
		}
		opts.Platforms = append(opts.Platforms, kind)
	}
	return opts, nil
}

func printReport(w io.Writer, r *monitor.Report) {
	a := r.Assessment
	fmt.Fprintf(w, "Monitoring ID:  %s\n", r.MonitoringID)
	fmt.Fprintf(w, "Mode:           %s\n", r.Mode)
	fmt.Fprintf(w, "Duration:       %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Risk level:     %s\n", a.RiskLevel)
	fmt.Fprintf(w, "Overall health: %s\n", a.OverallHealth)
	fmt.Fprintf(w, "Jobs analyzed:  %d (%d failed, %.1f%% success)\n\n", a.JobsAnalyzed, a.FailedJobsCount, a.OverallSuccessRate)

	fmt.Fprintf(w, "%-16s  %-8s  %6s  %6s  %8s  %s\n", "PLATFORM", "RISK", "JOBS", "FAILED", "SUCCESS", "STATUS")
	fmt.Fprintln(w, strings.Repeat("─", 90))
	for _, pr := range r.PlatformResults {
		if !pr.Success || pr.Summary == nil {
			fmt.Fprintf(w, "%-16s  %-8s  %6s  %6s  %8s  %s\n", pr.Platform.DisplayName(), "-", "-", "-", "-", "unreachable: "+pr.Error)
			continue
		}
		s := pr.Summary
		fmt.Fprintf(w, "%-16s  %-8s  %6d  %6d  %7.1f%%  %s\n",
			pr.Platform.DisplayName(), s.RiskLevel, s.TotalJobs, s.FailedJobs, s.SuccessRate, s.PlatformStatus)
	}

	if len(a.CriticalIssues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, issue := range a.CriticalIssues {
			fmt.Fprintf(w, "  • %s\n", issue)
		}
	}
	if r.Storage != nil {
		fmt.Fprintf(w, "\nStorage:        %s\n", outcome(r.Storage.Success))
	}
	if r.Notification != nil {
		fmt.Fprintf(w, "Notification:   %s (%s)\n", outcome(r.Notification.Success), r.Notification.Mode)
	}
	if r.ArchivedTo != "" {
		fmt.Fprintf(w, "Archived to:    %s\n", r.ArchivedTo)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  • %s\n", e)
		}
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
