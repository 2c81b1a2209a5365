package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alphauslabs/pipewatch/internal/database"
	"github.com/alphauslabs/pipewatch/internal/persist"
	"github.com/alphauslabs/pipewatch/internal/platform"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored job records",
	Long:  "pipewatch history [--platform P] [--status S] [--hours N] [--limit N]\n\nDisplays recent job records from the warehouse, newest first.",
	RunE:  runHistory,
}

func init() {
	addHistoryFlags(historyCmd.Flags())
}

func addHistoryFlags(fs *pflag.FlagSet) {
	fs.String("platform", "", "Only records from this platform")
	fs.String("status", "", "Only records with this status (running, success, failed, cancelled, pending, unknown)")
	fs.Int("hours", 0, "Only records checked within the last N hours")
	fs.Int("limit", database.DefaultQueryLimit, "Maximum number of records")
	fs.Bool("json", false, "Print records as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	f, err := recordFilterFromFlags(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, logger, appOptions{warehouseOnly: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.records == nil {
		return database.ErrNoWarehouse
	}

	rows, err := a.records.QueryRecent(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	records := make([]platform.JobStatusRecord, 0, len(rows))
	for _, row := range rows {
		if r, err := persist.FromStored(row); err == nil {
			records = append(records, r)
		}
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No records found.")
		return nil
	}

	fmt.Fprintf(out, "%-16s  %-36s  %-10s  %-20s  %s\n", "PLATFORM", "JOB", "STATUS", "CHECKED", "ERROR")
	fmt.Fprintln(out, strings.Repeat("─", 110))
	for _, r := range records {
		name := r.JobName
		if name == "" {
			name = r.JobID
		}
		if len(name) > 34 {
			name = name[:31] + "..."
		}
		errMsg := ""
		if r.ErrorMessage != nil {
			errMsg = *r.ErrorMessage
		}
		fmt.Fprintf(out, "%-16s  %-36s  %-10s  %-20s  %s\n",
			r.Platform.DisplayName(), name, r.Status, r.CheckedAt.UTC().Format("2006-01-02 15:04:05"), errMsg)
	}
	return nil
}

func recordFilterFromFlags(cmd *cobra.Command) (database.RecordFilter, error) {
	p, _ := cmd.Flags().GetString("platform")
	status, _ := cmd.Flags().GetString("status")
	hours, _ := cmd.Flags().GetInt("hours")
	limit, _ := cmd.Flags().GetInt("limit")

	f := database.RecordFilter{Status: status, Limit: limit}
	if p != "" {
		kind, err := platform.ParseKind(p)
		if err != nil {
			return f, err
		}
		f.Platform = string(kind)
	}
	if status != "" && !platform.CanonicalStatus(status).Valid() {
		return f, fmt.Errorf("invalid status: %s", status)
	}
	if hours > 0 {
		f.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	return f, nil
}
